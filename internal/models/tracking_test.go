package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackingID(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	id := NewTrackingID("api_toolkit", at, -100123)

	assert.Equal(t, "api_toolkit_1700000000123_-100123", id)
	assert.True(t, strings.Contains(id, "api_toolkit"))
	assert.True(t, strings.HasSuffix(id, "_-100123"))
}

func TestParseTrackingID(t *testing.T) {
	testCases := []struct {
		name        string
		trackingID  string
		wantProduct string
		wantChat    int64
		wantErr     bool
	}{
		{name: "simple product", trackingID: "kit_1700000000000_42", wantProduct: "kit", wantChat: 42},
		{name: "product with underscores", trackingID: "automation_suite_pro_1700000000000_42", wantProduct: "automation_suite_pro", wantChat: 42},
		{name: "negative chat id", trackingID: "kit_1700000000000_-1001", wantProduct: "kit", wantChat: -1001},
		{name: "too few parts", trackingID: "kit_42", wantErr: true},
		{name: "bad chat id", trackingID: "kit_1700000000000_abc", wantErr: true},
		{name: "bad timestamp", trackingID: "kit_now_42", wantErr: true},
		{name: "empty product", trackingID: "_1700000000000_42", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			product, chat, err := ParseTrackingID(tc.trackingID)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantProduct, product)
			assert.Equal(t, tc.wantChat, chat)
		})
	}
}

func TestTrackingIDRoundTrip(t *testing.T) {
	id := NewTrackingID("lookup_unlimited", time.Now(), 777)

	product, chat, err := ParseTrackingID(id)
	require.NoError(t, err)
	assert.Equal(t, "lookup_unlimited", product)
	assert.Equal(t, int64(777), chat)
}
