package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPublic  = "pub-key"
	testPrivate = "priv-key"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:      url,
		PublicKey:    testPublic,
		PrivateKey:   testPrivate,
		MerchantUUID: "merchant-1",
		Timeout:      2 * time.Second,
		RetryWait:    10 * time.Millisecond,
		Now:          func() time.Time { return time.Unix(1700000000, 0) },
	}, zap.NewNop())
}

func TestSign(t *testing.T) {
	sig := Sign("secret", "1700000000", []byte(`{"a":1}`))
	assert.Len(t, sig, 128)
	assert.Equal(t, sig, Sign("secret", "1700000000", []byte(`{"a":1}`)))
	assert.NotEqual(t, sig, Sign("secret", "1700000001", []byte(`{"a":1}`)))
	assert.True(t, Verify("secret", "1700000000", []byte(`{"a":1}`), sig))
	assert.False(t, Verify("other", "1700000000", []byte(`{"a":1}`), sig))
}

func TestCreateTransaction_SignsExactBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCreateTransaction, r.URL.Path)
		assert.Equal(t, testPublic, r.Header.Get(headerPublic))
		assert.Equal(t, "1700000000", r.Header.Get(headerTimestamp))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, Verify(testPrivate, r.Header.Get(headerTimestamp), body, r.Header.Get(headerSignature)))

		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "USDTTRC", got["token"])
		assert.Equal(t, 150.5, got["amount"])
		assert.Equal(t, "starter_bundle_1_42", got["client_transaction_id"])
		assert.Equal(t, "merchant-1", got["merchant_uuid"])

		_, _ = w.Write([]byte(`{"tracker_id":"trk-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tx, err := c.CreateTransaction(t.Context(), OrderRequest{
		Amount:      decimal.RequireFromString("150.50"),
		Currency:    "USDTTRC",
		TrackingID:  "starter_bundle_1_42",
		CallbackURL: "https://example.org/webhook/exnode",
	})
	require.NoError(t, err)
	assert.Equal(t, "trk-1", tx.TrackerID)
}

func TestCreatePaymentForm_FallsBackToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCreatePaymentForm, r.URL.Path)
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "USD", got["fiat_currency"])
		assert.Equal(t, true, got["payform"])
		assert.Equal(t, false, got["strict_currency"])

		_, _ = w.Write([]byte(`{"url":"https://pay.example/abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	form, err := c.CreatePaymentForm(t.Context(), OrderRequest{
		Amount:     decimal.RequireFromString("300"),
		Currency:   "BTC",
		TrackingID: "automation_suite_1_42",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", form.Link())
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got getTransactionBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "trk-9", got.TrackerID)
		_, _ = w.Write([]byte(`{"tracker_id":"trk-9","status":"PENDING","refer":"TXYZaddr"}`))
	}))
	defer srv.Close()

	st, err := newTestClient(t, srv.URL).CheckStatus(t.Context(), "trk-9")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", st.Status)
	assert.Equal(t, "TXYZaddr", st.Refer)
}

func TestRetriesNetworkErrorsThreeTimes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CheckStatus(t.Context(), "trk-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRecoversAfterTransientNetworkError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(`{"tracker_id":"trk-1","status":"COMPLETED"}`))
	}))
	defer srv.Close()

	st, err := newTestClient(t, srv.URL).CheckStatus(t.Context(), "trk-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", st.Status)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CheckStatus(t.Context(), "trk-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "boom")
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, int32(1), hits.Load())
}

func TestWebhookEventConfirmed(t *testing.T) {
	for status, want := range map[string]bool{
		"confirmed": true,
		"PAID":      true,
		"success":   true,
		"pending":   false,
		"":          false,
		"failed":    false,
	} {
		assert.Equal(t, want, WebhookEvent{Status: status}.Confirmed(), status)
	}
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.True(t, IsNetworkError(io.EOF))
	assert.True(t, IsNetworkError(io.ErrUnexpectedEOF))
	assert.False(t, IsNetworkError(errors.New("bad json")))
}
