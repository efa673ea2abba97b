package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	testCases := []struct {
		label   string
		want    string
		wantErr bool
	}{
		{label: "$1,200.00", want: "1200"},
		{label: "$150.00", want: "150"},
		{label: " 99.5 ", want: "99.5"},
		{label: "$0.00", wantErr: true},
		{label: "free", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.label, func(t *testing.T) {
			got, err := ParsePrice(tc.label)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	products := c.Products()
	require.NotEmpty(t, products)

	for _, p := range products {
		_, err := c.Price(p.ID)
		assert.NoError(t, err, "product %s must have a parseable price", p.ID)
	}

	_, ok := c.Product(EntitlementProductID)
	assert.True(t, ok)

	_, err := c.Price("missing")
	assert.Error(t, err)
}

func TestCurrencies(t *testing.T) {
	assert.Len(t, Currencies(), 10)
	assert.True(t, IsSupportedCurrency("USDTTRC"))
	assert.False(t, IsSupportedCurrency("DOGE"))
}
