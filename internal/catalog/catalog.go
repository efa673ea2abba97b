package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/models"
)

// EntitlementProductID is the product that grants unlimited lookups
const EntitlementProductID = "lookup_unlimited"

// Catalog is the static, read-only product list
type Catalog struct {
	products []models.Product
	byID     map[string]models.Product
}

// New builds a catalog from the given products, keeping their order
func New(products []models.Product) *Catalog {
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Catalog{products: products, byID: byID}
}

// Default returns the storefront catalog
func Default() *Catalog {
	return New(defaultProducts)
}

// Products returns all products in display order
func (c *Catalog) Products() []models.Product {
	out := make([]models.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Product looks a product up by id
func (c *Catalog) Product(id string) (models.Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Price returns the numeric price of a product
func (c *Catalog) Price(id string) (decimal.Decimal, error) {
	p, ok := c.byID[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown product %q", id)
	}
	return ParsePrice(p.PriceLabel)
}

// ParsePrice converts a display price such as "$1,200.00" into a decimal
func ParsePrice(label string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(label)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	price, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", label, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be positive, got %q", label)
	}
	return price, nil
}

// Currencies returns the payment currencies accepted by the gateway
func Currencies() []models.CurrencyOption {
	out := make([]models.CurrencyOption, len(currencies))
	copy(out, currencies)
	return out
}

// IsSupportedCurrency reports whether code is one of the accepted currencies
func IsSupportedCurrency(code models.Currency) bool {
	for _, c := range currencies {
		if c.Code == code {
			return true
		}
	}
	return false
}

var currencies = []models.CurrencyOption{
	{Code: "LTC", Label: "LTC"},
	{Code: "USDTTRC", Label: "USDT (TRC20)"},
	{Code: "USDTBSC", Label: "USDT (BEP20)"},
	{Code: "USDTPOLY", Label: "USDT (POLYGON)"},
	{Code: "USDTTON", Label: "USDT (TON)"},
	{Code: "TRX", Label: "TRX"},
	{Code: "TON", Label: "TON"},
	{Code: "BTC", Label: "BTC"},
	{Code: "ETHARB", Label: "ETH (Arbitrum)"},
	{Code: "USDCARB", Label: "USDC (Arbitrum)"},
}

var defaultProducts = []models.Product{
	{
		ID:          "starter_bundle",
		Name:        "📦 Starter Source Bundle",
		PriceLabel:  "$150.00",
		Description: "Project templates and build scripts for small bot projects",
		Features:    []string{"Full source code", "Build scripts", "Setup guide"},
	},
	{
		ID:          "automation_suite",
		Name:        "🤖 Automation Suite",
		PriceLabel:  "$300.00",
		Description: "Scheduling and messaging automation toolkit with multi-account support",
		Features:    []string{"Scheduler", "Message templates", "Multi-account sessions"},
	},
	{
		ID:          "api_toolkit",
		Name:        "🔌 API Toolkit",
		PriceLabel:  "$1,200.00",
		Description: "Client libraries and examples for third-party HTTP APIs",
		Features:    []string{"Typed clients", "Retry helpers", "Examples"},
	},
	{
		ID:          "desktop_license",
		Name:        "🔑 Desktop App Lifetime License",
		PriceLabel:  "$250.00",
		Description: "Lifetime license key for the desktop application",
		Features:    []string{"Lifetime updates", "One device"},
	},
	{
		ID:          EntitlementProductID,
		Name:        "♾ Unlimited Lookups",
		PriceLabel:  "$50.00",
		Description: "Removes the free lookup limit from the /lookup command",
		Features:    []string{"Unlimited /lookup queries"},
	},
}
