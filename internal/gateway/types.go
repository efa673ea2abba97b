package gateway

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/models"
)

// OrderRequest carries the fields shared by transaction and payment form creation
type OrderRequest struct {
	Amount      decimal.Decimal
	Currency    models.Currency
	TrackingID  string
	CallbackURL string
}

type createTransactionBody struct {
	Token               string      `json:"token"`
	Amount              json.Number `json:"amount"`
	ClientTransactionID string      `json:"client_transaction_id"`
	CallbackURL         string      `json:"callback_url"`
	MerchantUUID        string      `json:"merchant_uuid"`
}

type createPaymentFormBody struct {
	Amount              json.Number `json:"amount"`
	Token               string      `json:"token"`
	FiatCurrency        string      `json:"fiat_currency"`
	ClientTransactionID string      `json:"client_transaction_id"`
	Payform             bool        `json:"payform"`
	MerchantUUID        string      `json:"merchant_uuid"`
	CallBackURL         string      `json:"call_back_url"`
	StrictCurrency      bool        `json:"strict_currency"`
}

type getTransactionBody struct {
	TrackerID string `json:"tracker_id"`
}

// Transaction is the gateway answer to transaction creation
type Transaction struct {
	TrackerID string `json:"tracker_id"`
	Status    string `json:"status,omitempty"`
	Refer     string `json:"refer,omitempty"`
}

// PaymentForm is the gateway answer to payment form creation
type PaymentForm struct {
	PaymentURL string `json:"payment_url"`
	URL        string `json:"url"`
}

// Link returns the URL the requester should open to pay
func (f PaymentForm) Link() string {
	if f.PaymentURL != "" {
		return f.PaymentURL
	}
	return f.URL
}

// TransactionStatus is the gateway answer to a status lookup.
// Refer holds the payout address when the gateway has assigned one.
type TransactionStatus struct {
	TrackerID string `json:"tracker_id"`
	Status    string `json:"status"`
	Refer     string `json:"refer"`
}

// WebhookEvent is the payload the gateway posts to the callback URL
type WebhookEvent struct {
	ClientTransactionID string `json:"client_transaction_id"`
	TrackerID           string `json:"tracker_id,omitempty"`
	Status              string `json:"status"`
}

// Confirmed reports whether the webhook announces a settled payment
func (e WebhookEvent) Confirmed() bool {
	switch strings.ToLower(strings.TrimSpace(e.Status)) {
	case "confirmed", "paid", "success":
		return true
	default:
		return false
	}
}
