package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a purchase attempt
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Currency is a gateway token code such as USDTTRC or LTC
type Currency string

// PendingTransaction is one purchase attempt tracked from order creation to delivery
type PendingTransaction struct {
	TrackingID       string          `json:"tracking_id"`
	ProductID        string          `json:"product_id"`
	RequesterID      int64           `json:"requester_id"`
	Username         string          `json:"username,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         Currency        `json:"currency"`
	GatewayTrackerID string          `json:"gateway_tracker_id"`
	PaymentURL       string          `json:"payment_url"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      time.Time       `json:"completed_at,omitempty"`
}

// Product is a catalog entry offered for sale
type Product struct {
	ID          string
	Name        string
	PriceLabel  string
	Description string
	Features    []string
}

// CurrencyOption is a selectable payment currency
type CurrencyOption struct {
	Code  Currency
	Label string
}

// RelayQuery is a lookup request forwarded to the relay peer
type RelayQuery struct {
	Name  string
	State string
	City  string
}

// RelayResult is the aggregated reply of the relay peer
type RelayResult struct {
	Text     string
	File     []byte
	FileName string
}

// HasFile reports whether the reply carried an attachment
func (r RelayResult) HasFile() bool {
	return len(r.File) > 0
}

// AuditKind classifies an audit record
type AuditKind string

const (
	AuditOrderCreated    AuditKind = "order_created"
	AuditOrderOrphaned   AuditKind = "order_orphaned"
	AuditDelivered       AuditKind = "delivered"
	AuditManualDelivery  AuditKind = "manual_delivery"
	AuditDeliveryFailed  AuditKind = "delivery_failed"
	AuditWebhookUnknown  AuditKind = "webhook_unknown"
	AuditEntitlementGive AuditKind = "entitlement_granted"
)

// AuditEvent is an operational record about a purchase
type AuditEvent struct {
	ID               string
	Kind             AuditKind
	TrackingID       string
	GatewayTrackerID string
	ProductID        string
	ProductName      string
	RequesterID      int64
	Username         string
	Amount           decimal.Decimal
	Currency         Currency
	Detail           string
	CreatedAt        time.Time
}
