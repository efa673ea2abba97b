package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// Notifier posts plain text to a chat
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Reporter records purchase events and alerts the operator chat.
// Reporting is best effort: failures are logged, never returned.
type Reporter struct {
	log         storage.AuditLog
	notifier    Notifier
	adminChatID int64
	now         func() time.Time
	logger      *zap.Logger
}

// NewReporter creates a reporter. A zero adminChatID disables chat alerts.
func NewReporter(log storage.AuditLog, notifier Notifier, adminChatID int64, logger *zap.Logger) *Reporter {
	return &Reporter{
		log:         log,
		notifier:    notifier,
		adminChatID: adminChatID,
		now:         time.Now,
		logger:      logger,
	}
}

// Report stores the event and, for events an operator must see, notifies the admin chat
func (r *Reporter) Report(ctx context.Context, event models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now()
	}

	if err := r.log.Record(ctx, event); err != nil {
		r.logger.Error("Failed to record audit event",
			zap.String("kind", string(event.Kind)),
			zap.String("tracking_id", event.TrackingID),
			zap.Error(err),
		)
	}

	if r.adminChatID == 0 || r.notifier == nil {
		return
	}
	text, ok := AdminMessage(event)
	if !ok {
		return
	}
	if err := r.notifier.SendText(ctx, r.adminChatID, text); err != nil {
		r.logger.Error("Failed to notify admin",
			zap.String("kind", string(event.Kind)),
			zap.String("tracking_id", event.TrackingID),
			zap.Error(err),
		)
	}
}

// AdminMessage renders the operator alert for an event; ok is false for
// events that are only recorded.
func AdminMessage(e models.AuditEvent) (string, bool) {
	var header string
	switch e.Kind {
	case models.AuditDelivered, models.AuditEntitlementGive:
		header = "✅ NEW SALE - AUTO-DELIVERED"
	case models.AuditManualDelivery:
		header = "⚠️ NEW SALE - NEEDS MANUAL DELIVERY"
	case models.AuditDeliveryFailed:
		header = "❌ DELIVERY FAILED - NEEDS MANUAL DELIVERY"
	case models.AuditOrderOrphaned:
		header = "⚠️ ORPHANED GATEWAY TRANSACTION"
	case models.AuditWebhookUnknown:
		header = "⚠️ WEBHOOK FOR UNKNOWN TRANSACTION"
	default:
		return "", false
	}

	user := "@" + e.Username
	if e.Username == "" {
		user = "(no username)"
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "User: %s\n", user)
	fmt.Fprintf(&b, "Chat ID: %d\n", e.RequesterID)
	product := e.ProductName
	if product == "" {
		product = e.ProductID
	}
	fmt.Fprintf(&b, "Product: %s\n", product)
	fmt.Fprintf(&b, "Amount: $%s %s\n", e.Amount.StringFixed(2), e.Currency)
	fmt.Fprintf(&b, "Tracker: %s\n", e.GatewayTrackerID)
	fmt.Fprintf(&b, "Tracking ID: %s", e.TrackingID)
	if e.Detail != "" {
		fmt.Fprintf(&b, "\nDetail: %s", e.Detail)
	}
	return b.String(), true
}

// FromTransaction fills the purchase fields of an event
func FromTransaction(kind models.AuditKind, tx models.PendingTransaction, productName, detail string) models.AuditEvent {
	return models.AuditEvent{
		Kind:             kind,
		TrackingID:       tx.TrackingID,
		GatewayTrackerID: tx.GatewayTrackerID,
		ProductID:        tx.ProductID,
		ProductName:      productName,
		RequesterID:      tx.RequesterID,
		Username:         tx.Username,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		Detail:           detail,
	}
}
