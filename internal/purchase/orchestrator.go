package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront/internal/audit"
	"storefront/internal/catalog"
	"storefront/internal/delivery"
	"storefront/internal/gateway"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/storage"
)

// Gateway is the subset of the payment gateway client used for purchases
type Gateway interface {
	CreateTransaction(ctx context.Context, req gateway.OrderRequest) (*gateway.Transaction, error)
	CreatePaymentForm(ctx context.Context, req gateway.OrderRequest) (*gateway.PaymentForm, error)
	CheckStatus(ctx context.Context, trackerID string) (*gateway.TransactionStatus, error)
}

// Deliverer hands a paid transaction to the buyer
type Deliverer interface {
	Deliver(ctx context.Context, tx models.PendingTransaction) (delivery.Result, error)
}

// Outcome is the result class of a verification
type Outcome int

const (
	// OutcomeDelivered means this call confirmed the payment and ran delivery
	OutcomeDelivered Outcome = iota
	// OutcomeAlreadyCompleted means an earlier call already delivered
	OutcomeAlreadyCompleted
	// OutcomePending means the gateway has not seen the payment yet
	OutcomePending
	// OutcomeUnrecognized means the gateway answered with any other status
	OutcomeUnrecognized
	// OutcomeIgnored is used for webhook events that do not confirm a payment
	OutcomeIgnored
	// OutcomeUnknownTransaction is used for webhook events with no stored record
	OutcomeUnknownTransaction
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeAlreadyCompleted:
		return "already_completed"
	case OutcomePending:
		return "pending"
	case OutcomeUnrecognized:
		return "unrecognized"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeUnknownTransaction:
		return "unknown_transaction"
	default:
		return "unknown"
	}
}

// VerifyResult reports what a verification did
type VerifyResult struct {
	Outcome       Outcome
	GatewayStatus string
	Transaction   models.PendingTransaction
	Delivery      delivery.Result
	// DeliveryErr is set when the payment was confirmed but delivery failed
	DeliveryErr error
}

// OrderInput is a product and currency selection by a requester
type OrderInput struct {
	ProductID   string
	Currency    models.Currency
	RequesterID int64
	Username    string
}

// Orchestrator drives purchases from order creation to delivery
type Orchestrator struct {
	catalog     *catalog.Catalog
	gateway     Gateway
	store       storage.TransactionStore
	deliverer   Deliverer
	reporter    *audit.Reporter
	metrics     *metrics.Metrics
	callbackURL string
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithNow overrides the clock used for tracking ids and timestamps
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator
func New(cat *catalog.Catalog, gw Gateway, store storage.TransactionStore, deliverer Deliverer,
	reporter *audit.Reporter, m *metrics.Metrics, callbackURL string, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     cat,
		gateway:     gw,
		store:       store,
		deliverer:   deliverer,
		reporter:    reporter,
		metrics:     m,
		callbackURL: callbackURL,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateOrder registers the order at the gateway and stores it as PENDING
func (o *Orchestrator) CreateOrder(ctx context.Context, in OrderInput) (models.PendingTransaction, error) {
	product, ok := o.catalog.Product(in.ProductID)
	if !ok {
		return models.PendingTransaction{}, fmt.Errorf("%w: %s", ErrUnknownProduct, in.ProductID)
	}
	if !catalog.IsSupportedCurrency(in.Currency) {
		return models.PendingTransaction{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, in.Currency)
	}
	amount, err := catalog.ParsePrice(product.PriceLabel)
	if err != nil {
		return models.PendingTransaction{}, fmt.Errorf("invalid price for %s: %w", product.ID, err)
	}

	now := o.now()
	trackingID := models.NewTrackingID(product.ID, now, in.RequesterID)
	logger := o.logger.With(
		zap.String("tracking_id", trackingID),
		zap.String("product_id", product.ID),
		zap.Int64("chat_id", in.RequesterID),
	)

	req := gateway.OrderRequest{
		Amount:      amount,
		Currency:    in.Currency,
		TrackingID:  trackingID,
		CallbackURL: o.callbackURL,
	}

	created, err := o.gateway.CreateTransaction(ctx, req)
	if err != nil {
		o.metrics.OrderFailures.WithLabelValues("transaction").Inc()
		logger.Error("Failed to create gateway transaction", zap.Error(err))
		return models.PendingTransaction{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	tx := models.PendingTransaction{
		TrackingID:       trackingID,
		ProductID:        product.ID,
		RequesterID:      in.RequesterID,
		Username:         in.Username,
		Amount:           amount,
		Currency:         in.Currency,
		GatewayTrackerID: created.TrackerID,
		Status:           models.StatusPending,
		CreatedAt:        now,
	}

	form, err := o.gateway.CreatePaymentForm(ctx, req)
	if err != nil {
		// The gateway transaction stays orphaned; it is not rolled back.
		o.metrics.OrderFailures.WithLabelValues("payform").Inc()
		logger.Error("Payment form failed after transaction was created, gateway transaction is orphaned",
			zap.String("tracker_id", created.TrackerID),
			zap.Error(err),
		)
		o.reporter.Report(ctx, audit.FromTransaction(models.AuditOrderOrphaned, tx, product.Name, err.Error()))
		return models.PendingTransaction{}, fmt.Errorf("failed to create payment form: %w", err)
	}
	tx.PaymentURL = form.Link()

	if err := o.store.Put(ctx, tx); err != nil {
		o.metrics.OrderFailures.WithLabelValues("store").Inc()
		logger.Error("Failed to store transaction", zap.Error(err))
		return models.PendingTransaction{}, fmt.Errorf("failed to store transaction: %w", err)
	}

	o.metrics.OrdersCreated.WithLabelValues(product.ID, string(in.Currency)).Inc()
	o.reporter.Report(ctx, audit.FromTransaction(models.AuditOrderCreated, tx, product.Name, ""))
	logger.Info("Order created",
		zap.String("tracker_id", tx.GatewayTrackerID),
		zap.String("amount", amount.String()),
		zap.String("currency", string(in.Currency)),
	)
	return tx, nil
}

// Verify checks the payment with the gateway and delivers on confirmation.
// It is safe to call any number of times; delivery happens at most once.
func (o *Orchestrator) Verify(ctx context.Context, trackingID string) (VerifyResult, error) {
	tx, err := o.get(ctx, trackingID)
	if err != nil {
		o.metrics.Verifications.WithLabelValues("not_found").Inc()
		return VerifyResult{}, err
	}
	if tx.Status == models.StatusCompleted {
		o.metrics.Verifications.WithLabelValues(OutcomeAlreadyCompleted.String()).Inc()
		return VerifyResult{Outcome: OutcomeAlreadyCompleted, Transaction: tx}, nil
	}

	status, err := o.gateway.CheckStatus(ctx, tx.GatewayTrackerID)
	if err != nil {
		o.metrics.Verifications.WithLabelValues("error").Inc()
		o.logger.Error("Failed to check payment status",
			zap.String("tracking_id", trackingID),
			zap.String("tracker_id", tx.GatewayTrackerID),
			zap.Error(err),
		)
		return VerifyResult{}, fmt.Errorf("failed to check status: %w", err)
	}

	res := VerifyResult{GatewayStatus: status.Status, Transaction: tx}
	switch classify(status.Status) {
	case statusConfirmed:
		res, err = o.claimAndDeliver(ctx, trackingID)
		res.GatewayStatus = status.Status
	case statusPending:
		res.Outcome = OutcomePending
	default:
		res.Outcome = OutcomeUnrecognized
		o.logger.Warn("Unrecognized payment status",
			zap.String("tracking_id", trackingID),
			zap.String("status", status.Status),
		)
	}
	if err != nil {
		return res, err
	}

	o.metrics.Verifications.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

// ConfirmFromWebhook handles a gateway callback. It shares the claim with Verify,
// so a payment confirmed on both paths is delivered once.
func (o *Orchestrator) ConfirmFromWebhook(ctx context.Context, event gateway.WebhookEvent) (VerifyResult, error) {
	logger := o.logger.With(
		zap.String("tracking_id", event.ClientTransactionID),
		zap.String("status", event.Status),
	)

	if !event.Confirmed() {
		logger.Debug("Ignoring non-confirming webhook")
		o.metrics.WebhookEvents.WithLabelValues(OutcomeIgnored.String()).Inc()
		return VerifyResult{Outcome: OutcomeIgnored}, nil
	}

	productID, requesterID, err := models.ParseTrackingID(event.ClientTransactionID)
	if err != nil {
		o.metrics.WebhookEvents.WithLabelValues("invalid").Inc()
		return VerifyResult{}, fmt.Errorf("invalid client_transaction_id: %w", err)
	}

	res, err := o.claimAndDeliver(ctx, event.ClientTransactionID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("Webhook confirms a transaction that is not stored")
		name := productID
		if p, ok := o.catalog.Product(productID); ok {
			name = p.Name
		}
		o.reporter.Report(ctx, models.AuditEvent{
			Kind:             models.AuditWebhookUnknown,
			TrackingID:       event.ClientTransactionID,
			GatewayTrackerID: event.TrackerID,
			ProductID:        productID,
			ProductName:      name,
			RequesterID:      requesterID,
			Detail:           "status " + event.Status,
		})
		o.metrics.WebhookEvents.WithLabelValues(OutcomeUnknownTransaction.String()).Inc()
		return VerifyResult{Outcome: OutcomeUnknownTransaction}, nil
	}
	if err != nil {
		o.metrics.WebhookEvents.WithLabelValues("error").Inc()
		return res, err
	}

	res.GatewayStatus = event.Status
	o.metrics.WebhookEvents.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

// claimAndDeliver flips the record to COMPLETED and delivers only if this call won the claim
func (o *Orchestrator) claimAndDeliver(ctx context.Context, trackingID string) (VerifyResult, error) {
	tx, won, err := storage.Claim(ctx, o.store, trackingID, o.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return VerifyResult{}, fmt.Errorf("%w: %s", ErrNotFound, trackingID)
		}
		return VerifyResult{}, fmt.Errorf("failed to claim transaction: %w", err)
	}
	if !won {
		return VerifyResult{Outcome: OutcomeAlreadyCompleted, Transaction: tx}, nil
	}

	o.logger.Info("Payment confirmed",
		zap.String("tracking_id", trackingID),
		zap.String("tracker_id", tx.GatewayTrackerID),
	)

	res := VerifyResult{Outcome: OutcomeDelivered, Transaction: tx}
	res.Delivery, res.DeliveryErr = o.deliverer.Deliver(ctx, tx)
	return res, nil
}

// Cancel discards a PENDING transaction. No gateway call is made.
func (o *Orchestrator) Cancel(ctx context.Context, trackingID string) error {
	removed, err := o.store.DeleteIf(ctx, trackingID, models.StatusPending)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, trackingID)
		}
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, trackingID)
	}

	o.logger.Info("Order cancelled", zap.String("tracking_id", trackingID))
	return nil
}

// PaymentAddress returns the payout address the gateway assigned to the transaction
func (o *Orchestrator) PaymentAddress(ctx context.Context, trackingID string) (string, models.PendingTransaction, error) {
	tx, err := o.get(ctx, trackingID)
	if err != nil {
		return "", tx, err
	}

	status, err := o.gateway.CheckStatus(ctx, tx.GatewayTrackerID)
	if err != nil {
		return "", tx, fmt.Errorf("failed to check status: %w", err)
	}
	if strings.TrimSpace(status.Refer) == "" {
		return "", tx, ErrNoAddress
	}
	return status.Refer, tx, nil
}

// Transaction returns the stored record
func (o *Orchestrator) Transaction(ctx context.Context, trackingID string) (models.PendingTransaction, error) {
	return o.get(ctx, trackingID)
}

func (o *Orchestrator) get(ctx context.Context, trackingID string) (models.PendingTransaction, error) {
	tx, err := o.store.Get(ctx, trackingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tx, fmt.Errorf("%w: %s", ErrNotFound, trackingID)
		}
		return tx, fmt.Errorf("failed to load transaction: %w", err)
	}
	return tx, nil
}

type statusClass int

const (
	statusOther statusClass = iota
	statusConfirmed
	statusPending
)

func classify(status string) statusClass {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CONFIRMED", "COMPLETED":
		return statusConfirmed
	case "PENDING":
		return statusPending
	default:
		return statusOther
	}
}
