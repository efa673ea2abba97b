package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"storefront/internal/audit"
	"storefront/internal/catalog"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/storage"
)

// ErrAssetMissing means the bundled file for a paid product is not on disk
var ErrAssetMissing = errors.New("delivery asset missing")

// Sender is the outbound messaging the resolver needs
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendFile(ctx context.Context, chatID int64, path, caption string) error
}

// Result describes what a delivery did
type Result struct {
	Policy Policy
	// Manual is true when the operator still has to deliver
	Manual bool
}

// Resolver executes the delivery of a confirmed transaction.
// Callers must invoke Deliver once per transaction, after winning storage.Claim.
type Resolver struct {
	catalog        *catalog.Catalog
	rules          Rules
	dir            string
	supportContact string
	sender         Sender
	entitlements   storage.EntitlementStore
	reporter       *audit.Reporter
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// Config groups the static inputs of a Resolver
type Config struct {
	Rules          Rules
	Dir            string
	SupportContact string
}

// NewResolver creates a resolver
func NewResolver(cfg Config, cat *catalog.Catalog, sender Sender, entitlements storage.EntitlementStore,
	reporter *audit.Reporter, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	return &Resolver{
		catalog:        cat,
		rules:          cfg.Rules,
		dir:            cfg.Dir,
		supportContact: cfg.SupportContact,
		sender:         sender,
		entitlements:   entitlements,
		reporter:       reporter,
		metrics:        m,
		logger:         logger,
	}
}

// Deliver sends the purchase to the requester and reports the outcome
func (r *Resolver) Deliver(ctx context.Context, tx models.PendingTransaction) (Result, error) {
	rule := r.rules.lookup(tx.ProductID)
	name := tx.ProductID
	if p, ok := r.catalog.Product(tx.ProductID); ok {
		name = p.Name
	}

	logger := r.logger.With(
		zap.String("tracking_id", tx.TrackingID),
		zap.String("product_id", tx.ProductID),
		zap.Int64("chat_id", tx.RequesterID),
		zap.Stringer("policy", rule.Policy),
	)

	var (
		res = Result{Policy: rule.Policy}
		err error
	)
	switch rule.Policy {
	case PolicyAsset:
		err = r.deliverAsset(ctx, tx, name, rule.Asset)
	case PolicyEntitlement:
		err = r.grantEntitlement(ctx, tx, name)
	default:
		res.Manual = true
		err = r.sender.SendText(ctx, tx.RequesterID, fmt.Sprintf(
			"✅ Payment confirmed!\n\nThank you for purchasing %s.\nYour license key will follow shortly. Support: %s",
			name, r.supportContact))
	}

	if err != nil {
		logger.Error("Delivery failed", zap.Error(err))
		r.metrics.Deliveries.WithLabelValues(rule.Policy.String(), "failed").Inc()
		r.reporter.Report(ctx, audit.FromTransaction(models.AuditDeliveryFailed, tx, name, err.Error()))
		return res, err
	}

	kind := models.AuditDelivered
	switch {
	case res.Manual:
		kind = models.AuditManualDelivery
	case rule.Policy == PolicyEntitlement:
		kind = models.AuditEntitlementGive
	}
	logger.Info("Purchase delivered", zap.Bool("manual", res.Manual))
	r.metrics.Deliveries.WithLabelValues(rule.Policy.String(), "ok").Inc()
	r.reporter.Report(ctx, audit.FromTransaction(kind, tx, name, ""))
	return res, nil
}

func (r *Resolver) deliverAsset(ctx context.Context, tx models.PendingTransaction, name, asset string) error {
	path := filepath.Join(r.dir, asset)
	if _, err := os.Stat(path); err != nil {
		if sendErr := r.sender.SendText(ctx, tx.RequesterID, fmt.Sprintf(
			"✅ Payment confirmed for %s, but the download is temporarily unavailable.\n"+
				"Please contact %s with your tracking ID: %s",
			name, r.supportContact, tx.TrackingID)); sendErr != nil {
			r.logger.Warn("Failed to tell requester about missing asset", zap.Error(sendErr))
		}
		return fmt.Errorf("%w: %s: %v", ErrAssetMissing, path, err)
	}

	caption := fmt.Sprintf("✅ Payment confirmed!\n\nThank you for purchasing %s. Your files are attached.", name)
	if err := r.sender.SendFile(ctx, tx.RequesterID, path, caption); err != nil {
		return fmt.Errorf("failed to send %s: %w", asset, err)
	}
	return nil
}

func (r *Resolver) grantEntitlement(ctx context.Context, tx models.PendingTransaction, name string) error {
	if err := r.entitlements.Grant(ctx, tx.RequesterID); err != nil {
		return fmt.Errorf("failed to grant entitlement: %w", err)
	}
	return r.sender.SendText(ctx, tx.RequesterID, fmt.Sprintf(
		"✅ Payment confirmed!\n\n%s is now active. Your lookups are unlimited.", name))
}
