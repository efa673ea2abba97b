package storage

import (
	"context"
	"errors"
	"time"

	"storefront/internal/models"
)

var (
	// ErrNotFound is returned when no transaction exists for the tracking id
	ErrNotFound = errors.New("transaction not found")
	// ErrSkip may be returned from an Update callback to leave the record untouched
	ErrSkip = errors.New("update skipped")
)

// UpdateFunc mutates a transaction in place. Returning an error aborts the update
// and the stored record is left unchanged.
type UpdateFunc func(tx *models.PendingTransaction) error

// TransactionStore holds purchase attempts keyed by tracking id.
// Every read-modify-write on a single key is atomic.
type TransactionStore interface {
	Put(ctx context.Context, tx models.PendingTransaction) error
	// Get returns ErrNotFound when the tracking id is unknown or expired
	Get(ctx context.Context, trackingID string) (models.PendingTransaction, error)
	Delete(ctx context.Context, trackingID string) error

	// Update applies fn atomically and returns the stored result. When fn fails the
	// record is returned as it was read, together with fn's error.
	Update(ctx context.Context, trackingID string, fn UpdateFunc) (models.PendingTransaction, error)

	// DeleteIf removes the record only while it still has the given status.
	// It reports whether the record was removed.
	DeleteIf(ctx context.Context, trackingID string, status models.Status) (bool, error)
}

// EntitlementStore is the allow-set of requesters with unlimited lookups
type EntitlementStore interface {
	Grant(ctx context.Context, requesterID int64) error
	HasEntitlement(ctx context.Context, requesterID int64) (bool, error)
}

// UsageCounter tracks how many free lookups each requester has consumed
type UsageCounter interface {
	// Consume takes one unit if fewer than limit were used and reports the new total
	Consume(ctx context.Context, requesterID int64, limit int) (used int, ok bool, err error)
	// Refund gives back a unit taken by Consume
	Refund(ctx context.Context, requesterID int64) error
	Usage(ctx context.Context, requesterID int64) (int, error)
}

// AuditLog persists operational purchase events
type AuditLog interface {
	Record(ctx context.Context, event models.AuditEvent) error
	// Recent returns the newest events first
	Recent(ctx context.Context, limit int) ([]models.AuditEvent, error)
	Close() error
}

// Storage groups the key-value stores that back one running bot
type Storage interface {
	TransactionStore
	EntitlementStore
	UsageCounter
	Close() error
}

// Claim atomically moves a PENDING transaction to COMPLETED. won is true only for the
// caller that performed the transition; everyone else sees the already completed record.
func Claim(ctx context.Context, store TransactionStore, trackingID string, at time.Time) (tx models.PendingTransaction, won bool, err error) {
	tx, err = store.Update(ctx, trackingID, func(cur *models.PendingTransaction) error {
		if cur.Status == models.StatusCompleted {
			return ErrSkip
		}
		cur.Status = models.StatusCompleted
		cur.CompletedAt = at
		return nil
	})
	if errors.Is(err, ErrSkip) {
		return tx, false, nil
	}
	if err != nil {
		return tx, false, err
	}
	return tx, true, nil
}
