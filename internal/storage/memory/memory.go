package memory

import (
	"context"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/storage"
)

type entry struct {
	tx        models.PendingTransaction
	expiresAt time.Time
}

// Store is an in-process implementation of storage.Storage.
// A single mutex serializes every per-key read-modify-write.
type Store struct {
	mu           sync.Mutex
	transactions map[string]entry
	entitled     map[int64]struct{}
	usage        map[int64]int

	ttl time.Duration
	now func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithTTL expires transactions ttl after they were stored. Zero keeps them for the
// lifetime of the process.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithNow overrides the clock used for expiry
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		transactions: make(map[string]entry),
		entitled:     make(map[int64]struct{}),
		usage:        make(map[int64]int),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores or replaces a transaction
func (s *Store) Put(_ context.Context, tx models.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{tx: tx}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.transactions[tx.TrackingID] = e
	s.cleanupLocked()
	return nil
}

// Get returns a transaction by tracking id
func (s *Store) Get(_ context.Context, trackingID string) (models.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(trackingID)
	if !ok {
		return models.PendingTransaction{}, storage.ErrNotFound
	}
	return e.tx, nil
}

// Delete removes a transaction; unknown ids are ignored
func (s *Store) Delete(_ context.Context, trackingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transactions, trackingID)
	return nil
}

// Update applies fn to a copy of the record and stores it if fn succeeds
func (s *Store) Update(_ context.Context, trackingID string, fn storage.UpdateFunc) (models.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(trackingID)
	if !ok {
		return models.PendingTransaction{}, storage.ErrNotFound
	}

	updated := e.tx
	if err := fn(&updated); err != nil {
		return e.tx, err
	}
	e.tx = updated
	s.transactions[trackingID] = e
	return updated, nil
}

// DeleteIf removes the record while it still has the given status
func (s *Store) DeleteIf(_ context.Context, trackingID string, status models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(trackingID)
	if !ok {
		return false, storage.ErrNotFound
	}
	if e.tx.Status != status {
		return false, nil
	}
	delete(s.transactions, trackingID)
	return true, nil
}

// Grant adds a requester to the unlimited allow-set
func (s *Store) Grant(_ context.Context, requesterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entitled[requesterID] = struct{}{}
	return nil
}

// HasEntitlement reports allow-set membership
func (s *Store) HasEntitlement(_ context.Context, requesterID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entitled[requesterID]
	return ok, nil
}

// Consume takes one free lookup if the limit allows it
func (s *Store) Consume(_ context.Context, requesterID int64, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.usage[requesterID]
	if used >= limit {
		return used, false, nil
	}
	used++
	s.usage[requesterID] = used
	return used, true, nil
}

// Refund returns a consumed lookup
func (s *Store) Refund(_ context.Context, requesterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usage[requesterID] > 0 {
		s.usage[requesterID]--
	}
	return nil
}

// Usage returns the consumed lookup count
func (s *Store) Usage(_ context.Context, requesterID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.usage[requesterID], nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (s *Store) lookupLocked(trackingID string) (entry, bool) {
	e, ok := s.transactions[trackingID]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.transactions, trackingID)
		return entry{}, false
	}
	return e, true
}

// cleanupLocked drops expired entries; it runs on writes only
func (s *Store) cleanupLocked() {
	if s.ttl <= 0 {
		return
	}
	now := s.now()
	for id, e := range s.transactions {
		if !now.Before(e.expiresAt) {
			delete(s.transactions, id)
		}
	}
}

var _ storage.Storage = (*Store)(nil)
