package memory

import (
	"context"
	"sync"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// AuditLog keeps a bounded ring of the newest audit events
type AuditLog struct {
	mu     sync.RWMutex
	events []models.AuditEvent
	limit  int
}

// NewAuditLog creates an audit log that retains at most limit events
func NewAuditLog(limit int) *AuditLog {
	if limit <= 0 {
		limit = 1000
	}
	return &AuditLog{limit: limit}
}

func (a *AuditLog) Record(_ context.Context, event models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, event)
	if len(a.events) > a.limit {
		a.events = a.events[len(a.events)-a.limit:]
	}
	return nil
}

func (a *AuditLog) Recent(_ context.Context, limit int) ([]models.AuditEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > len(a.events) {
		limit = len(a.events)
	}
	out := make([]models.AuditEvent, 0, limit)
	for i := len(a.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.events[i])
	}
	return out, nil
}

func (a *AuditLog) Close() error {
	return nil
}

var _ storage.AuditLog = (*AuditLog)(nil)
