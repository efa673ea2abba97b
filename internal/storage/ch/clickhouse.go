package ch

import (
	"context"
	"crypto/tls"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/storage"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
)

// AuditLog stores purchase audit events in ClickHouse
type AuditLog struct {
	conn clickhouse.Conn
}

// NewAuditLog creates a new ClickHouse connection for the audit log
func NewAuditLog(host string, port int, database, user, password string, useTLS bool) (*AuditLog, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &AuditLog{conn: conn}, nil
}

// Record appends one event. The table is managed via migrations.
func (a *AuditLog) Record(ctx context.Context, event models.AuditEvent) error {
	err := a.conn.Exec(ctx, `INSERT INTO purchase_audit
		(id, created_at, kind, tracking_id, gateway_tracker_id, product_id, product_name,
		 requester_id, username, amount, currency, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.CreatedAt, string(event.Kind), event.TrackingID, event.GatewayTrackerID,
		event.ProductID, event.ProductName, event.RequesterID, event.Username,
		event.Amount, string(event.Currency), event.Detail)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Recent returns the last N events
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := a.conn.Query(ctx, `SELECT id, created_at, kind, tracking_id, gateway_tracker_id,
		product_id, product_name, requester_id, username, amount, currency, detail
		FROM purchase_audit ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			event    models.AuditEvent
			kind     string
			currency string
			amount   decimal.Decimal
		)
		if err := rows.Scan(&event.ID, &event.CreatedAt, &kind, &event.TrackingID, &event.GatewayTrackerID,
			&event.ProductID, &event.ProductName, &event.RequesterID, &event.Username,
			&amount, &currency, &event.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Kind = models.AuditKind(kind)
		event.Currency = models.Currency(currency)
		event.Amount = amount
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the database connection
func (a *AuditLog) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

var _ storage.AuditLog = (*AuditLog)(nil)
