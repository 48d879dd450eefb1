package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AuditRecord is one executed-or-rejected trade outcome, persisted for
// post-hoc review alongside the structured log line.
type AuditRecord struct {
	MarketKind     string
	Symbol         string
	Side           string
	Amount         decimal.Decimal
	Leverage       int
	Status         string
	OrderID        string
	IdempotencyKey string
	Message        string
	Time           time.Time
}

func (s *Store) AppendAudit(r AuditRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_log
		(market_kind, symbol, side, amount, leverage, status, order_id, idempotency_key, message, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MarketKind, r.Symbol, r.Side, r.Amount.String(), r.Leverage,
		r.Status, r.OrderID, r.IdempotencyKey, r.Message, r.Time.UTC())
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// RecentAudit returns up to limit most recent audit records.
func (s *Store) RecentAudit(limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(`
		SELECT market_kind, symbol, side, amount, leverage, status, order_id, idempotency_key, message, time
		FROM audit_log ORDER BY time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r      AuditRecord
			amount string
		)
		if err := rows.Scan(&r.MarketKind, &r.Symbol, &r.Side, &amount,
			&r.Leverage, &r.Status, &r.OrderID, &r.IdempotencyKey,
			&r.Message, &r.Time); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode audit amount: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
