package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EquitySnapshot is one append-only row of the equity log. The risk
// validator reads only the latest row; new rows are produced on a slow
// cadence by the full-equity computation.
type EquitySnapshot struct {
	Total       decimal.Decimal
	Spot        decimal.Decimal
	Futures     decimal.Decimal
	Forex       decimal.Decimal
	Unrealized  decimal.Decimal
	NetDeposits decimal.Decimal
	Time        time.Time
}

// AppendEquity inserts a new snapshot row.
func (s *Store) AppendEquity(e EquitySnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO equity_snapshots
		(total, spot, futures, forex, unrealized, net_deposits, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Total.String(), e.Spot.String(), e.Futures.String(),
		e.Forex.String(), e.Unrealized.String(), e.NetDeposits.String(),
		e.Time.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append equity snapshot: %w", err)
	}
	return nil
}

// LatestEquity returns the most recent snapshot. The second return is
// false when the log is empty.
func (s *Store) LatestEquity() (EquitySnapshot, bool, error) {
	row := s.db.QueryRow(`
		SELECT total, spot, futures, forex, unrealized, net_deposits, time
		FROM equity_snapshots ORDER BY time DESC, id DESC LIMIT 1`)
	return scanEquity(row)
}

// EquityAt returns the most recent snapshot at or before t.
func (s *Store) EquityAt(t time.Time) (EquitySnapshot, bool, error) {
	row := s.db.QueryRow(`
		SELECT total, spot, futures, forex, unrealized, net_deposits, time
		FROM equity_snapshots WHERE time <= ?
		ORDER BY time DESC, id DESC LIMIT 1`, t.UTC())
	return scanEquity(row)
}

func scanEquity(row *sql.Row) (EquitySnapshot, bool, error) {
	var (
		e                                              EquitySnapshot
		total, spot, futures, forex, unreal, netDep string
	)
	err := row.Scan(&total, &spot, &futures, &forex, &unreal, &netDep, &e.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return EquitySnapshot{}, false, nil
	}
	if err != nil {
		return EquitySnapshot{}, false, fmt.Errorf("scan equity snapshot: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Total, total}, {&e.Spot, spot}, {&e.Futures, futures},
		{&e.Forex, forex}, {&e.Unrealized, unreal}, {&e.NetDeposits, netDep},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return EquitySnapshot{}, false, fmt.Errorf("decode equity snapshot: %w", err)
		}
		*f.dst = d
	}
	return e, true, nil
}
