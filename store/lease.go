package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LeaseRow is the single persisted instance-lease row.
type LeaseRow struct {
	Owner       string
	Host        string
	PID         int
	StartedAt   time.Time
	HeartbeatAt time.Time
}

// GetLease reads the lease row. The second return is false when no
// lease has ever been written.
func (s *Store) GetLease() (LeaseRow, bool, error) {
	var r LeaseRow
	err := s.db.QueryRow(`
		SELECT owner, host, pid, started_at, heartbeat_at
		FROM instance_lease WHERE id = 1`).
		Scan(&r.Owner, &r.Host, &r.PID, &r.StartedAt, &r.HeartbeatAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LeaseRow{}, false, nil
	}
	if err != nil {
		return LeaseRow{}, false, fmt.Errorf("get lease: %w", err)
	}
	return r, true, nil
}

// AcquireLease claims the lease row in one statement: the insert wins
// when no row exists, and the conflict update only fires when the row
// is already ours or its heartbeat is at or before staleBefore. Two
// processes racing for a free lease therefore cannot both succeed; the
// loser's update matches zero rows. Returns whether the claim took.
func (s *Store) AcquireLease(r LeaseRow, staleBefore time.Time) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO instance_lease (id, owner, host, pid, started_at, heartbeat_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			host = excluded.host,
			pid = excluded.pid,
			started_at = excluded.started_at,
			heartbeat_at = excluded.heartbeat_at
		WHERE instance_lease.owner = excluded.owner
		   OR instance_lease.heartbeat_at <= ?`,
		r.Owner, r.Host, r.PID, r.StartedAt.UTC(), r.HeartbeatAt.UTC(),
		staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n == 1, nil
}

// RenewLease advances the heartbeat if owner still holds the row.
// Returns false when the row belongs to someone else (or is gone),
// which means the lease was lost.
func (s *Store) RenewLease(owner string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE instance_lease SET heartbeat_at = ? WHERE id = 1 AND owner = ?`,
		at.UTC(), owner)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return n == 1, nil
}

// DeleteLease removes the row on clean release, only if owner still
// holds it.
func (s *Store) DeleteLease(owner string) error {
	_, err := s.db.Exec(`DELETE FROM instance_lease WHERE id = 1 AND owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}
