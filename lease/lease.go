// Package lease enforces single-instance execution. Exactly one
// process may hold the persisted lease at a time; the execution
// pipeline refuses to trade when this process does not hold it.
package lease

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradegate/pkg/id"
	"tradegate/store"
)

const (
	defaultTTL       = 30 * time.Second
	defaultHeartbeat = 5 * time.Second
)

// Config tunes the lease timing. TTL is how stale a heartbeat must be
// before another process may take over; Heartbeat is the renewal
// cadence and must be well under TTL.
type Config struct {
	TTL       time.Duration
	Heartbeat time.Duration
}

// Lease is this process's claim on the single-instance lock. IsHeld
// is safe for concurrent use and reads process-local state only; the
// heartbeat goroutine is the only writer after Acquire.
type Lease struct {
	store *store.Store
	log   *zap.Logger
	cfg   Config

	owner string
	held  atomic.Bool
	now   func() time.Time

	// renewedAt is the unix-nano time of the last successful claim or
	// renewal. When renewals keep erroring past the TTL another process
	// may legitimately take over, so held is dropped even though we
	// never saw the row change hands.
	renewedAt atomic.Int64

	stop chan struct{}
}

func New(st *store.Store, cfg Config, log *zap.Logger) *Lease {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Lease{
		store: st,
		log:   log,
		cfg:   cfg,
		owner: id.New(),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
}

// Owner returns this process's lease identity.
func (l *Lease) Owner() string { return l.owner }

// IsHeld reports whether this process currently holds the lease.
func (l *Lease) IsHeld() bool { return l.held.Load() }

// Acquire claims the lease if it is free or its holder's heartbeat is
// older than the TTL, then starts the heartbeat loop. The claim is a
// single conditional upsert, so two processes racing for the same row
// cannot both win. A live lease held by another process is an error:
// the caller should exit rather than trade alongside it.
func (l *Lease) Acquire(ctx context.Context) error {
	now := l.now()
	host, _ := os.Hostname()

	claimed, err := l.store.AcquireLease(store.LeaseRow{
		Owner:       l.owner,
		Host:        host,
		PID:         os.Getpid(),
		StartedAt:   now,
		HeartbeatAt: now,
	}, now.Add(-l.cfg.TTL))
	if err != nil {
		return err
	}
	if !claimed {
		row, ok, err := l.store.GetLease()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lease claim lost to a concurrent process")
		}
		return fmt.Errorf("lease held by %s on %s (pid %d), heartbeat %s ago",
			row.Owner, row.Host, row.PID, now.Sub(row.HeartbeatAt).Round(time.Second))
	}

	l.renewedAt.Store(now.UnixNano())
	l.held.Store(true)
	l.log.Info("instance lease acquired", zap.String("owner", l.owner))

	go l.heartbeat(ctx)
	return nil
}

// heartbeat renews the lease on a ticker. A renewal that reports the
// row is no longer ours drops held immediately so the pipeline stops
// trading before the usurper's next order.
func (l *Lease) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.Renew(); err != nil {
				l.log.Warn("lease renewal failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		}
	}
}

// Renew advances the heartbeat. Losing the row to another process is
// not an error return: it flips held off and logs. A store error keeps
// held only while the last successful renewal is younger than the TTL;
// past that, another process may already own the row, so trading stops.
func (l *Lease) Renew() error {
	now := l.now()

	ok, err := l.store.RenewLease(l.owner, now)
	if err != nil {
		if now.Sub(time.Unix(0, l.renewedAt.Load())) > l.cfg.TTL {
			if l.held.Swap(false) {
				l.log.Error("lease renewals failing past TTL, trading halted",
					zap.String("owner", l.owner))
			}
		}
		return err
	}
	if !ok {
		if l.held.Swap(false) {
			l.log.Error("instance lease lost to another process",
				zap.String("owner", l.owner))
		}
		return nil
	}
	l.renewedAt.Store(now.UnixNano())
	l.held.Store(true)
	return nil
}

// Release stops the heartbeat and deletes the lease row if this
// process still owns it.
func (l *Lease) Release() error {
	l.held.Store(false)
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	if err := l.store.DeleteLease(l.owner); err != nil {
		return err
	}
	l.log.Info("instance lease released", zap.String("owner", l.owner))
	return nil
}
