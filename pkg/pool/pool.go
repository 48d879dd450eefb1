// Package pool bounds the number of concurrently executing blocking
// calls. Orchestration code stays in lightweight goroutines; anything
// that blocks on venue I/O goes through a Pool so a burst of strategy
// tasks cannot exhaust the process.
package pool

import "context"

type Pool struct {
	sem chan struct{}
}

// New creates a pool allowing at most size concurrent calls.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do runs fn once a worker slot is free, blocking until then or until
// ctx is done. fn's error is returned as-is.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	return cap(p.sem)
}
