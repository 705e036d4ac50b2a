package web

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/infra/resilience"
	"github.com/boddenberg/surface-exec/internal/port"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("session pool closed")

// SessionPool hands out browser sessions, at most capacity at a time.
// Each lease owns its session exclusively.
type SessionPool struct {
	factory  port.SessionFactory
	bulkhead *resilience.Bulkhead
	logger   *zap.Logger
	observe  func(delta int)

	closed    atomic.Bool
	closeOnce sync.Once
}

// PoolOption customises a SessionPool.
type PoolOption func(*SessionPool)

// WithLeaseObserver is called with +1/-1 as leases start and end.
func WithLeaseObserver(fn func(delta int)) PoolOption {
	return func(p *SessionPool) { p.observe = fn }
}

// NewSessionPool creates a pool over factory.
func NewSessionPool(factory port.SessionFactory, capacity int, logger *zap.Logger, opts ...PoolOption) *SessionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &SessionPool{
		factory:  factory,
		bulkhead: resilience.NewBulkhead(capacity),
		logger:   logger,
		observe:  func(int) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire waits for a free slot and opens a new session in it.
func (p *SessionPool) Acquire(ctx context.Context, opts port.SessionOptions) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := p.bulkhead.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for browser session: %w", err)
	}
	sess, err := p.factory.NewSession(ctx, opts)
	if err != nil {
		p.bulkhead.Release()
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	p.observe(1)
	return &Lease{Session: sess, pool: p}, nil
}

// InUse returns the number of leased sessions.
func (p *SessionPool) InUse() int {
	return p.bulkhead.InUse()
}

// Capacity returns the maximum number of concurrent sessions.
func (p *SessionPool) Capacity() int {
	return p.bulkhead.Capacity()
}

// Closed reports whether Close was called.
func (p *SessionPool) Closed() bool {
	return p.closed.Load()
}

// Close stops new leases and closes the factory. Outstanding leases still
// release normally. Safe to call more than once.
func (p *SessionPool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.factory.Close()
	})
	return err
}

// Lease is one claimed session.
type Lease struct {
	Session port.BrowserSession
	pool    *SessionPool
	once    sync.Once
}

// Release closes the session and frees the slot. Only the first call has
// any effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		if err := l.Session.Close(); err != nil {
			l.pool.logger.Warn("close browser session", zap.String("session_id", l.Session.ID()), zap.Error(err))
		}
		l.pool.bulkhead.Release()
		l.pool.observe(-1)
	})
}
