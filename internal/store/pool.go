package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/util"
)

// ErrPoolClosed is returned by Acquire after Close
var ErrPoolClosed = errors.New("store: pool is closed")

// Conn is a store connection the pool can validate and close
type Conn interface {
	comparable
	PingContext(ctx context.Context) error
	Close() error
}

// DialFunc opens a new connection, including any session setup
type DialFunc[C Conn] func(ctx context.Context) (C, error)

// PoolConfig holds the pool limits and timings
type PoolConfig struct {
	// MaxSize caps connections checked out or idle at once
	MaxSize int
	// IdleTimeout evicts connections unused for longer than this
	IdleTimeout time.Duration
	// AcquireTimeout bounds how long Acquire polls a full pool
	AcquireTimeout time.Duration
	// PollInterval is the wait between attempts on a full pool
	PollInterval time.Duration
	// SweepInterval gates how often idle connections are pinged
	SweepInterval time.Duration
	// PingTimeout bounds a single validation ping
	PingTimeout time.Duration
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        10,
		IdleTimeout:    5 * time.Minute,
		AcquireTimeout: 5 * time.Second,
		PollInterval:   100 * time.Millisecond,
		SweepInterval:  time.Minute,
		PingTimeout:    2 * time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	return c
}

// PoolStats is a snapshot of pool occupancy
type PoolStats struct {
	Idle  int
	InUse int
	Total int
}

type connState struct {
	inUse    bool
	lastUsed time.Time
}

// Pool is a bounded set of reusable store connections.
// A connection belongs to exactly one borrower between Acquire and Release.
type Pool[C Conn] struct {
	dial DialFunc[C]
	cfg  PoolConfig

	mu        sync.Mutex
	conns     map[C]*connState
	idle      []C
	opening   int
	lastSweep time.Time
	closed    bool

	now func() time.Time
}

// NewPool creates a pool that opens connections with dial
func NewPool[C Conn](dial DialFunc[C], cfg PoolConfig) *Pool[C] {
	p := &Pool[C]{
		dial:  dial,
		cfg:   cfg.withDefaults(),
		conns: make(map[C]*connState),
		now:   time.Now,
	}
	p.lastSweep = p.now()
	return p
}

// Config returns the effective pool configuration
func (p *Pool[C]) Config() PoolConfig {
	return p.cfg
}

// Acquire returns a validated connection. On a full pool it polls every
// PollInterval and fails with ResourceExhausted once AcquireTimeout elapses.
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var zero C
	start := time.Now()
	deadline := start.Add(p.cfg.AcquireTimeout)

	for {
		if p.sweepDue() {
			p.Sweep(ctx)
		}

		conn, ok, err := p.tryAcquire(ctx)
		if err != nil {
			return zero, err
		}
		if ok {
			util.PoolAcquireWait.Observe(time.Since(start).Seconds())
			return conn, nil
		}

		if !time.Now().Before(deadline) {
			util.PoolExhaustedTotal.Inc()
			return zero, apperr.ResourceExhausted(
				"connection pool exhausted: %d connections in use after %s",
				p.cfg.MaxSize, p.cfg.AcquireTimeout)
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, apperr.ResourceExhausted("connection acquire abandoned: %v", ctx.Err())
		case <-timer.C:
		}
	}
}

func (p *Pool[C]) tryAcquire(ctx context.Context) (C, bool, error) {
	var zero C

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, false, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.conns[conn].inUse = true
			p.reportLocked()
			p.mu.Unlock()

			if err := p.ping(ctx, conn); err != nil {
				p.evict(conn)
				continue
			}
			return conn, true, nil
		}

		if len(p.conns)+p.opening >= p.cfg.MaxSize {
			p.mu.Unlock()
			return zero, false, nil
		}

		p.opening++
		p.mu.Unlock()

		conn, err := p.dial(ctx)

		p.mu.Lock()
		p.opening--
		if err != nil {
			p.mu.Unlock()
			return zero, false, apperr.Persistence(err, "open store connection")
		}
		if p.closed {
			p.mu.Unlock()
			_ = conn.Close()
			return zero, false, ErrPoolClosed
		}
		p.conns[conn] = &connState{inUse: true, lastUsed: p.now()}
		p.reportLocked()
		p.mu.Unlock()
		return conn, true, nil
	}
}

// Release hands a connection back for reuse. It never closes it unless the
// pool has been shut down meanwhile.
func (p *Pool[C]) Release(conn C) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.conns[conn]
	if !ok || !st.inUse {
		return
	}
	if p.closed {
		delete(p.conns, conn)
		_ = conn.Close()
		return
	}

	st.inUse = false
	st.lastUsed = p.now()
	p.idle = append(p.idle, conn)
	p.reportLocked()
}

// Discard closes a checked-out connection that must not be reused
func (p *Pool[C]) Discard(conn C) {
	p.evict(conn)
}

func (p *Pool[C]) evict(conn C) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.reportLocked()
	p.mu.Unlock()

	util.PoolEvictionsTotal.Inc()
	_ = conn.Close()
}

func (p *Pool[C]) sweepDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.now().Sub(p.lastSweep) >= p.cfg.SweepInterval
}

// Sweep pings every idle connection and closes those that fail or have sat
// idle past IdleTimeout.
func (p *Pool[C]) Sweep(ctx context.Context) {
	p.mu.Lock()
	p.lastSweep = p.now()
	candidates := p.idle
	p.idle = nil
	lastUsed := make([]time.Time, len(candidates))
	for i, conn := range candidates {
		st := p.conns[conn]
		st.inUse = true
		lastUsed[i] = st.lastUsed
	}
	now := p.now()
	p.mu.Unlock()

	keep := make([]C, 0, len(candidates))
	for i, conn := range candidates {
		if now.Sub(lastUsed[i]) > p.cfg.IdleTimeout {
			p.evict(conn)
			continue
		}
		if err := p.ping(ctx, conn); err != nil {
			p.evict(conn)
			continue
		}
		keep = append(keep, conn)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, conn := range keep {
		if p.closed {
			delete(p.conns, conn)
			_ = conn.Close()
			continue
		}
		st := p.conns[conn]
		st.inUse = false
		st.lastUsed = lastUsed[i]
		p.idle = append(p.idle, conn)
	}
	p.reportLocked()
}

func (p *Pool[C]) ping(ctx context.Context, conn C) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
	defer cancel()
	return conn.PingContext(ctx)
}

// Stats returns current occupancy
func (p *Pool[C]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Idle:  len(p.idle),
		InUse: len(p.conns) - len(p.idle),
		Total: len(p.conns),
	}
}

// Close closes every tracked connection, ignoring close errors
func (p *Pool[C]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := make([]C, 0, len(p.conns))
	for conn := range p.conns {
		all = append(all, conn)
	}
	p.conns = make(map[C]*connState)
	p.idle = nil
	p.reportLocked()
	p.mu.Unlock()

	for _, conn := range all {
		_ = conn.Close()
	}
}

func (p *Pool[C]) reportLocked() {
	util.PoolConnections.WithLabelValues("idle").Set(float64(len(p.idle)))
	util.PoolConnections.WithLabelValues("in_use").Set(float64(len(p.conns) - len(p.idle)))
}
