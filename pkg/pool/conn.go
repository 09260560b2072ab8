package pool

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/identity"
)

// Conn is a checked-out connection. It must be released exactly once;
// further calls to Release are no-ops.
type Conn struct {
	handle     *Handle
	raw        backend.Conn
	identity   string
	acquiredAt time.Time
	leak       *time.Timer
	released   atomic.Bool
}

func newConn(h *Handle, raw backend.Conn, identity string, leakThreshold time.Duration) *Conn {
	c := &Conn{
		handle:     h,
		raw:        raw,
		identity:   identity,
		acquiredAt: time.Now(),
	}
	if leakThreshold > 0 {
		c.leak = time.AfterFunc(leakThreshold, c.reportLeak)
	}
	return c
}

// Identity returns the identity requested at checkout, empty for the login identity
func (c *Conn) Identity() string { return c.identity }

// Database returns the database the connection belongs to
func (c *Conn) Database() string { return c.handle.name }

// Raw exposes the backend connection. It is only valid until Release.
func (c *Conn) Raw() backend.Conn { return c.raw }

// Exec runs a statement on the connection
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	if c.released.Load() {
		return c.releasedError()
	}
	return c.raw.Exec(ctx, sql, args...)
}

// QueryRow runs a query expected to return at most one row
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) backend.Row {
	if c.released.Load() {
		return errRow{err: c.releasedError()}
	}
	return c.raw.QueryRow(ctx, sql, args...)
}

// CurrentIdentity reads the effective session identity from the backend
func (c *Conn) CurrentIdentity(ctx context.Context) (string, error) {
	if c.released.Load() {
		return "", c.releasedError()
	}
	return identity.Current(ctx, c.raw)
}

// Release restores the login identity if another was assumed and returns the
// connection to the pool.
func (c *Conn) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	if c.leak != nil {
		c.leak.Stop()
	}

	if c.identity == "" {
		c.raw.Release()
		return
	}

	cfg, _, err := c.handle.backendPool()
	if err != nil {
		// pool is closed; the backend discards the connection
		c.raw.Release()
		return
	}
	c.handle.restore(context.Background(), c.raw, cfg)
}

func (c *Conn) reportLeak() {
	if c.released.Load() {
		return
	}
	c.handle.logger.Warn("possible connection leak",
		zap.String("identity", c.identity),
		zap.Duration("held", time.Since(c.acquiredAt)))
	c.handle.metrics.ObserveLeak(c.handle.name)
}

func (c *Conn) releasedError() error {
	return errors.Newf(errors.ErrorTypeInvalidState, "connection to %q already released", c.handle.name)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }
