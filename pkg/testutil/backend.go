package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
)

var (
	// ErrNoRows is returned by fake rows that matched nothing
	ErrNoRows = errors.New("fake: no rows in result set")
	// ErrUnknownRole is returned when a statement names an unknown role
	ErrUnknownRole = errors.New("fake: role does not exist")
	// ErrPoolClosed is returned by Acquire on a closed fake pool
	ErrPoolClosed = errors.New("fake: pool is closed")
)

const (
	identityQuery = "SELECT privileged, can_login FROM roles WHERE name = ?"
	currentQuery  = "SELECT current_role"
	loginQuery    = "SELECT session_user"
	noIdentity    = "NONE"
	resetStmt     = "RESET ROLE"
	assumePrefix  = "SET ROLE "
)

// Role describes a fake backend principal
type Role struct {
	Privileged bool
	CanLogin   bool
}

// Backend is an in-memory backend.Driver. It tracks how many pools were
// constructed and how many physical connections are open across all of them.
type Backend struct {
	// OpenDelay stretches pool construction to widen race windows
	OpenDelay time.Duration
	// OpenErr makes every Open fail
	OpenErr error
	// ApplyErr makes every Apply fail
	ApplyErr error
	// DSNUser is the login identity of pools whose config has no username
	DSNUser string

	mu       sync.Mutex
	roles    map[string]Role
	failures map[string]error
	pools    []*FakePool

	opens     atomic.Int64
	openConns atomic.Int64
}

// NewBackend creates a backend that knows no roles
func NewBackend() *Backend {
	return &Backend{
		roles:    make(map[string]Role),
		failures: make(map[string]error),
	}
}

// AddRole registers a principal
func (b *Backend) AddRole(name string, role Role) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles[name] = role
	return b
}

// FailStatement makes every execution of stmt fail with err. A nil err clears it.
func (b *Backend) FailStatement(stmt string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, stmt)
		return
	}
	b.failures[stmt] = err
}

// Opens returns the number of pools constructed
func (b *Backend) Opens() int { return int(b.opens.Load()) }

// OpenConnections returns the number of physical connections currently open
func (b *Backend) OpenConnections() int { return int(b.openConns.Load()) }

// Pools returns every pool constructed so far
func (b *Backend) Pools() []*FakePool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakePool(nil), b.pools...)
}

// Name implements backend.Driver
func (b *Backend) Name() string { return "fake" }

// Open implements backend.Driver
func (b *Backend) Open(ctx context.Context, database string, cfg config.PoolConfig) (backend.Pool, error) {
	b.opens.Add(1)

	if b.OpenDelay > 0 {
		select {
		case <-time.After(b.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	max := cfg.MaxPoolSize
	if max <= 0 {
		max = 10
	}
	login := cfg.Username
	if login == "" {
		login = b.DSNUser
	}
	p := &FakePool{
		backend:  b,
		database: database,
		login:    login,
		slots:    make(chan struct{}, max),
		applied:  cfg,
	}

	b.mu.Lock()
	b.pools = append(b.pools, p)
	b.mu.Unlock()
	return p, nil
}

func (b *Backend) role(name string) (Role, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.roles[name]
	return r, ok
}

func (b *Backend) failure(stmt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[stmt]
}

// FakePool is a bounded in-memory pool. Capacity is fixed at construction.
type FakePool struct {
	backend  *Backend
	database string
	login    string
	slots    chan struct{}

	mu      sync.Mutex
	idle    []*fakeConn
	total   int
	nextID  int
	closed  bool
	applied config.PoolConfig
}

// Database returns the database the pool was opened for
func (p *FakePool) Database() string { return p.database }

// Closed reports whether Close was called
func (p *FakePool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Applied returns the last configuration pushed through Apply
func (p *FakePool) Applied() config.PoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

// Acquire implements backend.Pool
func (p *FakePool) Acquire(ctx context.Context) (backend.Conn, error) {
	if p.Closed() {
		return nil, ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		c.released = false
		return c, nil
	}

	p.nextID++
	p.total++
	p.backend.openConns.Add(1)
	return &fakeConn{pool: p, id: p.nextID, current: p.login}, nil
}

// Stat implements backend.Pool
func (p *FakePool) Stat() backend.Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return backend.Stat{
		Acquired: p.total - len(p.idle),
		Idle:     len(p.idle),
		Total:    p.total,
		Max:      cap(p.slots),
	}
}

// Apply implements backend.Pool
func (p *FakePool) Apply(cfg config.PoolConfig) error {
	if p.backend.ApplyErr != nil {
		return p.backend.ApplyErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = cfg
	return nil
}

// Dialect implements backend.Pool
func (p *FakePool) Dialect() backend.Dialect { return Dialect{} }

// Close implements backend.Pool. Connections still checked out are closed
// when they come back.
func (p *FakePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for range p.idle {
		p.total--
		p.backend.openConns.Add(-1)
	}
	p.idle = nil
	return nil
}

func (p *FakePool) put(c *fakeConn, destroy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if destroy || p.closed {
		p.total--
		p.backend.openConns.Add(-1)
	} else {
		p.idle = append(p.idle, c)
	}
	<-p.slots
}

type fakeConn struct {
	pool     *FakePool
	id       int
	current  string
	released bool
}

func (c *fakeConn) Exec(ctx context.Context, sql string, _ ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.pool.backend.failure(sql); err != nil {
		return err
	}

	switch {
	case sql == resetStmt:
		c.current = c.pool.login
		return nil
	case strings.HasPrefix(sql, assumePrefix):
		name := strings.TrimPrefix(sql, assumePrefix)
		if _, ok := c.pool.backend.role(name); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRole, name)
		}
		c.current = name
		return nil
	default:
		return fmt.Errorf("fake: unsupported statement %q", sql)
	}
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) backend.Row {
	if err := ctx.Err(); err != nil {
		return fakeRow{err: err}
	}
	if err := c.pool.backend.failure(sql); err != nil {
		return fakeRow{err: err}
	}

	switch sql {
	case currentQuery:
		// like CURRENT_ROLE(), nothing is reported until a role is assumed
		if c.current == c.pool.login {
			return fakeRow{values: []any{noIdentity}}
		}
		return fakeRow{values: []any{c.current}}
	case loginQuery:
		return fakeRow{values: []any{c.pool.login}}
	case identityQuery:
		if len(args) != 1 {
			return fakeRow{err: fmt.Errorf("fake: identity query takes one argument")}
		}
		name, _ := args[0].(string)
		role, ok := c.pool.backend.role(name)
		if !ok {
			return fakeRow{err: ErrNoRows}
		}
		return fakeRow{values: []any{role.Privileged, role.CanLogin}}
	default:
		return fakeRow{err: fmt.Errorf("fake: unsupported query %q", sql)}
	}
}

func (c *fakeConn) Dialect() backend.Dialect { return Dialect{} }

func (c *fakeConn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.pool.put(c, false)
}

func (c *fakeConn) Destroy(context.Context) error {
	if c.released {
		return nil
	}
	c.released = true
	c.pool.put(c, true)
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("fake: scan expects %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *bool:
			*v = r.values[i].(bool)
		case *string:
			*v = r.values[i].(string)
		default:
			return fmt.Errorf("fake: unsupported scan destination %T", d)
		}
	}
	return nil
}

// Dialect is the statement set understood by the fake backend
type Dialect struct{}

// AssumeIdentity implements backend.Dialect
func (Dialect) AssumeIdentity(identity string) string { return assumePrefix + identity }

// ResetIdentity implements backend.Dialect
func (Dialect) ResetIdentity() string { return resetStmt }

// CurrentIdentity implements backend.Dialect
func (Dialect) CurrentIdentity() string { return currentQuery }

// ParseIdentity implements backend.Dialect
func (Dialect) ParseIdentity(raw string) string {
	if raw == noIdentity {
		return ""
	}
	return raw
}

// LoginIdentity implements backend.Dialect
func (Dialect) LoginIdentity() string { return loginQuery }

// IdentityQuery implements backend.Dialect
func (Dialect) IdentityQuery() string { return identityQuery }

// IsNoRows implements backend.Dialect
func (Dialect) IsNoRows(err error) bool { return errors.Is(err, ErrNoRows) }

// IsUnknownIdentity implements backend.Dialect
func (Dialect) IsUnknownIdentity(err error) bool { return errors.Is(err, ErrUnknownRole) }
