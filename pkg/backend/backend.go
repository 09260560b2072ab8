// Package backend defines the contracts rolepool consumes from a physical
// connection pool and its connections. Implementations live in the postgres
// and mysql subpackages; an in-memory implementation for tests lives in testutil.
package backend

import (
	"context"

	"github.com/ajitpratap0/rolepool/pkg/config"
)

// Driver opens physical pools against one backend endpoint.
type Driver interface {
	// Name identifies the backend (postgres, mysql, ...)
	Name() string
	// Open constructs the physical pool for database. It must not leave
	// connections open when it returns an error.
	Open(ctx context.Context, database string, cfg config.PoolConfig) (Pool, error)
}

// Pool is a constructed physical pool for a single database.
type Pool interface {
	// Acquire checks out a physical connection, blocking until ctx is done
	Acquire(ctx context.Context) (Conn, error)
	// Stat reports live counters
	Stat() Stat
	// Apply pushes a new configuration to the running pool. It fails with
	// invalid_state when a changed setting cannot be applied live.
	Apply(cfg config.PoolConfig) error
	// Dialect returns the statement literals for this backend
	Dialect() Dialect
	// Close releases every connection
	Close() error
}

// Conn is a checked-out physical connection.
type Conn interface {
	// Exec runs a statement and discards the result
	Exec(ctx context.Context, sql string, args ...any) error
	// QueryRow runs a parameterized query returning at most one row
	QueryRow(ctx context.Context, sql string, args ...any) Row
	// Dialect returns the statement literals for this backend
	Dialect() Dialect
	// Release returns the connection to its pool
	Release()
	// Destroy closes the physical connection instead of returning it
	Destroy(ctx context.Context) error
}

// Row is a single query result.
type Row interface {
	Scan(dest ...any) error
}

// Stat is a point-in-time view of a pool's counters.
type Stat struct {
	Acquired int
	Idle     int
	Total    int
	Max      int
}

// Dialect carries the backend-specific identity statements. The identity
// query takes the identity name as its only parameter and yields two boolean
// columns: privileged, can_login.
type Dialect interface {
	AssumeIdentity(identity string) string
	ResetIdentity() string
	// CurrentIdentity yields the effective identity in a backend-specific form
	CurrentIdentity() string
	// ParseIdentity turns a CurrentIdentity result into a bare identity name.
	// It returns "" when no identity is assumed.
	ParseIdentity(raw string) string
	// LoginIdentity yields the identity the session authenticated as,
	// unaffected by any assumed identity
	LoginIdentity() string
	IdentityQuery() string
	// IsNoRows reports whether err means the query matched nothing
	IsNoRows(err error) bool
	// IsUnknownIdentity reports whether err means the identity does not exist
	IsUnknownIdentity(err error) bool
}
