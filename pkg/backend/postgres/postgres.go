// Package postgres implements the rolepool backend contracts on pgxpool.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	poolerrors "github.com/ajitpratap0/rolepool/pkg/errors"
)

const (
	// sqlstate for "role ... does not exist" raised by SET ROLE
	codeInvalidParameterValue = "22023"
	codeUndefinedObject       = "42704"
)

// Driver opens pgxpool pools against the endpoint described by DSN. The
// database and login identity in the DSN are replaced per pool.
type Driver struct {
	DSN string
}

// NewDriver creates a PostgreSQL driver
func NewDriver(dsn string) *Driver {
	return &Driver{DSN: dsn}
}

// Name implements backend.Driver
func (d *Driver) Name() string { return "postgres" }

// Open implements backend.Driver. pgxpool connects lazily, so no connection
// is open when this returns.
func (d *Driver) Open(ctx context.Context, database string, cfg config.PoolConfig) (backend.Pool, error) {
	poolConfig, err := PoolConfig(d.DSN, database, cfg)
	if err != nil {
		return nil, err
	}

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeConnection, "failed to create pgx pool")
	}

	return &Pool{pool: p, cfg: cfg}, nil
}

// PoolConfig translates a rolepool configuration into a pgxpool configuration.
func PoolConfig(dsn, database string, cfg config.PoolConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeConfig, "failed to parse connection string")
	}

	poolConfig.ConnConfig.Database = database
	if cfg.Username != "" {
		poolConfig.ConnConfig.User = cfg.Username
	}
	if cfg.Password != "" {
		poolConfig.ConnConfig.Password = cfg.Password
	}
	if cfg.ConnectionTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout
	}
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.ReadOnly {
		poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MinConns = int32(cfg.MinIdle)
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}
	if cfg.IdleTimeout > 0 {
		poolConfig.MaxConnIdleTime = cfg.IdleTimeout
		poolConfig.HealthCheckPeriod = minDuration(cfg.IdleTimeout, time.Minute)
	}

	return poolConfig, nil
}

// Pool adapts *pgxpool.Pool to backend.Pool
type Pool struct {
	pool *pgxpool.Pool
	// cfg is the configuration the pool was built with
	cfg config.PoolConfig
}

// Acquire implements backend.Pool
func (p *Pool) Acquire(ctx context.Context) (backend.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// Stat implements backend.Pool
func (p *Pool) Stat() backend.Stat {
	s := p.pool.Stat()
	return backend.Stat{
		Acquired: int(s.AcquiredConns()),
		Idle:     int(s.IdleConns()),
		Total:    int(s.TotalConns()),
		Max:      int(s.MaxConns()),
	}
}

// Apply implements backend.Pool. pgxpool fixes sizing and lifetimes at
// construction, so changing any of them is rejected. Timeouts and the leak
// threshold are enforced by the handle and always accepted.
func (p *Pool) Apply(cfg config.PoolConfig) error {
	var fixed []string
	if cfg.MaxPoolSize != p.cfg.MaxPoolSize {
		fixed = append(fixed, "max_pool_size")
	}
	if cfg.MinIdle != p.cfg.MinIdle {
		fixed = append(fixed, "min_idle")
	}
	if cfg.IdleTimeout != p.cfg.IdleTimeout {
		fixed = append(fixed, "idle_timeout")
	}
	if cfg.MaxLifetime != p.cfg.MaxLifetime {
		fixed = append(fixed, "max_lifetime")
	}
	if len(fixed) > 0 {
		return poolerrors.Newf(poolerrors.ErrorTypeInvalidState,
			"pgxpool cannot change %s while running", strings.Join(fixed, ", "))
	}
	return nil
}

// Dialect implements backend.Pool
func (p *Pool) Dialect() backend.Dialect { return Dialect{} }

// Close implements backend.Pool
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// Conn adapts *pgxpool.Conn to backend.Conn
type Conn struct {
	conn *pgxpool.Conn
}

// Exec implements backend.Conn
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

// QueryRow implements backend.Conn
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) backend.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// Dialect implements backend.Conn
func (c *Conn) Dialect() backend.Dialect { return Dialect{} }

// Release implements backend.Conn
func (c *Conn) Release() { c.conn.Release() }

// Destroy implements backend.Conn. The hijacked connection is no longer
// tracked by the pool, which will dial a replacement on demand.
func (c *Conn) Destroy(ctx context.Context) error {
	return c.conn.Hijack().Close(ctx)
}

// Dialect holds the PostgreSQL identity statements
type Dialect struct{}

// AssumeIdentity implements backend.Dialect
func (Dialect) AssumeIdentity(identity string) string {
	return "SET ROLE " + pgx.Identifier{identity}.Sanitize()
}

// ResetIdentity implements backend.Dialect
func (Dialect) ResetIdentity() string { return "RESET ROLE" }

// CurrentIdentity implements backend.Dialect
func (Dialect) CurrentIdentity() string { return "SELECT current_user" }

// ParseIdentity implements backend.Dialect. current_user is already a bare
// role name and falls back to session_user after RESET ROLE.
func (Dialect) ParseIdentity(raw string) string { return raw }

// LoginIdentity implements backend.Dialect
func (Dialect) LoginIdentity() string { return "SELECT session_user" }

// IdentityQuery implements backend.Dialect
func (Dialect) IdentityQuery() string {
	return "SELECT rolsuper, rolcanlogin FROM pg_catalog.pg_roles WHERE rolname = $1"
}

// IsNoRows implements backend.Dialect
func (Dialect) IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// IsUnknownIdentity implements backend.Dialect
func (Dialect) IsUnknownIdentity(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeInvalidParameterValue || pgErr.Code == codeUndefinedObject
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
