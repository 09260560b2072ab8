// Package mysql implements the rolepool backend contracts on database/sql
// with the go-sql-driver/mysql driver. Roles require MySQL 8.0 or later.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	poolerrors "github.com/ajitpratap0/rolepool/pkg/errors"
)

// ER_ROLE_NOT_GRANTED, raised by SET ROLE for unknown or ungranted roles
const errRoleNotGranted = 3530

// Driver opens database/sql pools against the endpoint described by DSN.
type Driver struct {
	DSN string
}

// NewDriver creates a MySQL driver
func NewDriver(dsn string) *Driver {
	return &Driver{DSN: dsn}
}

// Name implements backend.Driver
func (d *Driver) Name() string { return "mysql" }

// Open implements backend.Driver. database/sql connects lazily.
func (d *Driver) Open(_ context.Context, database string, cfg config.PoolConfig) (backend.Pool, error) {
	mc, err := DriverConfig(d.DSN, database, cfg)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeConfig, "failed to create mysql connector")
	}

	p := &Pool{db: sql.OpenDB(connector)}
	_ = p.Apply(cfg)
	return p, nil
}

// DriverConfig translates a rolepool configuration into a driver configuration.
func DriverConfig(dsn, database string, cfg config.PoolConfig) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeConfig, "failed to parse connection string")
	}

	mc.DBName = database
	if cfg.Username != "" {
		mc.User = cfg.Username
	}
	if cfg.Password != "" {
		mc.Passwd = cfg.Password
	}
	if cfg.ConnectionTimeout > 0 {
		mc.Timeout = cfg.ConnectionTimeout
	}
	if mc.Params == nil {
		mc.Params = make(map[string]string)
	}
	if cfg.ReadOnly {
		mc.Params["transaction_read_only"] = "1"
	}
	if cfg.ApplicationName != "" {
		mc.ConnectionAttributes = "program_name:" + cfg.ApplicationName
	}

	return mc, nil
}

// Pool adapts *sql.DB to backend.Pool
type Pool struct {
	db *sql.DB
}

// Acquire implements backend.Pool
func (p *Pool) Acquire(ctx context.Context) (backend.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// Stat implements backend.Pool
func (p *Pool) Stat() backend.Stat {
	s := p.db.Stats()
	return backend.Stat{
		Acquired: s.InUse,
		Idle:     s.Idle,
		Total:    s.OpenConnections,
		Max:      s.MaxOpenConnections,
	}
}

// Apply implements backend.Pool. database/sql accepts every setting live.
func (p *Pool) Apply(cfg config.PoolConfig) error {
	p.db.SetMaxOpenConns(cfg.MaxPoolSize)
	idle := cfg.MinIdle
	if idle < 2 {
		idle = 2
	}
	if idle > cfg.MaxPoolSize {
		idle = cfg.MaxPoolSize
	}
	p.db.SetMaxIdleConns(idle)
	p.db.SetConnMaxLifetime(cfg.MaxLifetime)
	p.db.SetConnMaxIdleTime(cfg.IdleTimeout)
	return nil
}

// Dialect implements backend.Pool
func (p *Pool) Dialect() backend.Dialect { return Dialect{} }

// Close implements backend.Pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn adapts *sql.Conn to backend.Conn
type Conn struct {
	conn *sql.Conn
}

// Exec implements backend.Conn
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.conn.ExecContext(ctx, query, args...)
	return err
}

// QueryRow implements backend.Conn
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) backend.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// Dialect implements backend.Conn
func (c *Conn) Dialect() backend.Dialect { return Dialect{} }

// Release implements backend.Conn
func (c *Conn) Release() { _ = c.conn.Close() }

// Destroy implements backend.Conn. Reporting ErrBadConn from Raw makes
// database/sql close the driver connection instead of pooling it.
func (c *Conn) Destroy(context.Context) error {
	err := c.conn.Raw(func(any) error { return driver.ErrBadConn })
	if errors.Is(err, driver.ErrBadConn) {
		return nil
	}
	return err
}

// Dialect holds the MySQL identity statements
type Dialect struct{}

// AssumeIdentity implements backend.Dialect
func (Dialect) AssumeIdentity(identity string) string {
	return "SET ROLE " + quoteIdentifier(identity)
}

// ResetIdentity implements backend.Dialect
func (Dialect) ResetIdentity() string { return "SET ROLE DEFAULT" }

// CurrentIdentity implements backend.Dialect
func (Dialect) CurrentIdentity() string { return "SELECT CURRENT_ROLE()" }

// ParseIdentity implements backend.Dialect. CURRENT_ROLE() reports NONE or a
// comma separated list of `name`@`host` entries; the first name wins.
func (Dialect) ParseIdentity(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "NONE") {
		return ""
	}
	if !strings.HasPrefix(s, "`") {
		name, _, _ := strings.Cut(s, "@")
		name, _, _ = strings.Cut(name, ",")
		return name
	}

	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] == '`' {
			if i+1 < len(s) && s[i+1] == '`' {
				b.WriteByte('`')
				i++
				continue
			}
			break
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// LoginIdentity implements backend.Dialect
func (Dialect) LoginIdentity() string { return "SELECT SUBSTRING_INDEX(CURRENT_USER(), '@', 1)" }

// IdentityQuery implements backend.Dialect. Roles are locked accounts, so
// account_locked doubles as the can-login flag.
func (Dialect) IdentityQuery() string {
	return "SELECT Super_priv = 'Y', account_locked = 'N' FROM mysql.user WHERE User = ? LIMIT 1"
}

// IsNoRows implements backend.Dialect
func (Dialect) IsNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// IsUnknownIdentity implements backend.Dialect
func (Dialect) IsUnknownIdentity(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == errRoleNotGranted
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
