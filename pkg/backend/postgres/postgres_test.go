package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	poolerrors "github.com/ajitpratap0/rolepool/pkg/errors"
)

var _ backend.Driver = (*Driver)(nil)
var _ backend.Pool = (*Pool)(nil)
var _ backend.Conn = (*Conn)(nil)
var _ backend.Dialect = Dialect{}

func TestPoolConfigMapsSettings(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.Username = "reporter"
	cfg.Password = "secret"
	cfg.MaxPoolSize = 7
	cfg.MinIdle = 3
	cfg.ConnectionTimeout = 4 * time.Second
	cfg.IdleTimeout = 30 * time.Second
	cfg.MaxLifetime = time.Hour
	cfg.ReadOnly = true

	pc, err := PoolConfig("postgres://app:pw@db.example.com:5432/postgres?sslmode=disable", "sales", cfg)
	require.NoError(t, err)

	assert.Equal(t, "sales", pc.ConnConfig.Database)
	assert.Equal(t, "reporter", pc.ConnConfig.User)
	assert.Equal(t, "secret", pc.ConnConfig.Password)
	assert.Equal(t, 4*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(3), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Second, pc.MaxConnIdleTime)
	assert.Equal(t, 30*time.Second, pc.HealthCheckPeriod)
	assert.Equal(t, "on", pc.ConnConfig.RuntimeParams["default_transaction_read_only"])
	assert.Equal(t, "rolepool", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfigKeepsDSNUserWhenUnset(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	pc, err := PoolConfig("postgres://app@localhost:5432/postgres", "inventory", cfg)
	require.NoError(t, err)
	assert.Equal(t, "app", pc.ConnConfig.User)
	assert.Equal(t, "inventory", pc.ConnConfig.Database)
}

func TestPoolConfigRejectsBadDSN(t *testing.T) {
	_, err := PoolConfig("postgres://%zz", "sales", config.DefaultPoolConfig())
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))
}

func TestDialectStatements(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, `SET ROLE "viewer"`, d.AssumeIdentity("viewer"))
	assert.Equal(t, `SET ROLE "we""ird"`, d.AssumeIdentity(`we"ird`))
	assert.Equal(t, "RESET ROLE", d.ResetIdentity())
	assert.Equal(t, "SELECT current_user", d.CurrentIdentity())
	assert.Equal(t, "SELECT session_user", d.LoginIdentity())
	assert.Equal(t, "viewer", d.ParseIdentity("viewer"))
	assert.Contains(t, d.IdentityQuery(), "$1")
}

func TestDialectClassifiesErrors(t *testing.T) {
	d := Dialect{}
	assert.True(t, d.IsNoRows(pgx.ErrNoRows))
	assert.False(t, d.IsNoRows(errors.New("boom")))

	assert.True(t, d.IsUnknownIdentity(&pgconn.PgError{Code: "22023", Message: `role "ghost" does not exist`}))
	assert.False(t, d.IsUnknownIdentity(&pgconn.PgError{Code: "42501"}))
	assert.False(t, d.IsUnknownIdentity(errors.New("boom")))
}

func TestApplyRejectsSettingsFixedAtConstruction(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	p := &Pool{cfg: cfg}

	live := cfg
	live.ConnectionTimeout = time.Second
	live.ValidationTimeout = time.Second
	live.LeakDetectionThreshold = time.Minute
	assert.NoError(t, p.Apply(live))

	resized := cfg
	resized.MaxPoolSize = cfg.MaxPoolSize + 1
	resized.MaxLifetime = time.Hour
	err := p.Apply(resized)
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeInvalidState))
	assert.Contains(t, err.Error(), "max_pool_size, max_lifetime")
}
