package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
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

func TestDriverConfigMapsSettings(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.Username = "reporter"
	cfg.Password = "secret"
	cfg.ConnectionTimeout = 3 * time.Second
	cfg.ReadOnly = true

	mc, err := DriverConfig("app:pw@tcp(db.example.com:3306)/?parseTime=true", "sales", cfg)
	require.NoError(t, err)

	assert.Equal(t, "sales", mc.DBName)
	assert.Equal(t, "reporter", mc.User)
	assert.Equal(t, "secret", mc.Passwd)
	assert.Equal(t, 3*time.Second, mc.Timeout)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, "1", mc.Params["transaction_read_only"])
	assert.Equal(t, "program_name:rolepool", mc.ConnectionAttributes)
}

func TestDriverConfigRejectsBadDSN(t *testing.T) {
	_, err := DriverConfig("not a dsn", "sales", config.DefaultPoolConfig())
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))
}

func TestOpenAppliesPoolLimits(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cfg.MaxPoolSize = 4

	p, err := NewDriver("app@tcp(127.0.0.1:1)/").Open(context.Background(), "sales", cfg)
	require.NoError(t, err)
	defer p.Close()

	stat := p.Stat()
	assert.Equal(t, 4, stat.Max)
	assert.Equal(t, 0, stat.Total)

	cfg.MaxPoolSize = 6
	require.NoError(t, p.Apply(cfg))
	assert.Equal(t, 6, p.Stat().Max)
}

func TestDialect(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "SET ROLE `viewer`", d.AssumeIdentity("viewer"))
	assert.Equal(t, "SET ROLE `a``b`", d.AssumeIdentity("a`b"))
	assert.Equal(t, "SET ROLE DEFAULT", d.ResetIdentity())
	assert.Equal(t, "SELECT CURRENT_ROLE()", d.CurrentIdentity())
	assert.Equal(t, "SELECT SUBSTRING_INDEX(CURRENT_USER(), '@', 1)", d.LoginIdentity())

	assert.True(t, d.IsNoRows(sql.ErrNoRows))
	assert.True(t, d.IsUnknownIdentity(&mysql.MySQLError{Number: errRoleNotGranted}))
	assert.False(t, d.IsUnknownIdentity(&mysql.MySQLError{Number: 1045}))
	assert.False(t, d.IsUnknownIdentity(errors.New("boom")))
}

func TestDialectParseIdentity(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"NONE", ""},
		{"none", ""},
		{"", ""},
		{"`viewer`@`%`", "viewer"},
		{"`a``b`@`localhost`", "a`b"},
		{"`r1`@`%`,`r2`@`%`", "r1"},
		{"viewer@%", "viewer"},
		{"viewer", "viewer"},
	}

	d := Dialect{}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.ParseIdentity(tt.raw), "raw %q", tt.raw)
	}
}
