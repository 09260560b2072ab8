package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rolepool/pkg/backend/mysql"
	"github.com/ajitpratap0/rolepool/pkg/backend/postgres"
	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/pool"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "rolepool v"+version)
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolepool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver: mysql
dsn: "app:secret@tcp(db:3306)/"
databases:
  sales:
    username: reporter
    security_policy: strict
`), 0o600))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "driver: mysql")
	assert.Contains(t, out.String(), "security_policy: strict")
}

func TestCheckRequiresDatabase(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"check"})

	assert.Error(t, root.Execute())
}

func TestNewDriver(t *testing.T) {
	d, err := newDriver(config.NewConfig("postgres", "postgres://localhost/postgres"))
	require.NoError(t, err)
	assert.IsType(t, &postgres.Driver{}, d)

	d, err = newDriver(config.NewConfig("mysql", "root@tcp(localhost:3306)/"))
	require.NoError(t, err)
	assert.IsType(t, &mysql.Driver{}, d)

	_, err = newDriver(config.NewConfig("oracle", "x"))
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeJSON(&out, checkResult{
		Database:          "sales",
		EffectiveIdentity: "reporter",
		Stats:             pool.Stats{Database: "sales", State: "active", MaxPoolSize: 10},
	}))

	assert.Contains(t, out.String(), `"effective_identity": "reporter"`)
	assert.Contains(t, out.String(), `"max_pool_size": 10`)
	assert.NotContains(t, out.String(), "requested_identity")
}
