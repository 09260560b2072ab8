package security

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	poolerrors "github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/testutil"
)

func newConn(t *testing.T) backend.Conn {
	t.Helper()
	b := testutil.NewBackend().
		AddRole("reporter", testutil.Role{CanLogin: true}).
		AddRole("admin", testutil.Role{Privileged: true, CanLogin: true}).
		AddRole("viewer", testutil.Role{}).
		AddRole("auditor", testutil.Role{CanLogin: true}).
		AddRole("nologin", testutil.Role{})

	cfg := config.DefaultPoolConfig()
	cfg.Username = "reporter"
	p, err := b.Open(context.Background(), "sales", cfg)
	require.NoError(t, err)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Release()
		_ = p.Close()
	})
	return c
}

func TestForName(t *testing.T) {
	for name, want := range map[string]string{
		"":                    config.PolicyDefault,
		config.PolicyDefault:  config.PolicyDefault,
		config.PolicyDisabled: config.PolicyDisabled,
		config.PolicyStrict:   config.PolicyStrict,
	} {
		p, err := ForName(name)
		require.NoError(t, err)
		assert.Equal(t, want, p.Name())
	}

	_, err := ForName("paranoid")
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))
}

func TestLoginCheck(t *testing.T) {
	tests := []struct {
		identity string
		wantType poolerrors.ErrorType
	}{
		{identity: "reporter"},
		{identity: "admin", wantType: poolerrors.ErrorTypeSecurityViolation},
		{identity: "nologin", wantType: poolerrors.ErrorTypeSecurityViolation},
		{identity: "ghost", wantType: poolerrors.ErrorTypeIdentityNotFound},
		{identity: "", wantType: poolerrors.ErrorTypeInvalidArgument},
	}

	for _, policy := range []Policy{Default{}, Strict{}} {
		for _, tt := range tests {
			t.Run(policy.Name()+"/"+tt.identity, func(t *testing.T) {
				err := policy.CheckLogin(context.Background(), newConn(t), tt.identity)
				if tt.wantType == "" {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.True(t, poolerrors.IsType(err, tt.wantType), "got %v", err)
			})
		}
	}
}

func TestDisabledApprovesEverything(t *testing.T) {
	c := newConn(t)
	assert.NoError(t, Disabled{}.CheckLogin(context.Background(), c, "admin"))
	assert.NoError(t, Disabled{}.CheckSwitch(context.Background(), c, "admin"))
	assert.NoError(t, Disabled{}.CheckSwitch(context.Background(), c, "ghost"))
}

func TestDefaultSwitchIsNoop(t *testing.T) {
	assert.NoError(t, Default{}.CheckSwitch(context.Background(), newConn(t), "admin"))
}

func TestStrictSwitchCheck(t *testing.T) {
	c := newConn(t)
	ctx := context.Background()

	assert.NoError(t, Strict{}.CheckSwitch(ctx, c, "viewer"))

	err := Strict{}.CheckSwitch(ctx, c, "admin")
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeSecurityViolation))
	assert.Contains(t, err.Error(), "privileged")

	err = Strict{}.CheckSwitch(ctx, c, "auditor")
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeSecurityViolation))
	assert.Contains(t, err.Error(), "log in directly")

	err = Strict{}.CheckSwitch(ctx, c, "ghost")
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeIdentityNotFound))
	assert.False(t, poolerrors.IsType(err, poolerrors.ErrorTypeSecurityViolation))
}

func TestLookupWrapsBackendFailures(t *testing.T) {
	b := testutil.NewBackend().AddRole("reporter", testutil.Role{CanLogin: true})
	p, err := b.Open(context.Background(), "sales", config.DefaultPoolConfig())
	require.NoError(t, err)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	boom := errors.New("catalog unavailable")
	b.FailStatement(testutil.Dialect{}.IdentityQuery(), boom)

	_, err = Lookup(context.Background(), c, "reporter")
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConnection))
	assert.ErrorIs(t, err, boom)
}

func TestLookupReturnsMetadata(t *testing.T) {
	info, err := Lookup(context.Background(), newConn(t), "admin")
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "admin", Privileged: true, CanLogin: true}, info)
}
