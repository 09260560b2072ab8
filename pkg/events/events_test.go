package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/rolepool/pkg/config"
	poolerrors "github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/pool"
	"github.com/ajitpratap0/rolepool/pkg/testutil"
)

func salesHandle() *pool.Handle {
	return pool.NewHandle(pool.Options{
		Name:   "sales",
		Config: config.DefaultPoolConfig(),
		Driver: testutil.NewBackend(),
	})
}

func TestBindValidation(t *testing.T) {
	d := NewDispatcher(nil)

	err := d.Bind(nil)
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeInvalidArgument))

	err = d.Bind(&Binding{})
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeInvalidArgument))
	assert.Contains(t, err.Error(), "is required")

	err = d.Bind(&Binding{Database: "   "})
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeInvalidArgument))
	assert.Contains(t, err.Error(), "must not be blank")

	require.NoError(t, d.Bind(&Binding{Database: " sales "}))
	assert.True(t, d.Bound("sales"))
	assert.True(t, d.Unbind("sales"))
	assert.False(t, d.Bound("sales"))
	assert.False(t, d.Unbind("sales"))
}

func TestRebindReplacesAndWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDispatcher(zap.New(core))

	var calls []string
	require.NoError(t, d.Bind(&Binding{Database: "sales", Observers: []Observer{{
		AfterClose: func(context.Context, string) error { calls = append(calls, "first"); return nil },
	}}}))
	require.NoError(t, d.Bind(&Binding{Database: "sales", Observers: []Observer{{
		AfterClose: func(context.Context, string) error { calls = append(calls, "second"); return nil },
	}}}))

	d.AfterClose(context.Background(), "sales")

	assert.Equal(t, []string{"second"}, calls)
	assert.Equal(t, 1, logs.FilterMessage("replacing existing listener binding").Len())
}

func TestBeforeCreateMutatesConfigInOrder(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(t))
	require.NoError(t, d.Bind(&Binding{Database: "sales", Observers: []Observer{
		{BeforeCreate: func(_ context.Context, _ string, cfg *config.PoolConfig) error {
			cfg.MaxPoolSize = 50
			return nil
		}},
		{},
		{BeforeCreate: func(_ context.Context, _ string, cfg *config.PoolConfig) error {
			cfg.MaxPoolSize++
			cfg.SecurityPolicy = config.PolicyStrict
			return nil
		}},
	}}))

	cfg := config.DefaultPoolConfig()
	require.NoError(t, d.BeforeCreate(context.Background(), "sales", &cfg))
	assert.Equal(t, 51, cfg.MaxPoolSize)
	assert.Equal(t, config.PolicyStrict, cfg.SecurityPolicy)

	other := config.DefaultPoolConfig()
	require.NoError(t, d.BeforeCreate(context.Background(), "hr", &other))
	assert.Equal(t, config.DefaultPoolConfig(), other)
}

func TestCreationHookFailureIsFatal(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(t))
	boom := errors.New("vault unreachable")

	var reported []Stage
	secondRan := false
	require.NoError(t, d.Bind(&Binding{Database: "sales", Observers: []Observer{
		{
			BeforeCreate: func(context.Context, string, *config.PoolConfig) error { return boom },
			OnException:  func(_ string, stage Stage, _ error) { reported = append(reported, stage) },
		},
		{
			BeforeCreate: func(context.Context, string, *config.PoolConfig) error { secondRan = true; return nil },
		},
	}}))

	cfg := config.DefaultPoolConfig()
	err := d.BeforeCreate(context.Background(), "sales", &cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondRan)
	assert.Equal(t, []Stage{StageBeforeCreate}, reported)
}

func TestAfterCreatePanicIsRecovered(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(t))
	require.NoError(t, d.Bind(&Binding{Database: "sales", Observers: []Observer{{
		AfterCreate: func(context.Context, *pool.Handle) error { panic("nil map") },
	}}}))

	var err error
	require.NotPanics(t, func() {
		err = d.AfterCreate(context.Background(), salesHandle())
	})
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeInternal))
	assert.Contains(t, err.Error(), "panicked: nil map")
}

func TestShutdownHookFailuresAreSwallowed(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(t))

	var reported []Stage
	var ran []string
	require.NoError(t, d.Bind(&Binding{Database: "sales", Observers: []Observer{
		{
			BeforeClose: func(context.Context, *pool.Handle) error { ran = append(ran, "before-1"); return errors.New("flush failed") },
			AfterClose:  func(context.Context, string) error { ran = append(ran, "after-1"); panic("boom") },
			OnException: func(_ string, stage Stage, _ error) {
				reported = append(reported, stage)
				panic("handler also broken")
			},
		},
		{
			BeforeClose: func(context.Context, *pool.Handle) error { ran = append(ran, "before-2"); return nil },
			AfterClose:  func(context.Context, string) error { ran = append(ran, "after-2"); return nil },
		},
	}}))

	require.NotPanics(t, func() {
		d.BeforeClose(context.Background(), salesHandle())
		d.AfterClose(context.Background(), "sales")
	})

	assert.Equal(t, []string{"before-1", "before-2", "after-1", "after-2"}, ran)
	assert.Equal(t, []Stage{StageBeforeClose, StageAfterClose}, reported)
}
