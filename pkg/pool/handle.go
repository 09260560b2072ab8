package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/identity"
	"github.com/ajitpratap0/rolepool/pkg/metrics"
	"github.com/ajitpratap0/rolepool/pkg/observability"
	"github.com/ajitpratap0/rolepool/pkg/security"
)

// State is the lifecycle state of a Handle
type State int32

const (
	StateUninitialized State = iota
	StateCreating
	StateActive
	StateClosed
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreating:
		return "creating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a new Handle
type Options struct {
	Name    string
	Config  config.PoolConfig
	Driver  backend.Driver
	Policy  security.Policy
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Handle owns one backend pool and the policy guarding it.
type Handle struct {
	name     string
	driver   backend.Driver
	policy   security.Policy
	switcher *identity.Switcher
	logger   *zap.Logger
	metrics  *metrics.Collector

	state atomic.Int32

	// mu guards cfg and pool
	mu   sync.RWMutex
	cfg  config.PoolConfig
	pool backend.Pool
}

// NewHandle creates an uninitialized Handle. Nothing is opened until Open.
func NewHandle(opts Options) *Handle {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "pool"), zap.String("database", opts.Name))

	policy := opts.Policy
	if policy == nil {
		policy = security.Default{}
	}

	return &Handle{
		name:     opts.Name,
		driver:   opts.Driver,
		policy:   policy,
		switcher: identity.NewSwitcher(log),
		logger:   log,
		metrics:  opts.Metrics,
		cfg:      opts.Config,
	}
}

// Name returns the database this Handle serves
func (h *Handle) Name() string { return h.name }

// State returns the current lifecycle state
func (h *Handle) State() State { return State(h.state.Load()) }

// Policy returns the security policy guarding this Handle
func (h *Handle) Policy() security.Policy { return h.policy }

// Open constructs the backend pool and moves the Handle to Creating.
func (h *Handle) Open(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(StateUninitialized), int32(StateCreating)) {
		return h.stateError("open")
	}
	if h.driver == nil {
		return errors.New(errors.ErrorTypeConfig, "no backend driver configured")
	}

	h.mu.RLock()
	cfg := h.cfg
	h.mu.RUnlock()

	p, err := h.driver.Open(ctx, h.name, cfg)
	if err != nil {
		return asError(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to open %s pool for %q", h.driver.Name(), h.name))
	}

	h.mu.Lock()
	h.pool = p
	h.mu.Unlock()

	h.logger.Debug("backend pool constructed",
		zap.String("driver", h.driver.Name()),
		zap.Int("max_pool_size", cfg.MaxPoolSize))
	return nil
}

// Validate checks out one connection, runs the login check against the pool's
// login identity and activates the Handle.
func (h *Handle) Validate(ctx context.Context) error {
	if h.State() != StateCreating {
		return h.stateError("validate")
	}
	cfg, p, err := h.backendPool()
	if err != nil {
		return err
	}

	conn, err := h.acquire(ctx, p, cfg)
	if err != nil {
		return err
	}

	vctx, cancel := withTimeout(ctx, cfg.ValidationTimeout)
	defer cancel()

	login := cfg.Username
	if login == "" {
		// login identity comes from the DSN
		if login, err = identity.Login(vctx, conn); err != nil {
			_ = conn.Destroy(ctx)
			return err
		}
	}

	if err := h.policy.CheckLogin(vctx, conn, login); err != nil {
		conn.Release()
		h.logger.Warn("login identity rejected",
			zap.String("identity", login),
			zap.String("policy", h.policy.Name()),
			zap.Error(err))
		return err
	}
	conn.Release()

	if !h.state.CompareAndSwap(int32(StateCreating), int32(StateActive)) {
		return h.stateError("activate")
	}
	h.logger.Info("pool active",
		zap.String("identity", login),
		zap.String("policy", h.policy.Name()))
	return nil
}

// Checkout returns a connection running as identity. An empty identity
// checks out a connection reset to the login identity.
func (h *Handle) Checkout(ctx context.Context, identity string) (c *Conn, err error) {
	ctx, span := observability.StartSpan(ctx, "pool.checkout",
		observability.AttrDatabase.String(h.name),
		observability.AttrIdentity.String(identity),
		observability.AttrPolicy.String(h.policy.Name()))
	timer := metrics.NewTimer()
	defer func() {
		h.metrics.ObserveCheckout(h.name, err, timer.Stop())
		observability.EndSpan(span, err)
	}()

	if h.State() != StateActive {
		return nil, h.stateError("checkout")
	}
	cfg, p, err := h.backendPool()
	if err != nil {
		return nil, err
	}

	conn, err := h.acquire(ctx, p, cfg)
	if err != nil {
		return nil, err
	}

	if err := h.prepare(ctx, conn, cfg, identity); err != nil {
		h.restore(ctx, conn, cfg)
		h.logger.Debug("checkout rejected",
			zap.String("identity", identity),
			zap.Error(err))
		return nil, err
	}

	return newConn(h, conn, identity, cfg.LeakDetectionThreshold), nil
}

func (h *Handle) prepare(ctx context.Context, conn backend.Conn, cfg config.PoolConfig, identity string) error {
	vctx, cancel := withTimeout(ctx, cfg.ValidationTimeout)
	defer cancel()

	if identity == "" {
		return h.switcher.Reset(vctx, conn)
	}
	if err := h.switcher.Assume(vctx, conn, identity); err != nil {
		return err
	}
	return h.policy.CheckSwitch(vctx, conn, identity)
}

func (h *Handle) acquire(ctx context.Context, p backend.Pool, cfg config.PoolConfig) (backend.Conn, error) {
	actx, cancel := withTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	conn, err := p.Acquire(actx)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectionTimeout,
			fmt.Sprintf("no connection to %q available within %s", h.name, cfg.ConnectionTimeout)).
			WithDetail("database", h.name)
	}
	return nil, asError(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to acquire connection to %q", h.name))
}

// restore resets conn to the login identity and returns it to the pool,
// destroying it when the reset fails. The reset runs detached from ctx so a
// cancelled caller still leaves a clean pool.
func (h *Handle) restore(ctx context.Context, conn backend.Conn, cfg config.PoolConfig) {
	rctx, cancel := withTimeout(context.WithoutCancel(ctx), cfg.ValidationTimeout)
	defer cancel()

	if err := h.switcher.Reset(rctx, conn); err != nil {
		h.logger.Warn("destroying connection after failed reset", zap.Error(err))
		_ = conn.Destroy(rctx)
		return
	}
	conn.Release()
}

// Close closes the backend pool. Closing twice is a no-op.
func (h *Handle) Close(context.Context) error {
	if State(h.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}

	h.mu.RLock()
	p := h.pool
	h.mu.RUnlock()
	if p == nil {
		return nil
	}

	if err := p.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to close pool %q", h.name))
	}
	h.logger.Info("pool closed")
	return nil
}

// Config returns a copy of the current configuration
func (h *Handle) Config() (config.PoolConfig, error) {
	cfg, _, err := h.backendPool()
	return cfg, err
}

func (h *Handle) backendPool() (config.PoolConfig, backend.Pool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pool == nil || h.State() == StateClosed {
		return config.PoolConfig{}, nil, h.stateError("access")
	}
	return h.cfg, h.pool, nil
}

func (h *Handle) stateError(op string) error {
	return errors.Newf(errors.ErrorTypeInvalidState, "cannot %s pool %q in state %s", op, h.name, h.State()).
		WithDetail("database", h.name)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// asError keeps typed errors as they are and wraps anything else
func asError(err error, errType errors.ErrorType, message string) error {
	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}
	return errors.Wrap(err, errType, message)
}
