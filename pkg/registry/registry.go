// Package registry maps database names to lazily created, policy-guarded
// pools.
//
// The first checkout for a database creates its pool. Concurrent callers
// racing on the same name share that single creation attempt; a failed
// attempt leaves nothing behind and the next call starts over.
//
//	reg := registry.New(registry.Options{
//		Driver: postgres.NewDriver(cfg.DSN),
//		Source: cfg,
//		Logger: logger.Get(),
//	})
//	defer reg.Shutdown(context.Background())
//
//	conn, err := reg.Checkout(ctx, "sales", "viewer")
//	if err != nil {
//		return err
//	}
//	defer conn.Release()
//
// Creation runs, in order: configuration lookup, before-create hooks,
// configuration validation, backend pool construction, after-create hooks,
// and a validation checkout running the login check. Only then is the pool
// published. Any failure closes what was built and surfaces as
// pool_creation_failed wrapping the cause.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/events"
	"github.com/ajitpratap0/rolepool/pkg/logger"
	"github.com/ajitpratap0/rolepool/pkg/metrics"
	"github.com/ajitpratap0/rolepool/pkg/observability"
	"github.com/ajitpratap0/rolepool/pkg/pool"
	"github.com/ajitpratap0/rolepool/pkg/security"
)

// Options configures a Registry
type Options struct {
	// Driver opens backend pools
	Driver backend.Driver
	// Source supplies per-database configuration; defaults when nil
	Source config.Source
	Logger *zap.Logger
	// Metrics is optional
	Metrics *metrics.Collector
}

// Registry owns every pool created through it.
type Registry struct {
	driver  backend.Driver
	source  config.Source
	base    *zap.Logger
	logger  *zap.Logger
	metrics *metrics.Collector
	events  *events.Dispatcher
	group   singleflight.Group

	// lifecycle is held shared by creations and exclusively by Shutdown
	lifecycle sync.RWMutex
	closed    bool

	mu      sync.RWMutex
	handles map[string]*pool.Handle
}

// New creates an empty registry
func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	source := opts.Source
	if source == nil {
		source = config.NewStaticSource()
	}

	return &Registry{
		driver:  opts.Driver,
		source:  source,
		base:    log,
		logger:  log.With(zap.String("component", "registry")),
		metrics: opts.Metrics,
		events:  events.NewDispatcher(log),
		handles: make(map[string]*pool.Handle),
	}
}

// Checkout returns a connection to database running as identity, creating
// the pool on first use.
func (r *Registry) Checkout(ctx context.Context, database, identity string) (*pool.Conn, error) {
	name, err := config.NormalizeName(database, "database name")
	if err != nil {
		return nil, err
	}
	id, err := config.NormalizeName(identity, "identity")
	if err != nil {
		return nil, err
	}
	return r.checkout(ctx, name, id)
}

// CheckoutDefault returns a connection to database running as the pool's
// login identity.
func (r *Registry) CheckoutDefault(ctx context.Context, database string) (*pool.Conn, error) {
	name, err := config.NormalizeName(database, "database name")
	if err != nil {
		return nil, err
	}
	return r.checkout(ctx, name, "")
}

func (r *Registry) checkout(ctx context.Context, name, identity string) (*pool.Conn, error) {
	ctx = context.WithValue(ctx, logger.DatabaseKey, name)
	if identity != "" {
		ctx = context.WithValue(ctx, logger.IdentityKey, identity)
	}

	h, err := r.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return h.Checkout(ctx, identity)
}

func (r *Registry) lookup(name string) *pool.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[name]
}

func (r *Registry) resolve(ctx context.Context, name string) (*pool.Handle, error) {
	if h := r.lookup(name); h != nil {
		return h, nil
	}

	// Creation is shared by every waiter, so it must not die with the
	// first caller's context.
	createCtx := context.WithoutCancel(ctx)

	ch := r.group.DoChan(name, func() (any, error) {
		r.lifecycle.RLock()
		defer r.lifecycle.RUnlock()

		if r.closed {
			return nil, errors.Newf(errors.ErrorTypeInvalidState, "registry is shut down; cannot create pool %q", name)
		}
		if h := r.lookup(name); h != nil {
			return h, nil
		}

		h, err := r.create(createCtx, name)
		r.metrics.ObserveCreation(name, err)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.handles[name] = h
		r.mu.Unlock()
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pool.Handle), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeConnection, fmt.Sprintf("gave up waiting for pool %q", name))
	}
}

func (r *Registry) create(ctx context.Context, name string) (h *pool.Handle, err error) {
	ctx, span := observability.StartSpan(ctx, "registry.create", observability.AttrDatabase.String(name))
	defer func() { observability.EndSpan(span, err) }()

	log := logger.FromContext(ctx, r.logger)
	fail := func(stage string, cause error) error {
		span.SetAttributes(observability.AttrStage.String(stage))
		log.Warn("pool creation failed", zap.String("stage", stage), zap.Error(cause))
		return creationFailed(name, cause)
	}

	cfg, err := r.source.PoolConfig(name)
	if err != nil {
		return nil, fail("config", errors.Wrap(err, errors.ErrorTypeConfig, "configuration lookup failed"))
	}
	if err := r.events.BeforeCreate(ctx, name, &cfg); err != nil {
		return nil, fail(string(events.StageBeforeCreate), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fail("config", errors.Wrap(err, errors.ErrorTypeConfig, "invalid pool configuration"))
	}
	policy, err := security.ForName(cfg.Policy())
	if err != nil {
		return nil, fail("config", err)
	}

	h = pool.NewHandle(pool.Options{
		Name:    name,
		Config:  cfg,
		Driver:  r.driver,
		Policy:  policy,
		Logger:  r.base,
		Metrics: r.metrics,
	})

	steps := []struct {
		stage string
		run   func(context.Context) error
	}{
		{"open", h.Open},
		{string(events.StageAfterCreate), func(ctx context.Context) error { return r.events.AfterCreate(ctx, h) }},
		{"validate", h.Validate},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			if cerr := h.Close(ctx); cerr != nil {
				log.Warn("failed to close partially created pool", zap.Error(cerr))
			}
			return nil, fail(step.stage, err)
		}
	}

	log.Info("pool created",
		zap.String("policy", policy.Name()),
		zap.Int("max_pool_size", cfg.MaxPoolSize))
	return h, nil
}

func creationFailed(name string, cause error) error {
	return errors.Wrap(cause, errors.ErrorTypePoolCreationFailed, fmt.Sprintf("failed to create pool %q", name)).
		WithDetail("database", name)
}

// AddListener binds lifecycle observers to a database name, replacing any
// previous binding for it.
func (r *Registry) AddListener(b *events.Binding) error {
	return r.events.Bind(b)
}

// RemoveListener drops the binding for database
func (r *Registry) RemoveListener(database string) bool {
	return r.events.Unbind(database)
}

// Shutdown closes every pool. Hook failures are logged and reported to the
// observers; pool close failures are combined into the returned error.
// Calls after the first return nil.
func (r *Registry) Shutdown(ctx context.Context) (err error) {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return nil
	}
	r.closed = true

	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*pool.Handle)
	r.mu.Unlock()
	r.lifecycle.Unlock()

	ctx, span := observability.StartSpan(ctx, "registry.shutdown")
	defer func() { observability.EndSpan(span, err) }()

	names := make([]string, 0, len(handles))
	for name := range handles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h := handles[name]
		r.events.BeforeClose(ctx, h)
		if cerr := h.Close(ctx); cerr != nil {
			r.logger.Error("failed to close pool", zap.String("database", name), zap.Error(cerr))
			err = multierr.Append(err, cerr)
		}
		r.events.AfterClose(ctx, name)
	}

	r.logger.Info("registry shut down", zap.Int("pools", len(names)))
	return err
}

// Closed reports whether Shutdown has been called
func (r *Registry) Closed() bool {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	return r.closed
}
