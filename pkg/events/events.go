// Package events dispatches pool lifecycle hooks to observers bound per
// database name.
//
// Observers are plain structs of optional callbacks:
//
//	registry.AddListener(&events.Binding{
//		Database: "sales",
//		Observers: []events.Observer{{
//			BeforeCreate: func(ctx context.Context, name string, cfg *config.PoolConfig) error {
//				cfg.MaxPoolSize = 50
//				return nil
//			},
//			AfterClose: func(ctx context.Context, name string) error {
//				log.Printf("%s closed", name)
//				return nil
//			},
//		}},
//	})
//
// Creation hooks (BeforeCreate, AfterCreate) abort the pool creation when they
// fail or panic. Shutdown hooks (BeforeClose, AfterClose) never stop a
// shutdown: their failures go to OnException and the log. OnException is
// told about every hook failure.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/pool"
)

// Stage names a lifecycle hook
type Stage string

const (
	StageBeforeCreate Stage = "before_create"
	StageAfterCreate  Stage = "after_create"
	StageBeforeClose  Stage = "before_close"
	StageAfterClose   Stage = "after_close"
)

// Observer receives lifecycle callbacks. Nil fields are skipped.
type Observer struct {
	// BeforeCreate may adjust the configuration before the pool is built
	BeforeCreate func(ctx context.Context, database string, cfg *config.PoolConfig) error
	// AfterCreate runs once the backend pool exists, before it is validated
	AfterCreate func(ctx context.Context, h *pool.Handle) error
	// BeforeClose runs while the pool is still usable
	BeforeClose func(ctx context.Context, h *pool.Handle) error
	// AfterClose runs once the pool is closed
	AfterClose func(ctx context.Context, database string) error
	// OnException is told about failed or panicking hooks
	OnException func(database string, stage Stage, err error)
}

// Binding attaches ordered observers to one database name
type Binding struct {
	Database  string
	Observers []Observer
}

// Dispatcher holds bindings and runs their hooks
type Dispatcher struct {
	mu       sync.RWMutex
	bindings map[string][]Observer
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bindings: make(map[string][]Observer),
		logger:   logger.With(zap.String("component", "events")),
	}
}

// Bind installs b, replacing any binding for the same database.
func (d *Dispatcher) Bind(b *Binding) error {
	if b == nil {
		return errors.New(errors.ErrorTypeInvalidArgument, "listener binding is required")
	}
	name, err := config.NormalizeName(b.Database, "listener database name")
	if err != nil {
		return err
	}

	observers := append([]Observer(nil), b.Observers...)

	d.mu.Lock()
	_, replaced := d.bindings[name]
	d.bindings[name] = observers
	d.mu.Unlock()

	if replaced {
		d.logger.Warn("replacing existing listener binding", zap.String("database", name))
	}
	return nil
}

// Unbind removes the binding for database and reports whether one existed
func (d *Dispatcher) Unbind(database string) bool {
	name := strings.TrimSpace(database)

	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bindings[name]
	delete(d.bindings, name)
	return ok
}

// Bound reports whether database has a binding
func (d *Dispatcher) Bound(database string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.bindings[strings.TrimSpace(database)]
	return ok
}

func (d *Dispatcher) observers(database string) []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bindings[database]
}

// BeforeCreate runs the before-create hooks. The first failure stops the
// chain and is returned.
func (d *Dispatcher) BeforeCreate(ctx context.Context, database string, cfg *config.PoolConfig) error {
	for _, o := range d.observers(database) {
		if o.BeforeCreate == nil {
			continue
		}
		if err := d.run(database, StageBeforeCreate, o, func() error {
			return o.BeforeCreate(ctx, database, cfg)
		}); err != nil {
			return err
		}
	}
	return nil
}

// AfterCreate runs the after-create hooks. The first failure stops the chain
// and is returned.
func (d *Dispatcher) AfterCreate(ctx context.Context, h *pool.Handle) error {
	for _, o := range d.observers(h.Name()) {
		if o.AfterCreate == nil {
			continue
		}
		if err := d.run(h.Name(), StageAfterCreate, o, func() error {
			return o.AfterCreate(ctx, h)
		}); err != nil {
			return err
		}
	}
	return nil
}

// BeforeClose runs every before-close hook, reporting and swallowing failures
func (d *Dispatcher) BeforeClose(ctx context.Context, h *pool.Handle) {
	for _, o := range d.observers(h.Name()) {
		if o.BeforeClose == nil {
			continue
		}
		_ = d.run(h.Name(), StageBeforeClose, o, func() error {
			return o.BeforeClose(ctx, h)
		})
	}
}

// AfterClose runs every after-close hook, reporting and swallowing failures
func (d *Dispatcher) AfterClose(ctx context.Context, database string) {
	for _, o := range d.observers(database) {
		if o.AfterClose == nil {
			continue
		}
		_ = d.run(database, StageAfterClose, o, func() error {
			return o.AfterClose(ctx, database)
		})
	}
}

func (d *Dispatcher) run(database string, stage Stage, o Observer, hook func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrorTypeInternal, "%s hook for %q panicked: %v", stage, database, r)
		}
		if err == nil {
			return
		}
		if typed, ok := err.(*errors.Error); ok {
			typed.WithDetail("stage", string(stage))
		}
		d.logger.Warn("lifecycle hook failed",
			zap.String("database", database),
			zap.String("stage", string(stage)),
			zap.Error(err))
		d.report(database, stage, o, err)
	}()

	if hookErr := hook(); hookErr != nil {
		return errors.Wrap(hookErr, errors.ErrorTypeInternal, fmt.Sprintf("%s hook for %q failed", stage, database))
	}
	return nil
}

func (d *Dispatcher) report(database string, stage Stage, o Observer, err error) {
	if o.OnException == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("exception handler panicked",
				zap.String("database", database),
				zap.String("stage", string(stage)),
				zap.Any("panic", r))
		}
	}()
	o.OnException(database, stage, err)
}
