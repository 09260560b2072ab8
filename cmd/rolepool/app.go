package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/backend/mysql"
	"github.com/ajitpratap0/rolepool/pkg/backend/postgres"
	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/logger"
	"github.com/ajitpratap0/rolepool/pkg/metrics"
	"github.com/ajitpratap0/rolepool/pkg/observability"
	"github.com/ajitpratap0/rolepool/pkg/pool"
	"github.com/ajitpratap0/rolepool/pkg/registry"
)

// app is the wiring shared by the commands
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *registry.Registry
}

// checkResult is printed by the check command
type checkResult struct {
	Database          string     `json:"database"`
	RequestedIdentity string     `json:"requested_identity,omitempty"`
	EffectiveIdentity string     `json:"effective_identity"`
	Stats             pool.Stats `json:"stats"`
}

func newApp(configFile string, reg prometheus.Registerer) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	log := logger.Get().With(zap.String("component", "rolepool-cli"))

	if err := observability.Init(cfg.Tracing, nil); err != nil {
		return nil, err
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if reg != nil || cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		collector = metrics.NewCollector(reg, cfg.Metrics.Namespace)
	}

	return &app{
		cfg: cfg,
		log: log,
		registry: registry.New(registry.Options{
			Driver:  driver,
			Source:  cfg,
			Logger:  logger.Get(),
			Metrics: collector,
		}),
	}, nil
}

func newDriver(cfg *config.Config) (backend.Driver, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.NewDriver(cfg.DSN), nil
	case "mysql":
		return mysql.NewDriver(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func (a *app) check(ctx context.Context, database, identity string) (*checkResult, error) {
	var (
		conn *pool.Conn
		err  error
	)
	if identity == "" {
		conn, err = a.registry.CheckoutDefault(ctx, database)
	} else {
		conn, err = a.registry.Checkout(ctx, database, identity)
	}
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	current, err := conn.CurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.registry.Stats(database)
	if err != nil {
		return nil, err
	}

	return &checkResult{
		Database:          conn.Database(),
		RequestedIdentity: identity,
		EffectiveIdentity: current,
		Stats:             stats,
	}, nil
}

// warm creates the pools for databases by checking out and releasing one
// default connection each
func (a *app) warm(ctx context.Context, databases []string) error {
	for _, db := range databases {
		conn, err := a.registry.CheckoutDefault(ctx, db)
		if err != nil {
			return err
		}
		conn.Release()
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if err := a.registry.Shutdown(ctx); err != nil {
		a.log.Warn("registry shutdown reported errors", zap.Error(err))
	}
	if err := observability.Shutdown(ctx); err != nil {
		a.log.Warn("tracer shutdown failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
