// Package rolepool manages one connection pool per named database and hands
// out connections that have been switched to a requested database identity.
//
// Every pool logs in as a single configured identity. On checkout the
// connection assumes the identity the caller asked for (SET ROLE on
// PostgreSQL, SET ROLE on MySQL 8), after the pool's security policy has
// approved it. On release the identity is reset before the connection goes
// back to the pool, so the next borrower never inherits a previous identity.
//
// # Quick Start
//
//	import (
//	    "github.com/ajitpratap0/rolepool/pkg/backend/postgres"
//	    "github.com/ajitpratap0/rolepool/pkg/config"
//	    "github.com/ajitpratap0/rolepool/pkg/registry"
//	)
//
//	cfg, _ := config.Load("rolepool.yaml")
//	r := registry.New(registry.Options{
//	    Driver: postgres.NewDriver(cfg.DSN),
//	    Source: cfg,
//	})
//	defer r.Shutdown(ctx)
//
//	conn, err := r.Checkout(ctx, "sales", "viewer")
//	if err != nil {
//	    return err
//	}
//	defer conn.Release()
//
// # Key Packages
//
//	pkg/registry      - Lazily created pools keyed by database name
//	pkg/pool          - Pool handle, checkout/release and statistics
//	pkg/security      - Login and switch policies (disabled, default, strict)
//	pkg/identity      - Identity switching on a physical connection
//	pkg/events        - Lifecycle hooks around pool creation and shutdown
//	pkg/backend       - Backend contracts with postgres and mysql drivers
//	pkg/config        - YAML configuration with environment overrides
//	pkg/errors        - Typed errors
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Command Line
//
//	rolepool check sales --identity viewer
//	rolepool stats sales inventory
//	rolepool serve sales --listen :9090
package rolepool
