package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/logger"
	"github.com/ajitpratap0/rolepool/pkg/metrics"
	"github.com/ajitpratap0/rolepool/pkg/observability"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "rolepool",
		Short: "rolepool - policy-guarded connection pools per database",
		Long: `rolepool manages one connection pool per named database and switches each
checked-out connection to the requested identity after the configured security
policy approves it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "rolepool.yaml", "Path to YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rolepool v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	var identity string
	var timeout time.Duration
	checkCmd := &cobra.Command{
		Use:   "check <database>",
		Short: "Check out one connection and print its effective identity",
		Long: `Create the pool for a database, check out a connection (as --identity when
given, otherwise as the login identity) and print the effective identity and
pool statistics as JSON.

Example:
  rolepool check sales --identity viewer`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(configFile, nil)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			result, err := a.check(ctx, args[0], identity)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	checkCmd.Flags().StringVarP(&identity, "identity", "i", "", "Identity to assume (default: login identity)")
	checkCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	root.AddCommand(checkCmd)

	statsCmd := &cobra.Command{
		Use:   "stats <database>...",
		Short: "Open pools for the given databases and print their statistics as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(configFile, nil)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.warm(ctx, args); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a.registry.Snapshot())
		},
	}
	statsCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	root.AddCommand(statsCmd)

	var listen string
	serveCmd := &cobra.Command{
		Use:   "serve [database]...",
		Short: "Expose pool metrics over HTTP",
		Long: `Open pools for the given databases and serve Prometheus metrics until
interrupted. Pools for other databases are not created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFile, listen, args)
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: metrics.listen from config)")
	root.AddCommand(serveCmd)

	return root
}

func serve(ctx context.Context, configFile, listen string, databases []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(configFile, reg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	reg.MustRegister(metrics.NewPoolCollector(a.cfg.Metrics.Namespace, a.registry))

	if listen == "" {
		listen = a.cfg.Metrics.Listen
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.warm(ctx, databases); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.registry.Closed() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = writeJSON(w, a.registry.Snapshot())
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           observability.TracingMiddleware("rolepool")(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("serving metrics", zap.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
