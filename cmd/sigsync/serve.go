package main

import (
	"context"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vango-dev/sigsync/internal/config"
	"github.com/vango-dev/sigsync/internal/errors"
	"github.com/vango-dev/sigsync/pkg/derive"
	"github.com/vango-dev/sigsync/pkg/middleware"
	"github.com/vango-dev/sigsync/pkg/server"
	"github.com/vango-dev/sigsync/pkg/signals"
	"github.com/vango-dev/sigsync/pkg/transport/wsconn"
)

func serveCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host signals for WebSocket peers",
		Long: `Start a sigsync server.

The server creates the signals listed under signals.initial, derives
the expressions under derived, and replicates every change to the
peers connected on /sync. Late joiners receive the current values
first.

Endpoints:
  /sync      WebSocket sync endpoint
  /signals   current values as JSON
  /healthz   liveness and peer count
  /metrics   Prometheus metrics (metrics.enabled)

Examples:
  sigsync serve
  sigsync serve --addr :9000
  SIGSYNC_LOG_LEVEL=debug sigsync serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				g.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), g.cfg, g.logger)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from server.addr)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	srv, err := newHost(cfg, logger)
	if err != nil {
		return err
	}

	success("sigsync serving on %s", bold(cfg.Server.Addr))
	info("sync:    %s", cyan("/sync"))
	info("signals: %d", srv.Context().Len())
	if cfg.Metrics.Enabled {
		info("metrics: %s", cyan("/metrics"))
	}

	if err := srv.Run(ctx); err != nil {
		return errors.New("E202").WithDetail(cfg.Server.Addr).Wrap(err)
	}
	info("%s", yellow("stopped"))
	return nil
}

// serverConfig maps file configuration onto the server package.
func serverConfig(cfg *config.Config) *server.Config {
	sc := server.DefaultConfig()
	sc.Address = cfg.Server.Addr
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout
	if cfg.Server.AllowAnyOrigin {
		sc.CheckOrigin = server.AllowAllOrigins
	}
	sc.Conn = wsconn.Config{
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		HeartbeatInterval: cfg.Server.Heartbeat,
		MaxMessageSize:    wsconn.DefaultConfig().MaxMessageSize,
	}
	return sc
}

// newHost builds the server and seeds its context from cfg.
func newHost(cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithSyncOptions(signals.WithIDLength(cfg.Signals.IDLength)),
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := middleware.NewMetrics(
			middleware.WithNamespace(cfg.Metrics.Namespace),
			middleware.WithRegistry(reg),
		)
		opts = append(opts, server.WithMetrics(m, reg))
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, server.WithMiddleware(
			middleware.OpenTelemetry(middleware.WithTracerName(cfg.Tracing.TracerName)),
		))
	}

	srv := server.New(serverConfig(cfg), opts...)
	if err := seed(srv.Context(), cfg); err != nil {
		srv.Shutdown(context.Background())
		return nil, err
	}
	return srv, nil
}

// seed creates the initial signals in id order, then the derived ones in
// file order. Derived expressions may name earlier derived ids.
func seed(sc *signals.SyncContext, cfg *config.Config) error {
	env := make(derive.Env, len(cfg.Signals.Initial)+len(cfg.Derived))

	ids := make([]string, 0, len(cfg.Signals.Initial))
	for id := range cfg.Signals.Initial {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := signals.NewSignal[any](sc, cfg.Signals.Initial[id], signals.WithID(id))
		env[id] = derive.From[any](s)
	}

	for _, d := range cfg.Derived {
		c, err := derive.Expr(sc, d.Expr, env)
		if err != nil {
			return errors.New("E105").WithDetailf("derived %q: %s", d.ID, d.Expr).Wrap(err)
		}
		s, _ := derive.Publish(sc, c, d.ID)
		env[d.ID] = derive.From[any](s)
	}
	return nil
}
