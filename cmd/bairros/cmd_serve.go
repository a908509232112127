package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"bairrosgo/internal/api"
	"bairrosgo/pkg/db/maintenance"
	"bairrosgo/pkg/logging"
	"bairrosgo/pkg/probe"
	"bairrosgo/pkg/render"
	"bairrosgo/pkg/store"
	"bairrosgo/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "inicia o servidor HTTP com o mapa e a API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cleanupLogs, err := logging.Init(&cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		defer cleanupLogs()

		slog.Info("bairros started", "version", version.Version)

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := maintenance.Run(ctx, a.store, a.db, maintenance.Options{
			CacheTTL:         cfg.Dataset.CacheTTL.Std(),
			HistoryRetention: cfg.History.Retention.Std(),
		}); err != nil {
			slog.Error("Maintenance tasks failed", "error", err)
		}

		if err := a.manager.Load(ctx); err != nil {
			slog.Error("Initial dataset load failed", "error", err)
		}

		probes := []probe.Probe{
			{Name: "Database", Check: a.db.Check, Critical: true},
			{Name: "Dataset", Check: a.manager.Check, Critical: true},
		}
		if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
			return fmt.Errorf("startup checks failed: %w", err)
		}

		var history store.QueryStore
		if cfg.History.Enabled {
			history = a.store
		}
		rh := api.NewResolveHandler(a.manager, history, cfg.Resolver.NearestMax.Meters(), render.OptionsFromConfig(cfg.Map))
		srv := api.NewServer(cfg.Server.Address, api.Handlers{
			Resolve: rh,
			Dataset: api.NewDatasetHandler(a.manager, a.loader.Refreshing(), cfg.Request.Timeout.Std()).
				WithStorage(a.store, a.loader.CacheKey()),
			History: api.NewHistoryHandler(history, cfg.History.Limit, cfg.History.H3Resolution),
			Stats:   api.NewStatsHandler(a.tracker, a.client.Backoff(), rh.Counters(), a.manager),
			Live:    api.NewLiveHandler(rh),
			Health:  api.NewHealthHandler(probes),
		})
		return runServer(ctx, srv, cfg.Server.MaxConns)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, maxConns int) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}

	slog.Info("Starting server", "addr", ln.Addr().String(), "max_conns", maxConns)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
