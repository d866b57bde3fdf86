package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/0xd3bs/buysmart/internal/config"
	"github.com/0xd3bs/buysmart/internal/metrics"
	"github.com/0xd3bs/buysmart/internal/position"
	"github.com/0xd3bs/buysmart/internal/reconcile"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the reconciliation worker and the WebSocket hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadTo(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			logger.Debug("loaded configuration", "config", cfg.Redacted())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			rec := reconcile.New(d.store, d.resolver, logger)
			queue := reconcile.NewQueue(rec, reconcile.QueueConfig{
				Guard:  d.guard(cfg),
				Dedup:  reconcile.NewDedup(cfg.Reconcile.DedupTTL.Duration),
				Delay:  cfg.Reconcile.Delay.Duration,
				Logger: logger,
			})
			hub := position.NewWSHub()
			svc := position.NewService(d.store, d.resolver, d.feed, queue, hub)

			srv := &http.Server{
				Addr:         ":" + strconv.Itoa(cfg.Server.Port),
				Handler:      newRouter(cfg, svc),
				ReadTimeout:  cfg.Server.ReadTimeout.Duration,
				WriteTimeout: cfg.Server.WriteTimeout.Duration,
				IdleTimeout:  60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return queue.Run(gctx) })
			g.Go(func() error { return hub.Run(gctx) })
			g.Go(func() error {
				logger.Info("buysmart listening",
					"port", cfg.Server.Port,
					"store", cfg.Store.Driver,
					"price_feed", d.feed.Name(),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down buysmart...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Info("buysmart stopped")
			return err
		},
	}
}

func newRouter(cfg *config.Config, svc *position.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"buysmart"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)
	return r
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.ContainsFunc(origins, func(o string) bool { return strings.EqualFold(o, origin) }):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
