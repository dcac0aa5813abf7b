package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"safe-route-server/graphstore"
	"safe-route-server/metrics"
	"safe-route-server/navigation"
	"safe-route-server/planner"
	"safe-route-server/risk"
	"safe-route-server/telemetry"
	"safe-route-server/zonesource"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer telemetry.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	reg := metrics.DefaultRegistry()

	logger.Info("loading road graph", "path", cfg.Data.GraphPath)
	graph, err := graphstore.Load(cfg.Data.GraphPath, logger)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	reg.SetGraphSize(graph.NodeCount(), graph.EdgeCount())

	g, ctx := errgroup.WithContext(ctx)

	zones := zonesource.NewStore(reg, logger)
	if err := startZoneSources(ctx, g, cfg.Data, zones, logger); err != nil {
		return err
	}

	p := planner.New(graph, planner.Options{
		Config:    cfg.Routing,
		Zones:     zones,
		Evaluator: risk.NewEvaluator(cfg.Risk, logger),
		Metrics:   reg,
		Logger:    logger,
	})
	sessions := navigation.NewRegistry(navigation.Options{
		Config:       cfg.Navigation,
		Alerts:       cfg.Alerts,
		Recalculator: p,
		Zones:        zones,
		Metrics:      reg,
		Logger:       logger,
	})

	srv := &server{
		cfg:      cfg,
		planner:  p,
		zones:    zones,
		sessions: sessions,
		metrics:  reg,
		logger:   logger,
		started:  time.Now(),
	}

	if ttl := cfg.Server.SessionIdleTTL; ttl > 0 {
		g.Go(func() error {
			sessions.ReapIdle(ctx, ttl, time.Minute)
			return nil
		})
	}

	gin.SetMode(gin.ReleaseMode)
	servers := []*http.Server{{
		Addr:              cfg.Server.Addr,
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Server.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           srv.adminRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	for _, hs := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "active_sessions", sessions.Len())
		sessions.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, hs := range servers {
			if err := hs.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", hs.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// startZoneSources performs the initial zone loads and schedules watching
// and polling. A missing source is not an error: routing runs without zones.
func startZoneSources(ctx context.Context, g *errgroup.Group, cfg DataConfig, store *zonesource.Store, logger *slog.Logger) error {
	if cfg.ZonesPath != "" {
		source := "file:" + filepath.Base(cfg.ZonesPath)
		zs, err := zonesource.LoadFile(cfg.ZonesPath, logger)
		if err != nil {
			return fmt.Errorf("load zones: %w", err)
		}
		store.Replace(source, zs)

		if cfg.WatchZones {
			g.Go(func() error {
				if err := zonesource.Watch(ctx, cfg.ZonesPath, store, 0); err != nil {
					logger.Warn("zone file watcher stopped", "error", err)
				}
				return nil
			})
		}
	}

	if cfg.ZonesDatabaseURL != "" {
		g.Go(func() error {
			pg, err := connectZoneDatabase(ctx, cfg, store, logger)
			if err != nil {
				return nil
			}
			defer pg.Close()
			if err := zonesource.Poll(ctx, "postgres", pg, store, cfg.ZonesRefresh); err != nil {
				logger.Warn("zone database fetch failed; routing without database zones", "error", err)
			}
			return nil
		})
	}

	if cfg.ZonesPath == "" && cfg.ZonesDatabaseURL == "" {
		logger.Warn("no zone source configured; routes are scored against an empty zone set")
	}
	return nil
}

// connectZoneDatabase retries until the database answers or ctx is done.
// Routing keeps serving with whatever zones the store holds meanwhile.
func connectZoneDatabase(ctx context.Context, cfg DataConfig, store *zonesource.Store, logger *slog.Logger) (*zonesource.PostgresSource, error) {
	retry := cfg.ZonesRefresh
	if retry <= 0 {
		retry = 30 * time.Second
	}
	for {
		pg, err := zonesource.NewPostgresSource(ctx, cfg.ZonesDatabaseURL, logger)
		if err == nil {
			return pg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		store.Fail("postgres", fmt.Errorf("connect zone database: %w", err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}
