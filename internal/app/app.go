package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xyzzy121/Unicopia/abilities/builtin"
	"github.com/xyzzy121/Unicopia/abilities/catalog"
	"github.com/xyzzy121/Unicopia/internal/config"
	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/internal/hub"
	servernet "github.com/xyzzy121/Unicopia/internal/net"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/sim"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/store/sqlite"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/internal/world"
	"github.com/xyzzy121/Unicopia/logging"
	loggingSinks "github.com/xyzzy121/Unicopia/logging/sinks"
)

const (
	shutdownTimeout = 5 * time.Second

	metricLogEventsDropped = "log_events_dropped_total"
)

type Options struct {
	Logger telemetry.Logger
	Stdout io.Writer
}

// Run serves one hub until ctx ends, then shuts the HTTP server down and
// lets the hub save.
func Run(ctx context.Context, cfg config.Config, opts Options) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	telemetryLogger := opts.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	logConfig := cfg.Logging()
	sinks, err := loggingSinks.Build(logConfig, stdout)
	if err != nil {
		return fmt.Errorf("failed to construct log sinks: %w", err)
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, fallbackLogger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	router.OnDrop(func(logging.EventType, string) { metrics.Add(metricLogEventsDropped, 1) })

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			telemetryLogger.Printf("failed to close store: %v", cerr)
		}
	}()

	resolver, err := catalog.Load(builtin.Registry(), catalogPaths(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to load ability catalog: %w", err)
	}

	h, err := hub.New(ctx, hubConfig(cfg), hub.Deps{
		Logger:    telemetryLogger,
		Publisher: router,
		Metrics:   metrics,
		Store:     db,
		Registry:  resolver.Apply(builtin.Registry()),
		Clock:     logging.SystemClock{},
	})
	if err != nil {
		return err
	}

	handler := servernet.NewHTTPHandler(h, servernet.HTTPHandlerConfig{
		ClientDir: cfg.ClientDir,
		Logger:    telemetryLogger,
		Observability: observability.Config{
			EnableMetrics:    cfg.EnableMetrics,
			EnablePprofTrace: cfg.EnablePprofTrace,
		},
		Gatherer: registry,
		Catalog:  resolver,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var hubErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		hubErr = h.Run(runCtx)
	}()
	if h.Role() == coordinator.RoleObserver {
		follower := servernet.NewObserver(h, servernet.ObserverConfig{URL: cfg.Upstream, Logger: telemetryLogger})
		wg.Add(1)
		go func() {
			defer wg.Done()
			follower.Run(runCtx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		telemetryLogger.Printf("%s hub %q listening on %s", h.Role(), h.WorldName(), srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetryLogger.Printf("http shutdown: %v", err)
	}
	cancel()
	wg.Wait()
	return errors.Join(runErr, hubErr)
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DBPath == "" {
		return store.NewMemory(), nil
	}
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return db, nil
}

func catalogPaths(cfg config.Config) []string {
	if len(cfg.CatalogPath) > 0 {
		return cfg.CatalogPath
	}
	return catalog.DefaultPaths()
}

func hubConfig(cfg config.Config) hub.Config {
	return hub.Config{
		Role:                   cfg.CoordinatorRole(),
		SlotCount:              cfg.SlotCount,
		MissingActorRetryTicks: cfg.MissingActorRetryTicks,
		SaveIntervalTicks:      cfg.SaveIntervalTicks,
		DisconnectAfter:        cfg.DisconnectAfter,
		Loop: sim.LoopConfig{
			TickRate:        cfg.TickRate,
			CommandCapacity: cfg.CommandCapacity,
			PerActorLimit:   cfg.PerActorLimit,
		},
		World: world.Config{
			Name:  cfg.World,
			Seed:  cfg.Seed,
			Trees: cfg.Trees,
		},
	}
}
