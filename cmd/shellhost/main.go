// Package main runs the shell host: the composition server that loads
// modules, aggregates their routes, synchronizes authentication state,
// and streams events to connected shells.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/microshell/shell_host/internal/authstate"
	"github.com/microshell/shell_host/internal/config"
	"github.com/microshell/shell_host/internal/container"
	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/kvstore"
	"github.com/microshell/shell_host/internal/logging"
	"github.com/microshell/shell_host/internal/metrics"
	"github.com/microshell/shell_host/internal/modules"
	"github.com/microshell/shell_host/internal/registry"
	"github.com/microshell/shell_host/internal/router"
	"github.com/microshell/shell_host/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to shell.yaml (default config/shell.yaml)")
	preload := flag.Bool("preload", false, "load every known module at startup")
	flag.Parse()

	// A local .env is optional.
	_ = godotenv.Load()

	log := logging.New("shellhost")

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadFromPath(*configPath)
		if err != nil {
			log.WithError(err).Error("configuration invalid")
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}
	if cfg.Auth.JWTSecret == "" {
		log.Error("auth.jwt_secret (or SHELL_JWT_SECRET) is required")
		os.Exit(1)
	}

	// The event channel and authentication state come up before anything
	// that publishes or reads them.
	bus := events.NewBus(log, events.WithObserver(func(kind events.EventType, result string, d time.Duration) {
		metrics.RecordEventDispatch(string(kind), result, d)
	}))

	store, closeStore, err := newStore(cfg)
	if err != nil {
		log.WithError(err).Error("state store unavailable")
		os.Exit(1)
	}
	defer closeStore()

	auth := authstate.New(store, bus, log)
	defer auth.Close()

	c := container.New(container.Config{
		Bus:      bus,
		Auth:     auth,
		KV:       store,
		Settings: settings(cfg),
	})

	reg := registry.NewRegistry(cfg.Modules)
	modules.RegisterFactories(reg)

	loader := registry.NewLoader(reg, bus, c, log,
		registry.WithManifestFetcher(registry.NewManifestFetcher(nil)),
		registry.WithLoadObserver(metrics.RecordModuleLoad),
	)

	// The aggregator subscribes before any load so no loaded event is
	// missed.
	agg := router.New(func(name string) (router.RouteSource, bool) {
		mod, ok := loader.Get(name)
		if !ok {
			return nil, false
		}
		return mod, true
	}, bus, log)
	agg.Initialize()
	defer agg.Close()

	if *preload {
		summary := loader.PreloadAll(context.Background())
		log.WithFields(map[string]interface{}{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		}).Info("module preload finished")
	}

	if cfg.Health.Enabled {
		checker := registry.NewHealthChecker(loader, bus, log,
			registry.WithHealthSchedule(cfg.Health.Schedule),
			registry.WithAvailabilityObserver(metrics.RecordRemoteAvailability),
		)
		if err := checker.Start(); err != nil {
			log.WithError(err).Error("invalid health schedule")
			os.Exit(1)
		}
		defer checker.Stop()
	}

	srv := server.New(server.Deps{
		Config:     cfg,
		Bus:        bus,
		Auth:       auth,
		Registry:   reg,
		Loader:     loader,
		Aggregator: agg,
		Container:  c,
		Logger:     log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	log.Info("shell host stopped")
}

// newStore builds the configured state store. Redis when an address is
// set, in-memory otherwise.
func newStore(cfg *config.Config) (kvstore.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		return kvstore.NewMemory(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redis, err := kvstore.NewRedis(ctx, kvstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		TTL:      cfg.Redis.TTL.Std(),
	})
	if err != nil {
		return nil, nil, err
	}
	return redis, func() { redis.Close() }, nil
}

// settings flattens config values for module consumption.
func settings(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Settings)+1)
	for k, v := range cfg.Settings {
		out[k] = v
	}
	if cfg.Server.BackendBaseURL != "" {
		out["backend_base_url"] = cfg.Server.BackendBaseURL
	}
	return out
}
