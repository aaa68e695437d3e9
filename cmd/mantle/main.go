// Package main implements the entry point for the mantle server.
// Mantle ingests Sparkplug-B MQTT traffic into an in-memory topology
// and a TimescaleDB historian, evaluates alarm rules against incoming
// samples, and serves the result over a GraphQL gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joyautomation/mantle/alarm"
	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/gateway/graphql"
	"github.com/joyautomation/mantle/hotcache"
	"github.com/joyautomation/mantle/ingress"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pubsub"
	"github.com/joyautomation/mantle/service"
	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/topology"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mantle"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("mantle failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if opts.showHelp {
		return nil
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.validate {
		logger.Info("configuration is valid")
		return nil
	}

	logger.Info("starting mantle",
		"version", Version,
		"build_time", BuildTime,
		"config_path", opts.configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.migrate {
		return runMigrations(ctx, cfg, logger)
	}
	return runServer(ctx, cfg, opts, logger)
}

// runMigrations creates the target database when missing, applies the
// schema migrations, and returns. Invoked by --migrate.
func runMigrations(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("ensuring database exists", "database", cfg.DB.Name, "admin", cfg.DB.AdminName)
	if err := storage.EnsureDatabase(ctx, cfg.DB); err != nil {
		return err
	}

	store, err := storage.New(ctx, cfg.DB, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("migrations applied", "database", cfg.DB.Name)
	return nil
}

// runServer wires every component in dependency order, runs until a
// shutdown signal arrives, then stops the group in reverse. The broker
// and the database pool outlive the group and close last.
func runServer(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	registry.CoreMetrics().RecordBuildInfo(Version)

	store, err := storage.New(ctx, cfg.DB, logger, registry)
	if err != nil {
		return err
	}
	defer store.Close()

	broker, err := pubsub.NewBroker(registry)
	if err != nil {
		return err
	}
	defer broker.Close()

	topo := topology.NewHost()
	group := service.NewGroup(appName, logger)
	group.AddHealthSource(store)

	var cache *hotcache.Cache
	if cfg.Redis.Enabled() {
		cache, err = hotcache.New(cfg.Redis, broker, logger, registry)
		if err != nil {
			return err
		}
		group.Add(cache)
	}

	dispatcher, err := alarm.NewDispatcher(cfg.Webhook, logger, registry)
	if err != nil {
		return err
	}
	engine, err := alarm.New(store, broker, dispatcher, logger, registry)
	if err != nil {
		return err
	}
	group.Add(dispatcher, engine)

	deps := ingress.Deps{
		Topology:  topo,
		Store:     store,
		Alarms:    engine,
		Broker:    broker,
		Historian: cfg.Historian,
	}
	// A typed nil in the interface would defeat the pipeline's nil
	// checks, so the cache is only assigned when it exists.
	if cache != nil {
		deps.Cache = cache
	}
	ing, err := ingress.New(cfg.MQTT, deps, logger, registry)
	if err != nil {
		return err
	}
	group.Add(ing)

	resolver := graphql.NewResolver(topo, store, engine, ing, logger)
	gateway, err := graphql.NewServer(cfg.GraphQL, resolver, broker, group.Statuses, logger, registry)
	if err != nil {
		return err
	}
	group.Add(gateway)

	metricsServer := startMetricsServer(cfg.MetricsPort, registry, logger)
	if metricsServer != nil {
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Warn("metrics server stop failed", "error", err)
			}
		}()
	}

	if err := group.Initialize(); err != nil {
		return err
	}
	if err := group.Start(ctx); err != nil {
		if stopErr := group.Stop(opts.shutdownTimeout); stopErr != nil {
			logger.Error("unwind after failed start", "error", stopErr)
		}
		return err
	}

	logger.Info("mantle started",
		"graphql_addr", cfg.GraphQL.Addr,
		"broker", cfg.MQTT.BrokerURL,
		"historian", cfg.Historian,
		"hot_cache", cfg.Redis.Enabled())

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return group.Stop(opts.shutdownTimeout)
}

// startMetricsServer serves Prometheus metrics on its own port. Returns
// nil when the port is 0.
func startMetricsServer(port int, registry *metric.MetricsRegistry, logger *slog.Logger) *metric.Server {
	if port <= 0 {
		return nil
	}
	srv := metric.NewServer(port, "/metrics", registry)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics server listening", "port", port)
	return srv
}
