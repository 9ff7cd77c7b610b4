package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenledger/stoscan/internal/api"
	"github.com/tokenledger/stoscan/internal/config"
	"github.com/tokenledger/stoscan/internal/daemon"
	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/health"
	stolog "github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	initialScan := flag.Bool("initial-scan", true, "run one scan cycle immediately on startup")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	stolog.Configure(stolog.Config{
		Level:   "info",
		Service: "stoscan",
		Version: version,
	})

	logger := stolog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise auto-load
	// ${STOSCAN_DATA}/config.yaml if it exists.
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, "data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration
	stolog.Configure(stolog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	// Pre-flight checks (fail fast)
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	serverCfg := config.ParseServerConfig(cfg)

	// Storage
	store, err := sqlite.OpenStore(cfg.DatabasePath, sqlite.DefaultConfig())
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("path", cfg.DatabasePath).
			Msg("failed to open scan database")
	}

	// Chain access, wrapped with the persistent timestamp cache.
	client, err := ethwatch.Dial(ctx, cfg.NodeURL, ethwatch.Options{RateLimit: cfg.RPCRateLimit})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "node.dial_failed").
			Msg("failed to connect to Ethereum node")
	}
	cache, err := ethwatch.NewCachedReader(client, cfg.CachePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "cache.open_failed").
			Str("path", cfg.CachePath).
			Msg("failed to open timestamp cache")
	}

	// Health checks
	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewNodeChecker(cache, 0))
	hm.RegisterChecker(health.NewDatabaseChecker(store.DB()))

	apiServer := api.New(cfg, store, cache, hm)
	hm.RegisterChecker(health.NewLastScanChecker(apiServer.LastScan, 2*cfg.ScanInterval))

	mgr, err := daemon.NewManager(serverCfg, daemon.Deps{
		Logger:         logger,
		Config:         cfg,
		APIHandler:     apiServer.Router(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.init_failed").
			Msg("failed to create daemon manager")
	}

	// Close order: cache before client before store (LIFO registration).
	mgr.RegisterShutdownHook("store", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("node-client", func(context.Context) error { client.Close(); return nil })
	mgr.RegisterShutdownHook("timestamp-cache", func(context.Context) error { return cache.Close() })

	app := daemon.NewApp(logger, mgr, cfg, apiServer, store, cache)
	app.InitialScan = *initialScan

	logger.Info().
		Str("event", "daemon.start").
		Str("version", cfg.Version).
		Str("network", cfg.Network).
		Int("tokens", len(cfg.Tokens)).
		Str("listen", serverCfg.ListenAddr).
		Msg("starting stoscand")

	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Str("event", "daemon.stopped").Msg("stoscand stopped")
}
