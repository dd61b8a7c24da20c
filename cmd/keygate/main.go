// Package main is the entry point for the keygate authentication service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keygate/internal/audit"
	"github.com/vyrodovalexey/keygate/internal/config"
	"github.com/vyrodovalexey/keygate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
	levelSet    bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}
	if !flags.levelSet {
		applyLogLevel(logger, cfg.Observability.Logging.Level)
	}

	logger.Info("starting keygate",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.Bool("vault_enabled", cfg.Vault.Enabled),
		observability.Bool("shared_key_cache", cfg.KeyCache.Shared.Enabled),
	)

	gin.SetMode(gin.ReleaseMode)
	run(cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("KEYGATE_CONFIG_PATH", ""),
		"Path to configuration file (defaults apply when empty)")
	logLevel := flag.String("log-level", getEnvOrDefault("KEYGATE_LOG_LEVEL", config.DefaultLogLevel),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("KEYGATE_LOG_FORMAT", config.DefaultLogFormat),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	levelSet := os.Getenv("KEYGATE_LOG_LEVEL") != ""
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "log-level" {
			levelSet = true
		}
	})

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
		levelSet:    levelSet,
	}
}

func printVersion() {
	fmt.Printf("keygate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig reads the file at path, or the defaults when path is empty,
// then overlays the VAULT_* environment and validates the result.
func loadConfig(path string) (*config.ServiceConfig, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyVaultEnv(&cfg.Vault)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLogLevel switches the level of a running logger.
func applyLogLevel(logger observability.Logger, level string) {
	setter, ok := logger.(observability.LevelSetter)
	if !ok || level == "" {
		return
	}
	if err := setter.SetLevel(level); err != nil {
		logger.Warn("ignoring invalid log level",
			observability.String("level", level),
			observability.Error(err),
		)
	}
}

func initTracer(cfg *config.ServiceConfig) (*observability.Tracer, error) {
	tracing := cfg.Observability.Tracing
	serviceName := tracing.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultServiceName
	}
	return observability.NewTracer(observability.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: tracing.OTLPEndpoint,
		SamplingRate: tracing.SamplingRate,
		Enabled:      tracing.Enabled,
	})
}

// run starts the service and blocks until a shutdown signal arrives.
func run(cfg *config.ServiceConfig, configPath string, logger observability.Logger) {
	ctx := context.Background()

	metrics := observability.NewMetrics(observability.DefaultNamespace)
	tracer, err := initTracer(cfg)
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}

	vaultClient, err := initVaultClient(ctx, &cfg.Vault, logger, metrics)
	if err != nil {
		logger.Fatal("failed to initialize vault client", observability.Error(err))
	}

	app, err := buildApplication(ctx, cfg, logger, metrics, tracer, vaultClient)
	if err != nil {
		_ = vaultClient.Close()
		logger.Fatal("failed to build application", observability.Error(err))
	}

	if err := app.server.Start(ctx); err != nil {
		logger.Fatal("failed to start http server", observability.Error(err))
	}

	watcher := startConfigWatcher(app, configPath, logger)
	waitForShutdown(app, watcher, logger)
}

// startConfigWatcher follows the config file. Only the log level is applied
// live; other changes need a restart.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.ServiceConfig) {
		logger.Info("configuration changed")
		applyLogLevel(logger, newCfg.Observability.Logging.Level)
		app.audit.LogEvent(context.Background(), audit.ConfigurationEvent(audit.ActionConfigReload, audit.OutcomeSuccess).
			WithMetadata("log_level", newCfg.Observability.Logging.Level))
	}, config.WithLogger(logger), config.WithErrorHandler(func(reloadErr error) {
		app.audit.LogEvent(context.Background(), audit.ConfigurationEvent(audit.ActionConfigReload, audit.OutcomeFailure).
			WithReason(reloadErr.Error()))
	}))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}

func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.GetShutdownTimeout())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	app.shutdown(ctx)

	logger.Info("keygate stopped")
}
