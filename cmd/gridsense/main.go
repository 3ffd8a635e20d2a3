// Package main implements the entry point for the gridsense daemon.
// Gridsense serves appliance ON/OFF state predictions from household
// power readings: a REST gateway for request/response predictions, a
// websocket stream of live predictions, and optional MQTT meter ingest
// with NATS and webhook republish.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gridsense"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	// Load and validate configuration
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags win over the config file for logging
	logger := setupLogger(
		pick(cliCfg.LogLevel, cfg.Log.Level),
		pick(cliCfg.LogFormat, cfg.Log.Format),
	)
	slog.SetDefault(logger)

	slog.Info("Starting gridsense (appliance state prediction)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"instance", cfg.Instance(),
		"environment", cfg.Service.Environment)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Build the service: model artifact, pipeline, and components
	svc, err := service.New(cfg, service.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	return runWithSignalHandling(svc, shutdownTimeout(cliCfg, cfg))
}

// runWithSignalHandling starts the service and blocks until a shutdown
// signal arrives.
func runWithSignalHandling(svc *service.Service, timeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := svc.Start(signalCtx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	slog.Info("Gridsense started successfully",
		"rest_addr", svc.GatewayAddr(),
		"stream_addr", svc.StreamAddr())

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := svc.Stop(timeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Gridsense shutdown complete")
	return nil
}

// shutdownTimeout resolves the effective graceful shutdown timeout: the
// CLI flag when set, the server config otherwise.
func shutdownTimeout(cliCfg *CLIConfig, cfg *config.Config) time.Duration {
	if cliCfg.ShutdownTimeout > 0 {
		return cliCfg.ShutdownTimeout
	}
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// pick returns the first non-empty value.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadConfig loads configuration from the specified file path. An empty
// path loads defaults plus GRIDSENSE_* environment overrides.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	return loader.LoadFile(path)
}
