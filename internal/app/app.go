// Package app wires the service together: configuration, logging, the
// cache store, the upstream clients, the refresh scheduler and the HTTP
// server, with one process-scoped instance of each handed down explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ninebot-ops/vmboard/internal/azure"
	"github.com/ninebot-ops/vmboard/internal/config"
	"github.com/ninebot-ops/vmboard/internal/inventory"
	"github.com/ninebot-ops/vmboard/internal/metrics"
	"github.com/ninebot-ops/vmboard/internal/scheduler"
	"github.com/ninebot-ops/vmboard/internal/server"
	"github.com/ninebot-ops/vmboard/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled service.
type App struct {
	config    *config.Config
	logger    *zap.Logger
	store     *store.Store
	scheduler *scheduler.Scheduler
	httpSrv   *http.Server
	version   string
	ctx       context.Context
	cancel    context.CancelFunc
}

// New builds the application from the configuration at configPath.
func New(configPath string, version string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting vmboard",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr))

	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Azure is optional at startup: without credentials the inventory loop
	// stays registered but every cycle fails and is logged, matching the
	// contained-failure policy for upstreams.
	var provider inventory.Provider
	creds := azure.Credentials{
		TenantID:     cfg.Azure.TenantID,
		ClientID:     cfg.Azure.ClientID,
		ClientSecret: cfg.Azure.ClientSecret,
	}
	if creds.Configured() {
		azClient, err := azure.NewClient(creds)
		if err != nil {
			cancel()
			st.Close()
			return nil, fmt.Errorf("failed to build azure client: %w", err)
		}
		provider = azClient
	} else {
		logger.Warn("Azure credentials not configured - inventory refresh will stay empty")
	}

	prom, err := metrics.NewClient(cfg.Prometheus.URL, logger)
	if err != nil {
		cancel()
		st.Close()
		return nil, fmt.Errorf("failed to build prometheus client: %w", err)
	}

	sched, err := scheduler.New(
		logger,
		st,
		inventory.NewFetcher(provider, logger),
		metrics.NewFetcher(prom, logger),
		classifier,
		cfg.Refresh.InventoryInterval,
		cfg.Refresh.MetricsInterval,
		ctx,
	)
	if err != nil {
		cancel()
		st.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	srv := server.New(classifier, st, prom, logger)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	return &App{
		config:    cfg,
		logger:    logger,
		store:     st,
		scheduler: sched,
		httpSrv:   httpSrv,
		version:   version,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Run starts the refresh loops and the HTTP server and blocks until a
// shutdown signal arrives or the server fails.
func (a *App) Run() error {
	a.scheduler.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	a.logger.Info("vmboard running",
		zap.String("addr", a.config.Server.Addr),
		zap.String("version", a.version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case <-a.ctx.Done():
		a.logger.Info("Context cancelled")
	case err := <-serveErr:
		a.logger.Error("HTTP server failed", zap.Error(err))
		a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops the loops and the HTTP server and closes the store.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down vmboard gracefully")

	a.cancel()

	if err := a.scheduler.Shutdown(); err != nil {
		a.logger.Error("Error shutting down scheduler", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing store", zap.Error(err))
	}

	a.logger.Sync()

	a.logger.Info("vmboard shutdown complete")
	return nil
}

// initLogger creates and configures the logger with log rotation
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	// Parse log level
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	// Create encoder config
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Create encoder for JSON logging
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)

	// Setup log rotation with lumberjack
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     28, // days
		Compress:   true,
	}

	// Create console encoder for stdout (during development/debugging)
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	// Create multi-writer core (file with rotation + console)
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(fileWriter), level),
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, nil
}
