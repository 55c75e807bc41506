// Package app wires the report store's components into one process:
// the core store, whichever ingest adapters are enabled, the admin
// HTTP surface, and the background observability/maintenance loops.
// The lifecycle shape (New loads config and builds the logger, Run
// starts everything and blocks on a shutdown signal, Stop tears down
// in reverse) follows the teacher's App.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtrace/reportstore/internal/adminserver"
	"github.com/xtrace/reportstore/internal/checkpoint"
	"github.com/xtrace/reportstore/internal/config"
	"github.com/xtrace/reportstore/internal/ingest/filetail"
	"github.com/xtrace/reportstore/internal/ingest/kafka"
	"github.com/xtrace/reportstore/internal/obs"
	"github.com/xtrace/reportstore/internal/resourceguard"
	"github.com/xtrace/reportstore/internal/store"
	"github.com/xtrace/reportstore/internal/workerpool"

	"github.com/sirupsen/logrus"
)

// App coordinates the store core and every optional component built
// on top of it. Fields for disabled components stay nil.
type App struct {
	config *config.Config
	logger *logrus.Logger

	store *store.Store
	obs   *obs.Manager
	pool  *workerpool.Pool

	kafkaConsumer *kafka.Consumer
	fileWatcher   *filetail.Watcher
	adminSrv      *adminserver.Server
	resourceGuard *resourceguard.Guard
	checkpointLp  *checkpoint.Loop

	ctx    context.Context
	cancel context.CancelFunc
}

// New loads configuration, builds the logger, and constructs the store
// core and every component enabled in cfg. A failure constructing any
// enabled component is a startup error, matching spec.md §7's treatment
// of construction failures.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	tracing, err := obs.New(cfg.Tracing, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.obs = tracing

	st, err := store.New(cfg, logger, tracing.Tracer())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	a.pool = workerpool.New(workerpool.Config{}, logger)

	if cfg.Ingest.Kafka.Enabled {
		consumer, err := kafka.New(cfg.Ingest.Kafka, a.store, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize kafka consumer: %w", err)
		}
		a.kafkaConsumer = consumer
	}

	if cfg.Ingest.FileTail.Enabled {
		watcher, err := filetail.New(cfg.Ingest.FileTail, a.store, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize file tail watcher: %w", err)
		}
		a.fileWatcher = watcher
	}

	if cfg.Admin.Enabled {
		a.adminSrv = adminserver.New(cfg.Admin, a.store.Query, a.pool, logger)
	}

	if cfg.Resource.Enabled {
		guard, err := resourceguard.New(cfg.Resource, cfg.Store.RootDir, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize resource guard: %w", err)
		}
		a.resourceGuard = guard
	}

	if cfg.Checkpoint.Enabled {
		a.checkpointLp = checkpoint.New(cfg.Checkpoint, cfg.Store.RootDir, a.store.Index(), logger)
	}

	return a, nil
}

// Start launches the store core and every configured component's
// background goroutine. It returns once everything has been launched;
// it does not block.
func (a *App) Start() error {
	a.store.Start(a.ctx)
	a.pool.Start()

	if a.kafkaConsumer != nil {
		go func() {
			if err := a.kafkaConsumer.Run(a.ctx); err != nil {
				a.logger.WithFields(logrus.Fields{"component": "app"}).Warn("kafka consumer stopped: " + err.Error())
			}
		}()
	}

	if a.fileWatcher != nil {
		go func() {
			if err := a.fileWatcher.Run(a.ctx); err != nil {
				a.logger.WithFields(logrus.Fields{"component": "app"}).Warn("file tail watcher stopped: " + err.Error())
			}
		}()
	}

	if a.resourceGuard != nil {
		go a.resourceGuard.Run(a.ctx)
	}

	if a.checkpointLp != nil {
		go a.checkpointLp.Run(a.ctx)
	}

	if a.adminSrv != nil {
		go func() {
			if err := a.adminSrv.ListenAndServe(); err != nil {
				a.logger.WithFields(logrus.Fields{"component": "app"}).Warn("admin server stopped: " + err.Error())
			}
		}()
	}

	a.logger.WithFields(logrus.Fields{"component": "app"}).Info("report store started")
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM, then
// shuts everything down.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	a.logger.WithFields(logrus.Fields{"component": "app"}).Info("shutdown signal received")
	return a.Stop()
}

// Stop cancels the shared context, closes the admin server and Kafka
// consumer group, stops the worker pool, shuts down tracing, and
// finally tears down the store core — the reverse of Start's order.
func (a *App) Stop() error {
	a.cancel()

	if a.adminSrv != nil {
		_ = a.adminSrv.Shutdown(context.Background())
	}
	if a.kafkaConsumer != nil {
		_ = a.kafkaConsumer.Close()
	}
	a.pool.Stop()
	if err := a.obs.Shutdown(context.Background()); err != nil {
		a.logger.WithFields(logrus.Fields{"component": "app"}).Warn("tracing shutdown error: " + err.Error())
	}
	a.store.Shutdown()
	return nil
}
