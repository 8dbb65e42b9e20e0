package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"insiderwatch/internal/alerts"
	"insiderwatch/internal/analysis"
	"insiderwatch/internal/api"
	"insiderwatch/internal/config"
	"insiderwatch/internal/incidents"
	"insiderwatch/internal/logging"
	"insiderwatch/internal/publish"
	"insiderwatch/internal/storage"
	"insiderwatch/internal/threat"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	var mgr *config.Manager
	var err error
	if *configPath != "" {
		mgr, err = config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	deriver := threat.NewDeriver(time.Now)
	state := threat.NewState(deriver)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	incidentStore := incidents.NewStore()
	analyzer := analysis.New(logging.With(logger, "analysis"))

	if cfg.Publish.Kafka.Enabled {
		publish.StartKafka(ctx, cfg.Publish.Kafka, alertsStore.Subscribe(), logging.With(logger, "publish"))
	}

	api.Start(ctx, mgr, analyzer, state, alertsStore, incidentStore, store, logging.With(logger, "api"), version)

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second,
			func(c *config.Config) {
				logger.Info("config reloaded", "path", mgr.Path())
			},
			func(err error) {
				logger.Warn("config reload error", "err", err)
			},
			ctx.Done(),
		)
	}

	logger.Info("insiderwatch started", "version", version, "addr", cfg.API.Addr)
	<-ctx.Done()
	logger.Info("shutting down")
}
