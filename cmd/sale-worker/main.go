package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	v1 "token-sale/sale-backend/api/v1"
	"token-sale/sale-backend/internal/config"
	"token-sale/sale-backend/internal/reports"
	"token-sale/sale-backend/internal/reports/scheduler"
	"token-sale/sale-backend/pkg/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := v1.OpenDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := v1.NewClients(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create AWS clients", zap.Error(err))
	}

	// The worker serves no websocket clients, so no hub.
	api, err := v1.SetupSaleAPI(db, cfg, clients, nil, logger)
	if err != nil {
		logger.Fatal("Failed to set up sale services", zap.Error(err))
	}

	manager := scheduler.NewScheduleManager(logger)

	if err := manager.AddJob(scheduler.Job{
		Name:    "outbox-relay",
		Spec:    cfg.Reports.RelayCron,
		Timeout: 30 * time.Second,
		Run: func(ctx context.Context) error {
			delivered, err := api.Service.RelayPending(ctx, cfg.Sale.RelayBatch)
			if delivered > 0 {
				logger.Info("Relayed pending events", zap.Int("count", delivered))
			}
			return err
		},
	}); err != nil {
		logger.Fatal("Failed to schedule outbox relay", zap.Error(err))
	}

	if err := manager.AddJob(scheduler.Job{
		Name:    "ledger-snapshots",
		Spec:    cfg.Reports.SnapshotCron,
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := api.Reports.SnapshotAll(ctx)
			if errors.Is(err, reports.ErrStorageDisabled) {
				return nil
			}
			return err
		},
	}); err != nil {
		logger.Fatal("Failed to schedule ledger snapshots", zap.Error(err))
	}

	if err := manager.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	logger.Info("Sale worker started",
		zap.String("relay_cron", cfg.Reports.RelayCron),
		zap.String("snapshot_cron", cfg.Reports.SnapshotCron))

	<-ctx.Done()
	logger.Info("Sale worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	manager.Stop(shutdownCtx)

	logger.Info("Sale worker stopped")
}
