package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"dealbook/internal/amqp"
	"dealbook/internal/cli"
	applog "dealbook/internal/log"
	ports "dealbook/internal/sheets"
	gsheet "dealbook/internal/sheets/google"
	memsheet "dealbook/internal/sheets/memory"
	"dealbook/internal/storage"
	"dealbook/internal/worker"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "consume deal events without writing to Google Sheets")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting dealbook-worker", "dry_run", *dryRun)

	cfg := cli.LoadAndValidateConfig(logger)
	if *dryRun && cfg.GoogleSpreadsheetID == "" {
		cfg.GoogleSpreadsheetID = "dry-run"
	}
	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("Worker configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var mirror ports.DealMirror
	if *dryRun {
		mirror = memsheet.New()
		logger.Info("Dry run: sheet writes are kept in memory")
	} else {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(repo, mirror, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	if err := amqpClient.ConsumeDealEvents(ctx, syncWorker.HandleDealEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", applog.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
