package main

import (
	"context"
	"errors"
	"time"

	"smartspend/internal/advice"
	"smartspend/internal/backend"
	"smartspend/internal/cli"
	applog "smartspend/internal/log"
	"smartspend/internal/metrics"
	"smartspend/internal/sheets"
	gsheet "smartspend/internal/sheets/google"
	"smartspend/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(applog.New(applog.DefaultConfig()), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting advice-worker")

	if cfg.AMQPURL == "" {
		cli.Fatal(logger, "AMQP is required", errors.New("AMQP_URL is empty"))
	}
	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Warn("Memory backend is not shared with the API process, advice will miss its entries")
	}

	startCtx := context.Background()
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	res, err := backend.NewFactory(logger).CreateBackend(startCtx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to create backend", err)
	}
	defer res.Cleanup()
	if res.Queue == nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", errors.New("broker unreachable"))
	}

	// Spreadsheet mirroring is optional.
	var exporter sheets.PeriodExporter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(startCtx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google Sheets client", err)
		}
		exporter = client
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	var provider advice.Provider = advice.Unavailable{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := advice.NewGemini(startCtx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			cli.Fatal(logger, "Failed to create Gemini client", err)
		}
		provider = gemini
	}
	advisor := advice.NewAdvisor(provider, res.Store, metrics.New(), advice.AdvisorConfig{
		Timeout:       cfg.AdviceTimeout,
		RecentEntries: cfg.AdviceRecentEntries,
		Currency:      cfg.Currency,
	})

	w := worker.New(advisor, res.Store, exporter, cfg.Location())
	consumer := worker.NewConsumer(res.Queue, w.Handle)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		if err := consumer.Stop(ctx); err != nil {
			logger.Warn("Consumer stop failed", applog.FieldError, err.Error())
		}
	})

	if err := consumer.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start consumer", err)
	}

	select {
	case <-ctx.Done():
	case <-consumer.Done():
		if err := consumer.Err(); err != nil {
			cli.Fatal(logger, "Message consumption failed", err)
		}
		return
	}
	cli.WaitForShutdown(ctx, done)
}
