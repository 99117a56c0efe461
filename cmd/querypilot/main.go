package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/querypilot/querypilot/internal/answer"
	archivepostgres "github.com/querypilot/querypilot/internal/archive/postgres"
	"github.com/querypilot/querypilot/internal/chat"
	"github.com/querypilot/querypilot/internal/cli/querypilot"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/knowledge"
	"github.com/querypilot/querypilot/internal/observability"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
	"github.com/querypilot/querypilot/internal/store/duckdb"
	"github.com/querypilot/querypilot/internal/usage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFromEnv("querypilot")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		return 1
	}

	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	azureClient, err := chat.NewAzureClient(chat.AzureConfig{
		Endpoint:   cfg.Model.Endpoint,
		APIKey:     cfg.Model.APIKey,
		APIVersion: cfg.Model.APIVersion,
		Deployment: cfg.Model.Deployment,
		Timeout:    cfg.Model.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		return 1
	}
	chatClient := chat.NewClient(azureClient, logger)

	gateway, err := duckdb.NewGateway(cfg.Dataset.Path, logger)
	if err != nil {
		logger.Error("failed to initialize query gateway", slog.Any("error", err))
		return 1
	}

	stats := usage.NewTracker(cfg.Model.Deployment, cfg.Model.InputCostPer1M, cfg.Model.OutputCostPer1M, logger)

	service := &answer.Service{
		Client:    chatClient,
		Gateway:   gateway,
		Knowledge: knowledge.NewStaticProvider(),
		Stats:     stats,
		Logger:    logger,
	}

	options := querypilot.Options{
		Service: service,
		Stats:   stats,
		History: chatClient.History,
		Logger:  logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	if cfg.Archive.Enabled {
		archiveDB, err := archivepostgres.Open(ctx, archivepostgres.DBConfig{
			DSN:             cfg.Archive.DSN,
			MaxConns:        cfg.Archive.MaxConns,
			ConnMaxLifetime: cfg.Archive.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open answer archive", slog.Any("error", err))
			return 1
		}
		defer func() { _ = archiveDB.Close() }()

		archive := archivepostgres.NewArchive(archiveDB)
		if err := archive.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare archive schema", slog.Any("error", err))
			return 1
		}
		options.Archive = archive
	}

	if cfg.ReportStore.Enabled {
		reportStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ReportStore.Endpoint,
			Region:           cfg.ReportStore.Region,
			Bucket:           cfg.ReportStore.Bucket,
			AccessKeyID:      cfg.ReportStore.AccessKeyID,
			SecretAccessKey:  cfg.ReportStore.SecretAccessKey,
			UseSSL:           cfg.ReportStore.UseSSL,
			Prefix:           cfg.ReportStore.Prefix,
			AutoCreateBucket: cfg.ReportStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize report store", slog.Any("error", err))
			return 1
		}
		options.Reports = reportStore
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := observability.ServeMetrics(ctx, addr, logger); err != nil {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	return querypilot.Run(ctx, os.Args[1:], options)
}
