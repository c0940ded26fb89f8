// Command worker consumes the job queue and runs the processing pipeline:
// download, image enhancement, OCR, field extraction, persistence,
// webhook delivery.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/blobstore"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/kafka"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/redisq"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/recognizer"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/recognizer/httpocr"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/repo/postgres"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/webhook"
	"github.com/siwakornc/invoice-ocr-service/internal/app"
	"github.com/siwakornc/invoice-ocr-service/internal/config"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/internal/pipeline"
	"github.com/siwakornc/invoice-ocr-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetupLogger("ocr-worker", cfg.AppEnv)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "ocr-worker", cfg.OTLPEndpoint, cfg.TraceSample)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	queue := redisq.New(rdb, cfg.VisibilityTimeout, cfg.QueueMaxRetries)

	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL is required for the worker")
	}
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	results := postgres.NewResultsRepo(pool)

	local, err := blobstore.NewLocal(cfg.ImageStoragePath, cfg.ImageBaseURL)
	if err != nil {
		return err
	}
	var blobs domain.BlobStore = local
	if cfg.StorageProvider == "cloud" && cfg.StorageGatewayURL != "" {
		gateway := blobstore.NewGateway(cfg.StorageGatewayURL, cfg.StorageBucket, cfg.StorageGatewayKey)
		blobs = blobstore.NewHybrid(gateway, local)
	}

	if cfg.OCREngineURL == "" {
		return fmt.Errorf("OCR_ENGINE_URL is required for the worker")
	}
	var rec domain.Recognizer = httpocr.New(cfg.OCREngineURL, cfg.OCRLanguage, domain.PassPrimary)
	if cfg.OCRDualPass && cfg.OCRSecondaryURL != "" {
		rec = recognizer.NewDualPass(rec,
			httpocr.New(cfg.OCRSecondaryURL, cfg.OCRLanguage, domain.PassSecondary))
	}

	var events domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
		events = producer
	}

	pipe := pipeline.New(pipeline.Config{
		MaxWidth:  cfg.MaxImageWidth,
		MaxHeight: cfg.MaxImageHeight,
		DebugDir:  cfg.DebugDir,
		Enabled:   cfg.Pipeline.Enabled,
	})

	proc := usecase.NewProcessor(queue, rec, results, blobs,
		webhook.New(cfg.WebhookSecret), events, pipe,
		usecase.ProcessorConfig{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			JPEGQuality:         cfg.JPEGQuality,
			JobTimeout:          cfg.JobTimeout,
			MaxDownloadBytes:    cfg.MaxDownloadBytes,
			Language:            cfg.OCRLanguage,
			Model:               "paddleocr",
			DualPass:            cfg.OCRDualPass && cfg.OCRSecondaryURL != "",
		})

	slog.Info("worker starting", slog.Int("concurrency", cfg.WorkerConcurrency))
	return app.RunWorker(ctx, queue, proc, cfg.WorkerConcurrency)
}
