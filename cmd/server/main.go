// Command server runs the HTTP API: job submission, status polling,
// stored-image serving, health and metrics.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/httpserver"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/kafka"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/redisq"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/repo/postgres"
	"github.com/siwakornc/invoice-ocr-service/internal/app"
	"github.com/siwakornc/invoice-ocr-service/internal/config"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetupLogger("ocr-server", cfg.AppEnv)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "ocr-server", cfg.OTLPEndpoint, cfg.TraceSample)
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

	checks := []httpserver.ReadyCheck{
		{Name: "redis", Probe: queue.Ping},
	}

	var results domain.ResultStore
	if cfg.DBURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		results = postgres.NewResultsRepo(pool)
		checks = append(checks, httpserver.ReadyCheck{Name: "postgres", Probe: pool.Ping})
	} else {
		slog.Warn("no DB_URL configured, status responses carry metadata only")
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

	h := httpserver.New(
		usecase.NewSubmitter(queue, events),
		usecase.NewStatus(queue, results),
		cfg.ImageStoragePath,
	)
	return app.RunServer(ctx, cfg, app.BuildRouter(cfg, h, checks...))
}
