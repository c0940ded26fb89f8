// Package config loads service configuration from the environment, with an
// optional YAML file for per-deployment pipeline stage overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for both binaries. Every field has a
// default so an empty environment yields a runnable dev setup.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Auth.
	APIKey        string `env:"SERVICE_API_KEY" envDefault:""`
	WebhookSecret string `env:"WEBHOOK_SECRET" envDefault:""`

	// Backends.
	RedisURL     string   `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DBURL        string   `env:"DB_URL" envDefault:""`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ocr.job.events"`

	// Blob storage.
	StorageProvider   string `env:"STORAGE_PROVIDER" envDefault:"local"` // local|cloud
	StorageGatewayURL string `env:"STORAGE_GATEWAY_URL" envDefault:""`
	StorageGatewayKey string `env:"STORAGE_GATEWAY_KEY" envDefault:""`
	StorageBucket     string `env:"STORAGE_BUCKET" envDefault:"invoices"`
	ImageStoragePath  string `env:"IMAGE_STORAGE_PATH" envDefault:"/tmp/ocr_images"`
	ImageBaseURL      string `env:"IMAGE_STORAGE_BASE_URL" envDefault:"http://localhost:8080/images"`

	// Recognizer.
	OCREngineURL        string  `env:"OCR_ENGINE_URL" envDefault:""`
	OCRSecondaryURL     string  `env:"OCR_SECONDARY_URL" envDefault:""`
	OCRLanguage         string  `env:"OCR_LANGUAGE" envDefault:"th+en"`
	OCRDualPass         bool    `env:"OCR_DUAL_PASS" envDefault:"true"`
	ConfidenceThreshold float64 `env:"CONFIDENCE_THRESHOLD" envDefault:"0.3"`

	// Pipeline.
	MaxImageWidth      int    `env:"MAX_IMAGE_WIDTH" envDefault:"2048"`
	MaxImageHeight     int    `env:"MAX_IMAGE_HEIGHT" envDefault:"2048"`
	JPEGQuality        int    `env:"JPEG_QUALITY" envDefault:"95"`
	DebugDir           string `env:"DEBUG_DIR" envDefault:""`
	PipelineConfigPath string `env:"PIPELINE_CONFIG_PATH" envDefault:""`
	MaxDownloadBytes   int64  `env:"MAX_DOWNLOAD_BYTES" envDefault:"20971520"`

	// Queue / worker.
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"300s"`
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"330s"`
	QueueMaxRetries   int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"1"`

	// HTTP server.
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimitPerMin int           `env:"HTTP_RATE_LIMIT_PER_MIN" envDefault:"60"`
	CORSOrigins     string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`

	// Observability.
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	TraceSample  float64 `env:"OTEL_TRACE_SAMPLE_RATIO" envDefault:"0.1"`

	Pipeline PipelineOverrides `env:"-"`
}

// PipelineOverrides enables or disables individual pipeline stages per
// deployment. A nil entry means the stage default applies.
type PipelineOverrides struct {
	Stages map[string]bool `yaml:"stages"`
}

// Enabled reports whether the named stage should run; stages default on.
func (p PipelineOverrides) Enabled(stage string) bool {
	if p.Stages == nil {
		return true
	}
	on, ok := p.Stages[stage]
	if !ok {
		return true
	}
	return on
}

// Load parses the environment, clamps pipeline bounds, and reads the
// optional pipeline override file.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config parse: %w", err)
	}
	cfg.MaxImageWidth = clamp(cfg.MaxImageWidth, 512, 4096)
	cfg.MaxImageHeight = clamp(cfg.MaxImageHeight, 512, 4096)
	cfg.JPEGQuality = clamp(cfg.JPEGQuality, 50, 100)
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.PipelineConfigPath != "" {
		b, err := os.ReadFile(cfg.PipelineConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("config read pipeline overrides: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg.Pipeline); err != nil {
			return Config{}, fmt.Errorf("config parse pipeline overrides: %w", err)
		}
	}
	return cfg, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsDev reports a development environment.
func (c Config) IsDev() bool { return c.AppEnv == "dev" }

// IsProd reports a production environment.
func (c Config) IsProd() bool { return c.AppEnv == "prod" || c.AppEnv == "production" }

// IsTest reports a test environment.
func (c Config) IsTest() bool { return c.AppEnv == "test" }
