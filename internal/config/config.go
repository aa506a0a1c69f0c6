// Package config loads parsepipe's runtime configuration: defaults, then
// an optional TOML file, then environment variables (env always wins).
// The TOML file holds static per-deployment defaults (worker counts,
// timeouts); the env vars are what every deployment manifest actually
// sets.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is parsepipe's full runtime configuration.
type Config struct {
	Worker   WorkerConfig   `toml:"worker"`
	LLM      LLMConfig      `toml:"llm"`
	Registry RegistryConfig `toml:"registry"`
	S3       S3Config       `toml:"s3"`
	Broker   BrokerConfig   `toml:"broker"`
	Observer ObserverConfig `toml:"observer"`
}

// WorkerConfig sizes the worker pool and its bounded resources.
type WorkerConfig struct {
	Count                     int    `toml:"count"`                       // WORKER_COUNT
	QueueSize                 int    `toml:"queue_size"`                  // QUEUE_SIZE
	FileProcessingConcurrency int    `toml:"file_processing_concurrency"` // FILE_PROCESSING_CONCURRENCY
	DocConversionConcurrency  int    `toml:"doc_conversion_concurrency"`  // DOC_CONVERSION_CONCURRENCY
	DownloadConcurrency       int    `toml:"download_concurrency"`        // no dedicated env var; per-pipeline download cap
	WorkDir                   string `toml:"work_dir"`                    // WORK_DIR
}

// LLMConfig configures the LLMClient and its Gemini provider.
type LLMConfig struct {
	Concurrency       int           `toml:"concurrency"`         // LLM_CONCURRENCY
	MaxRetries        int           `toml:"max_retries"`         // LLM_MAX_RETRIES
	RetryDelay        time.Duration `toml:"retry_delay"`         // LLM_RETRY_DELAY
	ProgressBatchSize int           `toml:"progress_batch_size"` // PROGRESS_UPDATE_BATCH_SIZE (0 = computed per task)
	GeminiAPIKey      string        `toml:"gemini_api_key"`      // GEMINI_API_KEY
	GeminiModel       string        `toml:"gemini_model"`        // GEMINI_MODEL
	GeminiRPM         int           `toml:"gemini_rpm"`          // GEMINI_RPM (0 = unbounded)
}

// RegistryConfig configures the TaskRegistryClient HTTP surface.
type RegistryConfig struct {
	BaseURL string        `toml:"base_url"` // NEXT_API_URL
	Timeout time.Duration `toml:"timeout"`
}

// S3Config configures the S3-compatible BlobStore.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`   // S3_ENDPOINT
	AccessKey string `toml:"access_key"` // S3_ACCESS_KEY
	SecretKey string `toml:"secret_key"` // S3_SECRET_KEY
	UseSSL    bool   `toml:"use_ssl"`    // S3_USE_SSL
}

// BrokerConfig configures the RabbitMQ Consumer.
type BrokerConfig struct {
	URL      string `toml:"url"`      // RABBITMQ_URL
	Prefetch int    `toml:"prefetch"` // CONCURRENCY
}

// ObserverConfig toggles OTEL export, configured from standard OTEL_*
// env vars directly by the observer package, not duplicated here.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with reasonable operational starting points.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			Count:                     4,
			QueueSize:                 100,
			FileProcessingConcurrency: 4,
			DocConversionConcurrency:  2,
			DownloadConcurrency:       8,
			WorkDir:                   os.TempDir(),
		},
		LLM: LLMConfig{
			Concurrency: 5,
			MaxRetries:  3,
			RetryDelay:  2 * time.Second,
			GeminiModel: "gemini-2.5-flash",
		},
		Registry: RegistryConfig{Timeout: 10 * time.Second},
		Broker:   BrokerConfig{Prefetch: 100},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "parsepipe.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		cfg.Worker.Count = atoiOr(v, cfg.Worker.Count)
	}
	if v := os.Getenv("QUEUE_SIZE"); v != "" {
		cfg.Worker.QueueSize = atoiOr(v, cfg.Worker.QueueSize)
	}
	if v := os.Getenv("CONCURRENCY"); v != "" {
		cfg.Broker.Prefetch = atoiOr(v, cfg.Broker.Prefetch)
	}
	if v := os.Getenv("FILE_PROCESSING_CONCURRENCY"); v != "" {
		cfg.Worker.FileProcessingConcurrency = atoiOr(v, cfg.Worker.FileProcessingConcurrency)
	}
	if v := os.Getenv("DOC_CONVERSION_CONCURRENCY"); v != "" {
		cfg.Worker.DocConversionConcurrency = atoiOr(v, cfg.Worker.DocConversionConcurrency)
	}
	if v := os.Getenv("LLM_CONCURRENCY"); v != "" {
		cfg.LLM.Concurrency = atoiOr(v, cfg.LLM.Concurrency)
	}
	if v := os.Getenv("LLM_MAX_RETRIES"); v != "" {
		cfg.LLM.MaxRetries = atoiOr(v, cfg.LLM.MaxRetries)
	}
	if v := os.Getenv("LLM_RETRY_DELAY"); v != "" {
		if secs := atoiOr(v, -1); secs >= 0 {
			cfg.LLM.RetryDelay = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PROGRESS_UPDATE_BATCH_SIZE"); v != "" {
		cfg.LLM.ProgressBatchSize = atoiOr(v, cfg.LLM.ProgressBatchSize)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.LLM.GeminiModel = v
	}
	if v := os.Getenv("GEMINI_RPM"); v != "" {
		cfg.LLM.GeminiRPM = atoiOr(v, cfg.LLM.GeminiRPM)
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("NEXT_API_URL"); v != "" {
		cfg.Registry.BaseURL = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3.SecretKey = v
	}
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		cfg.S3.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.Worker.WorkDir = v
	}
	if v := os.Getenv("OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
