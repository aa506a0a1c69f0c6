// Command parseworker is parsepipe's process entrypoint: it wires the
// Consumer, worker pool, and health endpoints together and runs until
// signaled.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/aggregate"
	"github.com/quillhq/parsepipe/blobstore"
	"github.com/quillhq/parsepipe/consumer"
	"github.com/quillhq/parsepipe/convert"
	"github.com/quillhq/parsepipe/fetch"
	"github.com/quillhq/parsepipe/internal/config"
	"github.com/quillhq/parsepipe/internal/healthz"
	"github.com/quillhq/parsepipe/llm"
	"github.com/quillhq/parsepipe/llm/gemini"
	"github.com/quillhq/parsepipe/observer"
	"github.com/quillhq/parsepipe/pipeline"
	"github.com/quillhq/parsepipe/registry"
	"github.com/quillhq/parsepipe/worker"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a normal, signal-driven
// shutdown, non-zero on any fatal initialization failure. Runtime
// broker/registry failures never exit the process.
func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load(os.Getenv("PARSEPIPE_CONFIG_PATH"))

	if cfg.Broker.URL == "" || cfg.Registry.BaseURL == "" || cfg.LLM.GeminiAPIKey == "" {
		logger.Error("parseworker: missing required configuration (RABBITMQ_URL, NEXT_API_URL, GEMINI_API_KEY)")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var obsShutdown func(context.Context) error
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var err error
		inst, obsShutdown, err = observer.Init(ctx, nil)
		if err != nil {
			logger.Error("parseworker: observer init failed", "err", err)
			return 1
		}
	}

	store, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		logger.Error("parseworker: blob store init failed", "err", err)
		return 1
	}

	reg := registry.New(cfg.Registry.BaseURL, cfg.Registry.Timeout)

	var provider llm.Provider = gemini.New(cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel, http.DefaultClient)
	if cfg.LLM.GeminiRPM > 0 {
		provider = llm.WithRateLimit(provider, llm.RPM(cfg.LLM.GeminiRPM))
	}
	if inst != nil {
		provider = observer.WrapProvider(provider, cfg.LLM.GeminiModel, inst)
	}
	llmClient := llm.New(provider, llm.Config{
		Concurrency: cfg.LLM.Concurrency,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
	}, logger)

	fetcher := fetch.New(store, cfg.Worker.DownloadConcurrency, logger)
	converter := convert.New(cfg.Worker.FileProcessingConcurrency, cfg.Worker.DocConversionConcurrency, logger)

	pipe := &pipeline.Pipeline{
		Registry:          reg,
		Store:             store,
		Fetcher:           fetcher,
		Converter:         converter,
		LLM:               llmClient,
		Publisher:         aggregate.NewPublisher(store, cfg.Worker.WorkDir),
		WorkDir:           cfg.Worker.WorkDir,
		ArtifactBucket:    artifactBucket(),
		ProgressBatchSize: cfg.LLM.ProgressBatchSize,
		Logger:            logger,
	}

	cons := consumer.New(cfg.Broker.URL, "parsepipe.tasks", cfg.Worker.QueueSize, cfg.Broker.Prefetch, logger)
	pool := worker.New(pipe, cfg.Worker.Count, logger)

	healthSrv := &http.Server{Addr: ":8080", Handler: healthz.Router(cons)}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("parseworker: health server failed", "err", err)
		}
	}()

	shutdown, stopCtx, workCtx := parsepipe.NewShutdownCoordinator(ctx, logger)

	consumerErr := make(chan error, 1)
	go func() { consumerErr <- cons.Run(stopCtx) }()

	done := shutdown.Track()
	go func() {
		defer done()
		pool.Run(stopCtx, workCtx, cons.Out())
	}()

	<-ctx.Done()
	logger.Info("parseworker: shutdown signal received")
	shutdown.Shutdown(30 * time.Second)
	_ = healthSrv.Close()
	if obsShutdown != nil {
		_ = obsShutdown(context.Background())
	}

	if err := <-consumerErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("parseworker: consumer exited with error", "err", err)
	}

	return 0
}

// artifactBucket is the fixed destination bucket for published artifacts,
// distinct from the per-task source buckets the registry names.
func artifactBucket() string {
	if b := os.Getenv("ARTIFACT_BUCKET"); b != "" {
		return b
	}
	return "parsepipe-artifacts"
}
