package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chroniq.app/engine/common/id"
	"chroniq.app/engine/common/llm"
	"chroniq.app/engine/common/logger"
	"chroniq.app/engine/common/otel"
	"chroniq.app/engine/core/config"
	"chroniq.app/engine/core/db"
	"chroniq.app/engine/internal/engine"
	"chroniq.app/engine/internal/extraction"
	"chroniq.app/engine/internal/notify"
	"chroniq.app/engine/internal/queue"
	"chroniq.app/engine/internal/store"
	"chroniq.app/engine/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "chroniq worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so ids never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	if !cfg.Extraction.Enabled() {
		slog.ErrorContext(ctx, "extraction LLM is not configured (EXTRACTION_LLM_API_KEY)")
		os.Exit(1)
	}

	llmClient, err := llm.New(llm.Config{
		APIKey:  cfg.Extraction.APIKey,
		BaseURL: cfg.Extraction.BaseURL,
		Model:   cfg.Extraction.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    cfg.Worker.BatchSize,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())
	executor := engine.New(stores.Checkpoints(), cfg.Engine)
	extractor := extraction.NewExtractor(llmClient, cfg.Extraction)
	publisher := notify.NewRedisPublisher(redisClient, cfg.Pipeline.UpdatesStream)

	pipeline := extraction.NewPipeline(
		stores.Jobs(),
		stores.Entries(),
		stores.Evidence(),
		stores.Events(),
		executor,
		extractor,
		publisher,
	)

	w, err := worker.New(consumer, stores.Jobs(), pipeline, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Concurrency: cfg.Worker.Concurrency,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create worker", "error", err)
		os.Exit(1)
	}

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running",
		"concurrency", cfg.Worker.Concurrency,
		"batch_size", cfg.Worker.BatchSize)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick), then the worker (may be mid-job).
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 ██████╗██╗  ██╗██████╗  ██████╗ ███╗   ██╗██╗ ██████╗     ██╗    ██╗██████╗ ██╗  ██╗
██╔════╝██║  ██║██╔══██╗██╔═══██╗████╗  ██║██║██╔═══██╗    ██║    ██║██╔══██╗██║ ██╔╝
██║     ███████║██████╔╝██║   ██║██╔██╗ ██║██║██║   ██║    ██║ █╗ ██║██████╔╝█████╔╝
██║     ██╔══██║██╔══██╗██║   ██║██║╚██╗██║██║██║▄▄ ██║    ██║███╗██║██╔══██╗██╔═██╗
╚██████╗██║  ██║██║  ██║╚██████╔╝██║ ╚████║██║╚██████╔╝    ╚███╔███╔╝██║  ██║██║  ██╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═══╝╚═╝ ╚══▀▀═╝      ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝
`
