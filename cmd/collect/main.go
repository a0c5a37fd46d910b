// Command collect is the long-running article collector. It consumes scraped
// articles from the bus, cleans them through the LLM, archives PDFs and
// structured documents, and keeps the article index current. It also answers
// latest-date requests so scrapers know where to resume.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarketSenseAI/macro-engine/engine/archive"
	"github.com/MarketSenseAI/macro-engine/engine/collect"
	"github.com/MarketSenseAI/macro-engine/pkg/blob"
	"github.com/MarketSenseAI/macro-engine/pkg/llm"
	"github.com/MarketSenseAI/macro-engine/pkg/metrics"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

// Config holds all environment-based configuration.
type Config struct {
	NatsURL     string
	BlobBucket  string
	Prefix      string
	OpenAIKey   string
	MetricsPort int
}

func loadConfig() Config {
	return Config{
		NatsURL:     envOr("NATS_URL", nats.DefaultURL),
		BlobBucket:  envOr("BLOB_BUCKET", "macro-archive"),
		Prefix:      envOr("ARCHIVE_PREFIX", archive.DefaultPrefix),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		MetricsPort: 9092,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := loadConfig()

	if cfg.OpenAIKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("collector exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	store, err := blob.NewObjectStore(ctx, nc, cfg.BlobBucket)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	arch := archive.New(store, cfg.Prefix, logger)

	client, err := llm.New(cfg.OpenAIKey)
	if err != nil {
		return fmt.Errorf("openai client: %w", err)
	}

	collector := collect.New(arch, client, logger)

	sub, err := collect.StartConsumer(nc, collector)
	if err != nil {
		return fmt.Errorf("subscribe articles: %w", err)
	}
	defer sub.Unsubscribe()

	latestSub, err := collect.ServeLatestDates(nc, collector)
	if err != nil {
		return fmt.Errorf("subscribe latest dates: %w", err)
	}
	defer latestSub.Unsubscribe()

	logger.Info("collector running", "nats", cfg.NatsURL, "bucket", cfg.BlobBucket)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
