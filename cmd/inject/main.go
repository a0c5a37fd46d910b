// Command inject runs one incremental injection: articles newer than the
// date threshold are loaded from the archive, chunked, embedded, and
// upserted into the vector index. Exits non-zero when the run fails, so a
// scheduler can alert on it.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarketSenseAI/macro-engine/engine/archive"
	"github.com/MarketSenseAI/macro-engine/engine/chunk"
	"github.com/MarketSenseAI/macro-engine/engine/inject"
	"github.com/MarketSenseAI/macro-engine/engine/semantic"
	"github.com/MarketSenseAI/macro-engine/pkg/blob"
	"github.com/MarketSenseAI/macro-engine/pkg/llm"
	"github.com/MarketSenseAI/macro-engine/pkg/metrics"
	"github.com/MarketSenseAI/macro-engine/pkg/ollama"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mSelected = met.Counter("macro_inject_selected_total", "Index records past the date threshold")
	mLoaded   = met.Counter("macro_inject_docs_loaded_total", "Documents loaded and chunked")
	mSkipped  = met.Counter("macro_inject_docs_skipped_total", "Documents skipped")
	mChunks   = met.Counter("macro_inject_chunks_total", "Chunks produced")
	mUpserted = met.Counter("macro_inject_vectors_upserted_total", "Vectors written")
	mBatches  = met.Counter("macro_inject_upsert_batches_total", "Upsert calls issued")
	mRunDur   = met.Histogram("macro_inject_run_duration_seconds", "Injection run time", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	NatsURL     string
	BlobBucket  string
	Prefix      string
	QdrantURL   string
	Collection  string
	OpenAIKey   string
	OllamaURL   string
	OllamaModel string
	RefreshURL  string
	MetricsPort int
}

func loadConfig() Config {
	return Config{
		NatsURL:     envOr("NATS_URL", nats.DefaultURL),
		BlobBucket:  envOr("BLOB_BUCKET", "macro-archive"),
		Prefix:      envOr("ARCHIVE_PREFIX", archive.DefaultPrefix),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "macro"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OllamaURL:   os.Getenv("OLLAMA_URL"),
		OllamaModel: envOr("OLLAMA_MODEL", "nomic-embed-text"),
		RefreshURL:  os.Getenv("REFRESH_URL"),
		MetricsPort: 9091,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		dateFrom = flag.String("date_from", "", "inject articles strictly newer than this date (YYYY-MM-DD, default 2 days ago)")
		refresh  = flag.Bool("refresh-container", false, "POST to $REFRESH_URL after a successful run")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := loadConfig()

	if cfg.OpenAIKey == "" && cfg.OllamaURL == "" {
		logger.Error("OPENAI_API_KEY or OLLAMA_URL is required")
		os.Exit(1)
	}

	if *refresh && cfg.RefreshURL == "" {
		logger.Error("REFRESH_URL is required with --refresh-container")
		os.Exit(1)
	}

	if err := run(cfg, *dateFrom, *refresh, logger); err != nil {
		logger.Error("injection failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, dateFrom string, refresh bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	if dateFrom == "" {
		dateFrom = inject.DefaultThreshold(time.Now())
	}

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	store, err := blob.NewObjectStore(ctx, nc, cfg.BlobBucket)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	arch := archive.New(store, cfg.Prefix, logger)

	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()

	var embedder inject.Embedder
	if cfg.OllamaURL != "" {
		// Local embedding model instead of the OpenAI API.
		embedder = ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel)
	} else {
		client, err := llm.New(cfg.OpenAIKey)
		if err != nil {
			return fmt.Errorf("openai client: %w", err)
		}
		embedder = client
	}

	pipeline, err := inject.New(inject.Deps{
		Catalog:  arch,
		Chunker:  chunk.NewSemanticChunker(embedder),
		Embedder: embedder,
		Vectors:  vectors,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := pipeline.Run(ctx, dateFrom)
	mRunDur.Since(start)
	recordReport(report)
	if err != nil {
		return err
	}

	logger.Info("injection complete",
		"date_from", dateFrom,
		"selected", report.Selected,
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"chunks", report.Chunks,
		"upserted", report.Upserted)

	if refresh {
		if err := refreshContainer(ctx, cfg.RefreshURL); err != nil {
			return fmt.Errorf("refresh container: %w", err)
		}
		logger.Info("container refresh triggered", "url", cfg.RefreshURL)
	}
	return nil
}

func recordReport(r inject.Report) {
	mSelected.Add(int64(r.Selected))
	mLoaded.Add(int64(r.Loaded))
	mSkipped.Add(int64(r.Skipped))
	mChunks.Add(int64(r.Chunks))
	mUpserted.Add(int64(r.Upserted))
	mBatches.Add(int64(r.Batches))
}

// refreshContainer POSTs to the webhook that restarts the serving container,
// so it picks up the freshly injected index.
func refreshContainer(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
