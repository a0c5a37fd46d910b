package inject

import (
	"context"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/engine/semantic"
)

// Catalog is the slice of the archive the pipeline reads from.
type Catalog interface {
	Index(ctx context.Context) ([]domain.ArticleRecord, error)
	Document(ctx context.Context, fileName string) (domain.StructuredDocument, error)
}

// Embedder maps a batch of texts to fixed-dimension vectors, order-preserving.
// Implementations return an error and no vectors on failure, never a partial
// list.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter is the slice of the vector store the pipeline writes to.
type Upserter interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Report is the typed outcome of one injection run. Per-record failures are
// isolated and listed; infrastructure failures abort the run with an error
// instead.
type Report struct {
	Selected int      // index records past the date threshold
	Loaded   int      // documents fetched and chunked
	Skipped  int      // records skipped (missing document, empty text, chunk failure)
	Chunks   int      // chunks produced across all documents
	Upserted int      // vectors written
	Batches  int      // upsert calls issued
	Failures []string // human-readable reasons for each skip
}

// loadedDoc pairs an index record with its fetched structured document.
type loadedDoc struct {
	record domain.ArticleRecord
	doc    domain.StructuredDocument
}

// normalizedDoc carries the flattened text and stable document id.
type normalizedDoc struct {
	loadedDoc
	text  string
	docID string
}
