// Package inject is the incremental chunk/embed/upsert pipeline: it selects
// newly indexed articles past a date threshold, splits their cleaned text
// into semantic chunks, embeds them in batches, and upserts the vectors into
// the remote index.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MarketSenseAI/macro-engine/engine/chunk"
	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/engine/semantic"
	"github.com/MarketSenseAI/macro-engine/pkg/fn"
)

const (
	// EmbedBatchSize is the max chunk texts per embedding request.
	EmbedBatchSize = 100
	// UpsertBatchSize is the number of vectors per upsert call.
	UpsertBatchSize = 32
	// DefaultLookbackDays backs the date threshold when none is given.
	DefaultLookbackDays = 2
)

// DefaultThreshold returns the default incremental boundary: N days before
// now, day precision.
func DefaultThreshold(now time.Time) string {
	return now.AddDate(0, 0, -DefaultLookbackDays).Format(domain.DateLayout)
}

// Deps holds the external collaborators of the pipeline.
type Deps struct {
	Catalog  Catalog
	Chunker  chunk.Chunker
	Embedder Embedder
	Vectors  Upserter
	Logger   *slog.Logger
	Retry    fn.RetryOpts
}

// Pipeline runs incremental injections. Single-writer: one Run at a time.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
}

// New validates deps and constructs a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Catalog == nil || deps.Chunker == nil || deps.Embedder == nil || deps.Vectors == nil {
		return nil, fmt.Errorf("inject: missing dependency")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = fn.DefaultRetry
	}
	return &Pipeline{deps: deps, log: deps.Logger}, nil
}

// Run injects every article with Date strictly greater than dateFrom.
// An empty selection is a no-op, not an error. Per-record problems are
// skipped and reported; embedding or upsert failures abort the run.
func (p *Pipeline) Run(ctx context.Context, dateFrom string) (Report, error) {
	var report Report

	records, err := p.deps.Catalog.Index(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.log.Warn("inject: no article index yet, nothing to do")
			return report, nil
		}
		return report, fmt.Errorf("inject: load index: %w", err)
	}

	selected := fn.Filter(records, func(r domain.ArticleRecord) bool {
		return r.Date > dateFrom
	})
	report.Selected = len(selected)
	if len(selected) == 0 {
		p.log.Warn("inject: no documents past threshold", "date_from", dateFrom)
		return report, nil
	}
	p.log.Info("inject: selected documents", "count", len(selected), "date_from", dateFrom)

	chunks := p.collectChunks(ctx, selected, &report)
	if len(chunks) == 0 {
		p.log.Warn("inject: no chunks produced", "skipped", report.Skipped)
		return report, nil
	}
	report.Chunks = len(chunks)

	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		return report, err
	}

	if err := p.upsertAll(ctx, chunks, vectors, &report); err != nil {
		return report, err
	}

	p.log.Info("inject: run complete",
		"selected", report.Selected, "loaded", report.Loaded, "skipped", report.Skipped,
		"chunks", report.Chunks, "upserted", report.Upserted, "batches", report.Batches)
	return report, nil
}

// collectChunks runs the per-document stages (load, normalize, chunk) over
// the selection. One bad document never stops the batch.
func (p *Pipeline) collectChunks(ctx context.Context, selected []domain.ArticleRecord, report *Report) []domain.Chunk {
	stage := fn.Then(
		fn.TracedStage("inject.load", p.loadStage()),
		fn.Then(
			fn.TracedStage("inject.normalize", normalizeStage),
			fn.TracedStage("inject.chunk", p.chunkStage()),
		),
	)

	var chunks []domain.Chunk
	for _, rec := range selected {
		docChunks, err := stage(ctx, rec).Unwrap()
		if err != nil {
			report.Skipped++
			report.Failures = append(report.Failures, (&domain.RecordError{FileName: rec.FileName, Wrapped: err}).Error())
			p.log.Warn("inject: document skipped", "file", rec.FileName, "error", err)
			continue
		}
		report.Loaded++
		chunks = append(chunks, docChunks...)
	}
	return chunks
}

// loadStage fetches the structured document for an index record.
func (p *Pipeline) loadStage() fn.Stage[domain.ArticleRecord, loadedDoc] {
	return func(ctx context.Context, rec domain.ArticleRecord) fn.Result[loadedDoc] {
		doc, err := p.deps.Catalog.Document(ctx, rec.FileName)
		if err != nil {
			return fn.Err[loadedDoc](fmt.Errorf("load document: %w", err))
		}
		return fn.Ok(loadedDoc{record: rec, doc: doc})
	}
}

// normalizeStage flattens the cleaned text and derives the stable doc id.
// Documents with no text are skipped before chunking.
var normalizeStage fn.Stage[loadedDoc, normalizedDoc] = func(_ context.Context, ld loadedDoc) fn.Result[normalizedDoc] {
	if ld.doc.CleanedText.IsEmpty() {
		return fn.Errf[normalizedDoc]("empty cleaned_text")
	}
	date, title := ld.doc.Date, ld.doc.Title
	if date == "" {
		date = ld.record.Date
	}
	if title == "" {
		title = ld.record.Title
	}
	return fn.Ok(normalizedDoc{
		loadedDoc: ld,
		text:      ld.doc.CleanedText.Flatten(),
		docID:     domain.DocumentID(date, title),
	})
}

// chunkStage splits the normalized text and attaches chunk identities plus
// denormalized retrieval metadata.
func (p *Pipeline) chunkStage() fn.Stage[normalizedDoc, []domain.Chunk] {
	return func(ctx context.Context, nd normalizedDoc) fn.Result[[]domain.Chunk] {
		texts, err := p.deps.Chunker.Chunk(ctx, nd.text)
		if err != nil {
			return fn.Err[[]domain.Chunk](fmt.Errorf("chunk: %w", err))
		}

		date, title := nd.doc.Date, nd.doc.Title
		if date == "" {
			date = nd.record.Date
		}
		if title == "" {
			title = nd.record.Title
		}
		org := nd.doc.Organization
		if org == "" {
			org = nd.record.Organization
		}
		link := nd.doc.Link
		if link == "" {
			link = nd.record.Link
		}

		chunks := make([]domain.Chunk, len(texts))
		for i, text := range texts {
			chunks[i] = domain.Chunk{
				ID:           domain.ChunkID(nd.docID, i),
				SourceID:     nd.docID,
				Text:         text,
				Organization: org,
				Date:         date,
				Timestamp:    domain.EpochSeconds(date),
				Title:        title,
				Link:         link,
				Summary:      nd.doc.Summary,
			}
		}
		return fn.Ok(chunks)
	}
}

// embedAll embeds chunk texts in order-preserving batches. Any embedding
// failure aborts the run: a partial vector set would desynchronize ids and
// embeddings.
func (p *Pipeline) embedAll(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))

	for _, batch := range fn.Chunk(chunks, EmbedBatchSize) {
		texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })

		result := fn.Retry(ctx, p.deps.Retry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(p.deps.Embedder.EmbedBatch(ctx, texts))
		})
		batchVectors, err := result.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("inject: embed batch: %w", err)
		}
		if len(batchVectors) != len(texts) {
			return nil, fmt.Errorf("inject: embedder returned %d vectors for %d texts: %w",
				len(batchVectors), len(texts), domain.ErrNoEmbeddings)
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// upsertAll writes vectors in fixed-size contiguous batches, creating the
// collection first with the dimensionality observed from the first vector.
func (p *Pipeline) upsertAll(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, report *Report) error {
	dims := len(vectors[0])
	if err := p.deps.Vectors.EnsureCollection(ctx, dims); err != nil {
		return fmt.Errorf("inject: ensure collection: %w", err)
	}

	records := make([]semantic.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = semantic.RecordFor(c, vectors[i])
	}

	// Dimension mismatch is configuration, not weather: no point retrying.
	retryable := func(err error) bool { return !errors.Is(err, domain.ErrDimensionMismatch) }

	for _, batch := range fn.Chunk(records, UpsertBatchSize) {
		result := fn.RetryIf(ctx, p.deps.Retry, retryable, func(ctx context.Context) fn.Result[int] {
			if err := p.deps.Vectors.Upsert(ctx, batch); err != nil {
				return fn.Err[int](err)
			}
			return fn.Ok(len(batch))
		})
		n, err := result.Unwrap()
		if err != nil {
			return fmt.Errorf("inject: upsert batch: %w", err)
		}
		report.Batches++
		report.Upserted += n
	}
	return nil
}
