package inject

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/engine/semantic"
	"github.com/MarketSenseAI/macro-engine/pkg/fn"
)

// --- fakes ---

type fakeCatalog struct {
	records  []domain.ArticleRecord
	indexErr error
	docs     map[string]domain.StructuredDocument
}

func (f *fakeCatalog) Index(context.Context) ([]domain.ArticleRecord, error) {
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return f.records, nil
}

func (f *fakeCatalog) Document(_ context.Context, fileName string) (domain.StructuredDocument, error) {
	doc, ok := f.docs[fileName]
	if !ok {
		return domain.StructuredDocument{}, domain.ErrNotFound
	}
	return doc, nil
}

// sentenceChunker splits on ". " so tests control chunk counts exactly.
type sentenceChunker struct{}

func (sentenceChunker) Chunk(_ context.Context, text string) ([]string, error) {
	var out []string
	for _, s := range strings.Split(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

type failingChunker struct{}

func (failingChunker) Chunk(context.Context, string) ([]string, error) {
	return nil, errors.New("chunker broke")
}

type fakeEmbedder struct {
	dims  int
	calls [][]string
	err   error
	short bool // return one vector fewer than requested
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, texts)
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

type fakeUpserter struct {
	ensuredDims int
	batches     [][]semantic.VectorRecord
	upsertErr   error
}

func (f *fakeUpserter) EnsureCollection(_ context.Context, dims int) error {
	f.ensuredDims = dims
	return nil
}

func (f *fakeUpserter) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.batches = append(f.batches, records)
	return nil
}

func fastRetry() fn.RetryOpts {
	return fn.RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}
}

func article(date, title string) domain.ArticleRecord {
	return domain.ArticleRecord{
		Organization: "Fed",
		Date:         date,
		Title:        title,
		Link:         "https://example.org/" + title,
		FileName:     domain.FileNameFor(date, "Fed", title),
	}
}

func docFor(rec domain.ArticleRecord, text string) domain.StructuredDocument {
	return domain.StructuredDocument{
		Organization: rec.Organization,
		Date:         rec.Date,
		Title:        rec.Title,
		Link:         rec.Link,
		FileName:     rec.FileName,
		CleanedText:  domain.CleanedText{Text: text},
		Summary:      "summary of " + rec.Title,
	}
}

func newPipeline(t *testing.T, cat *fakeCatalog, emb *fakeEmbedder, ups *fakeUpserter) *Pipeline {
	t.Helper()
	p, err := New(Deps{
		Catalog:  cat,
		Chunker:  sentenceChunker{},
		Embedder: emb,
		Vectors:  ups,
		Retry:    fastRetry(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// --- tests ---

func TestRunStrictlyGreaterBoundary(t *testing.T) {
	recs := []domain.ArticleRecord{
		article("2024-01-01", "Old"),
		article("2024-01-05", "Boundary"),
		article("2024-01-10", "New"),
	}
	cat := &fakeCatalog{records: recs, docs: map[string]domain.StructuredDocument{
		recs[2].FileName: docFor(recs[2], "Fresh insight."),
	}}
	emb := &fakeEmbedder{dims: 4}
	ups := &fakeUpserter{}

	report, err := newPipeline(t, cat, emb, ups).Run(context.Background(), "2024-01-05")
	if err != nil {
		t.Fatal(err)
	}
	if report.Selected != 1 || report.Loaded != 1 {
		t.Fatalf("boundary record selected: %+v", report)
	}
	if len(ups.batches) != 1 {
		t.Fatalf("expected a single upsert batch, got %d", len(ups.batches))
	}
	if got := ups.batches[0][0].Payload["Title"]; got != "New" {
		t.Fatalf("wrong record injected: %v", got)
	}
}

func TestRunEmptySelectionIsNoOp(t *testing.T) {
	cat := &fakeCatalog{records: []domain.ArticleRecord{article("2024-01-01", "Old")}}
	emb := &fakeEmbedder{dims: 4}
	ups := &fakeUpserter{}

	report, err := newPipeline(t, cat, emb, ups).Run(context.Background(), "2024-06-01")
	if err != nil {
		t.Fatalf("empty selection must not error: %v", err)
	}
	if report.Selected != 0 || report.Chunks != 0 || len(ups.batches) != 0 {
		t.Fatalf("no-op produced work: %+v", report)
	}
	if len(emb.calls) != 0 {
		t.Fatal("embedder called on empty selection")
	}
}

func TestRunMissingIndexIsFirstRun(t *testing.T) {
	cat := &fakeCatalog{indexErr: domain.ErrNotFound}
	report, err := newPipeline(t, cat, &fakeEmbedder{dims: 4}, &fakeUpserter{}).Run(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("missing snapshot is empty index, got %v", err)
	}
	if report.Selected != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunIndexReadFailureAborts(t *testing.T) {
	cat := &fakeCatalog{indexErr: errors.New("storage down")}
	_, err := newPipeline(t, cat, &fakeEmbedder{dims: 4}, &fakeUpserter{}).Run(context.Background(), "2024-01-01")
	if err == nil {
		t.Fatal("expected error on index read failure")
	}
}

func TestRunSkipsMissingDocument(t *testing.T) {
	recs := []domain.ArticleRecord{
		article("2024-01-10", "Present"),
		article("2024-01-11", "Ghost"),
	}
	cat := &fakeCatalog{records: recs, docs: map[string]domain.StructuredDocument{
		recs[0].FileName: docFor(recs[0], "Still here."),
	}}
	ups := &fakeUpserter{}

	report, err := newPipeline(t, cat, &fakeEmbedder{dims: 4}, ups).Run(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if report.Loaded != 1 || report.Skipped != 1 {
		t.Fatalf("expected 1 loaded, 1 skipped: %+v", report)
	}
	if len(report.Failures) != 1 || !strings.Contains(report.Failures[0], recs[1].FileName) {
		t.Fatalf("failure not attributed: %v", report.Failures)
	}
}

func TestRunSkipsEmptyCleanedText(t *testing.T) {
	rec := article("2024-01-10", "Hollow")
	doc := docFor(rec, "")
	doc.CleanedText = domain.CleanedText{}
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{rec.FileName: doc}}

	report, err := newPipeline(t, cat, &fakeEmbedder{dims: 4}, &fakeUpserter{}).Run(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Chunks != 0 {
		t.Fatalf("empty text not skipped: %+v", report)
	}
}

func TestRunChunkerFailureIsolatedPerRecord(t *testing.T) {
	rec := article("2024-01-10", "Only")
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, "Some text."),
	}}
	p, err := New(Deps{
		Catalog:  cat,
		Chunker:  failingChunker{},
		Embedder: &fakeEmbedder{dims: 4},
		Vectors:  &fakeUpserter{},
		Retry:    fastRetry(),
	})
	if err != nil {
		t.Fatal(err)
	}
	report, err := p.Run(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("chunker failure must not abort the run: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("chunker failure not counted: %+v", report)
	}
}

func TestRunChunkIDsStableAndOrdered(t *testing.T) {
	rec := article("2024-01-10", "Weekly Outlook")
	text := "Alpha. Beta. Gamma."
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, text),
	}}

	run := func() []string {
		ups := &fakeUpserter{}
		_, err := newPipeline(t, cat, &fakeEmbedder{dims: 4}, ups).Run(context.Background(), "2024-01-01")
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, batch := range ups.batches {
			for _, r := range batch {
				ids = append(ids, r.ID)
			}
		}
		return ids
	}

	first := run()
	second := run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("chunk ids unstable:\n first=%v\nsecond=%v", first, second)
	}
	want := []string{
		"20240110_WeeklyOutlook_chunk_0",
		"20240110_WeeklyOutlook_chunk_1",
		"20240110_WeeklyOutlook_chunk_2",
	}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("got %v, want %v", first, want)
	}
}

func TestRunUpsertBatching(t *testing.T) {
	// 70 one-sentence chunks across one document: ceil(70/32) = 3 batches.
	var sb strings.Builder
	for i := 0; i < 70; i++ {
		fmt.Fprintf(&sb, "Sentence number %d. ", i)
	}
	rec := article("2024-01-10", "Long Report")
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, sb.String()),
	}}
	ups := &fakeUpserter{}

	report, err := newPipeline(t, cat, &fakeEmbedder{dims: 4}, ups).Run(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if report.Chunks != 70 || report.Upserted != 70 {
		t.Fatalf("chunk accounting wrong: %+v", report)
	}
	if len(ups.batches) != 3 || report.Batches != 3 {
		t.Fatalf("expected 3 upsert calls, got %d", len(ups.batches))
	}
	if len(ups.batches[0]) != 32 || len(ups.batches[1]) != 32 || len(ups.batches[2]) != 6 {
		t.Fatalf("batch sizes %d/%d/%d", len(ups.batches[0]), len(ups.batches[1]), len(ups.batches[2]))
	}

	// Union of batches covers every chunk exactly once, in order.
	seen := make(map[string]bool)
	i := 0
	for _, batch := range ups.batches {
		for _, r := range batch {
			if seen[r.ID] {
				t.Fatalf("chunk %s upserted twice", r.ID)
			}
			seen[r.ID] = true
			if want := domain.ChunkID("20240110_LongReport", i); r.ID != want {
				t.Fatalf("batch order broken at %d: got %s, want %s", i, r.ID, want)
			}
			i++
		}
	}
}

func TestRunEnsuresCollectionWithObservedDims(t *testing.T) {
	rec := article("2024-01-10", "Dims")
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, "One. Two."),
	}}
	ups := &fakeUpserter{}
	_, err := newPipeline(t, cat, &fakeEmbedder{dims: 7}, ups).Run(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if ups.ensuredDims != 7 {
		t.Fatalf("collection created with dims %d", ups.ensuredDims)
	}
}

func TestRunEmbedderFailureAborts(t *testing.T) {
	rec := article("2024-01-10", "Doomed")
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, "Text."),
	}}
	emb := &fakeEmbedder{dims: 4, err: errors.New("embedding service down")}

	_, err := newPipeline(t, cat, emb, &fakeUpserter{}).Run(context.Background(), "2024-01-01")
	if err == nil {
		t.Fatal("expected embedding failure to abort the run")
	}
}

func TestRunEmbedderShortCountAborts(t *testing.T) {
	rec := article("2024-01-10", "Short")
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, "One. Two. Three."),
	}}
	emb := &fakeEmbedder{dims: 4, short: true}

	_, err := newPipeline(t, cat, emb, &fakeUpserter{}).Run(context.Background(), "2024-01-01")
	if !errors.Is(err, domain.ErrNoEmbeddings) {
		t.Fatalf("expected ErrNoEmbeddings, got %v", err)
	}
}

func TestRunDimensionMismatchNotRetried(t *testing.T) {
	rec := article("2024-01-10", "Mismatch")
	cat := &fakeCatalog{records: []domain.ArticleRecord{rec}, docs: map[string]domain.StructuredDocument{
		rec.FileName: docFor(rec, "Text."),
	}}

	calls := 0
	ups := &countingUpserter{err: fmt.Errorf("bad vector: %w", domain.ErrDimensionMismatch), calls: &calls}
	p, err := New(Deps{
		Catalog:  cat,
		Chunker:  sentenceChunker{},
		Embedder: &fakeEmbedder{dims: 4},
		Vectors:  ups,
		Retry:    fn.RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), "2024-01-01")
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal configuration error retried %d times", calls)
	}
}

type countingUpserter struct {
	err   error
	calls *int
}

func (c *countingUpserter) EnsureCollection(context.Context, int) error { return nil }
func (c *countingUpserter) Upsert(context.Context, []semantic.VectorRecord) error {
	*c.calls++
	return c.err
}

func TestDefaultThreshold(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	if got := DefaultThreshold(now); got != "2024-03-08" {
		t.Fatalf("got %s", got)
	}
}
