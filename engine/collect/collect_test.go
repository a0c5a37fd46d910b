package collect

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/engine/scraper"
	"github.com/MarketSenseAI/macro-engine/pkg/resilience"
)

type fakeArchive struct {
	docs    map[string]domain.StructuredDocument
	pdfs    map[string][]byte
	index   []domain.ArticleRecord
	putErr  error
	pdfErr  error
	idxErr  error
	latest  map[string]string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		docs: make(map[string]domain.StructuredDocument),
		pdfs: make(map[string][]byte),
	}
}

func (f *fakeArchive) HasDocument(_ context.Context, fileName string) bool {
	_, ok := f.docs[fileName]
	return ok
}

func (f *fakeArchive) StorePDF(_ context.Context, date, fileName string, data []byte) error {
	if f.pdfErr != nil {
		return f.pdfErr
	}
	f.pdfs[date+"/"+fileName] = data
	return nil
}

func (f *fakeArchive) PutDocument(_ context.Context, doc domain.StructuredDocument) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.docs[doc.FileName] = doc
	return nil
}

func (f *fakeArchive) Append(_ context.Context, records []domain.ArticleRecord) error {
	if f.idxErr != nil {
		return f.idxErr
	}
	f.index = append(f.index, records...)
	return nil
}

func (f *fakeArchive) LatestDates(context.Context) (map[string]string, error) {
	return f.latest, nil
}

type fakeCleaner struct {
	out   domain.CleanedArticle
	err   error
	calls int
}

func (f *fakeCleaner) Clean(context.Context, string) (domain.CleanedArticle, error) {
	f.calls++
	return f.out, f.err
}

func testArticle() scraper.ScrapedArticle {
	return scraper.ScrapedArticle{
		Record: domain.ArticleRecord{
			Organization: "BlackRock",
			Date:         "2024-01-10",
			Title:        "Weekly Outlook",
			Link:         "https://example.com/outlook",
			FileName:     "2024-01-10_BlackRock_Weekly Outlook.pdf",
		},
		RawText: "Markets rallied this week on rate cut hopes.",
		PDF:     []byte("%PDF-1.4 fake"),
	}
}

func TestProcessArchivesArticle(t *testing.T) {
	arch := newFakeArchive()
	cleaner := &fakeCleaner{out: domain.CleanedArticle{
		Summary:     "Markets rallied.",
		CleanedText: "Markets rallied this week on rate cut hopes.",
	}}
	c := New(arch, cleaner, slog.Default())

	stored, err := c.Process(context.Background(), testArticle())
	if err != nil {
		t.Fatal(err)
	}
	if !stored {
		t.Fatal("expected article to be stored")
	}

	doc, ok := arch.docs["2024-01-10_BlackRock_Weekly Outlook.pdf"]
	if !ok {
		t.Fatal("document not stored")
	}
	if doc.Summary != "Markets rallied." {
		t.Fatalf("unexpected summary %q", doc.Summary)
	}
	if doc.CleanedText.Text != "Markets rallied this week on rate cut hopes." {
		t.Fatalf("unexpected cleaned text %q", doc.CleanedText.Text)
	}
	if _, ok := arch.pdfs["2024-01-10/2024-01-10_BlackRock_Weekly Outlook.pdf"]; !ok {
		t.Fatal("pdf not stored")
	}
	if len(arch.index) != 1 {
		t.Fatalf("expected 1 index record, got %d", len(arch.index))
	}
}

func TestProcessSkipsAlreadyCollected(t *testing.T) {
	arch := newFakeArchive()
	arch.docs["2024-01-10_BlackRock_Weekly Outlook.pdf"] = domain.StructuredDocument{}
	cleaner := &fakeCleaner{}
	c := New(arch, cleaner, slog.Default())

	stored, err := c.Process(context.Background(), testArticle())
	if err != nil {
		t.Fatal(err)
	}
	if stored {
		t.Fatal("expected duplicate to be skipped")
	}
	if cleaner.calls != 0 {
		t.Fatal("cleaner should not run for duplicates")
	}
}

func TestProcessRejectsInvalidRecord(t *testing.T) {
	c := New(newFakeArchive(), &fakeCleaner{}, slog.Default())

	art := testArticle()
	art.Record.Date = "Jan 10, 2024"
	if _, err := c.Process(context.Background(), art); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProcessCleanerFailureStoresNothing(t *testing.T) {
	arch := newFakeArchive()
	cleaner := &fakeCleaner{err: errors.New("llm down")}
	c := New(arch, cleaner, slog.Default())

	if _, err := c.Process(context.Background(), testArticle()); err == nil {
		t.Fatal("expected error")
	}
	if len(arch.docs) != 0 || len(arch.pdfs) != 0 || len(arch.index) != 0 {
		t.Fatal("nothing should be stored when cleaning fails")
	}
}

func TestProcessSkipsPDFStoreWhenNoBytes(t *testing.T) {
	arch := newFakeArchive()
	cleaner := &fakeCleaner{out: domain.CleanedArticle{CleanedText: "text"}}
	c := New(arch, cleaner, slog.Default())

	art := testArticle()
	art.PDF = nil
	if _, err := c.Process(context.Background(), art); err != nil {
		t.Fatal(err)
	}
	if len(arch.pdfs) != 0 {
		t.Fatal("no pdf should be stored")
	}
	if len(arch.docs) != 1 {
		t.Fatal("document should still be stored")
	}
}

func TestProcessBreakerTripsOnRepeatedCleanerFailure(t *testing.T) {
	arch := newFakeArchive()
	cleaner := &fakeCleaner{err: errors.New("llm down")}
	c := New(arch, cleaner, slog.Default())

	ctx := context.Background()
	for i := 0; i < resilience.DefaultBreakerOpts.FailThreshold; i++ {
		_, _ = c.Process(ctx, testArticle())
	}

	_, err := c.Process(ctx, testArticle())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if cleaner.calls != resilience.DefaultBreakerOpts.FailThreshold {
		t.Fatalf("cleaner called %d times, want %d", cleaner.calls, resilience.DefaultBreakerOpts.FailThreshold)
	}
}
