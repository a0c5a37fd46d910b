package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/pkg/blob"
)

func TestDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, store := newTestArchive()

	doc := domain.StructuredDocument{
		Organization: "ECB",
		Date:         "2024-01-20",
		Title:        "Economic Bulletin",
		Link:         "https://example.org/bulletin",
		FileName:     "2024-01-20_ECB_Economic Bulletin.pdf",
		CleanedText:  domain.CleanedText{Text: "Inflation is moderating."},
		Summary:      "Inflation outlook.",
	}
	if err := a.PutDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	// Key derivation: .pdf swapped for .json under structure/.
	if ok, _ := store.Exists(ctx, "macro/structure/2024-01-20_ECB_Economic Bulletin.json"); !ok {
		t.Fatalf("document stored under unexpected key: %v", store.Keys())
	}

	got, err := a.Document(ctx, doc.FileName)
	if err != nil {
		t.Fatal(err)
	}
	if got.CleanedText.Text != doc.CleanedText.Text || got.Summary != doc.Summary {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDocumentNotFound(t *testing.T) {
	a, _ := newTestArchive()
	_, err := a.Document(context.Background(), "missing.pdf")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutDocumentRequiresFileName(t *testing.T) {
	a, _ := newTestArchive()
	if err := a.PutDocument(context.Background(), domain.StructuredDocument{Title: "x"}); err == nil {
		t.Fatal("expected error for missing file_name")
	}
}

func TestPutDocumentOverwritesSilently(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestArchive()

	doc := domain.StructuredDocument{FileName: "a.pdf", Summary: "v1"}
	if err := a.PutDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	doc.Summary = "v2"
	if err := a.PutDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, _ := a.Document(ctx, "a.pdf")
	if got.Summary != "v2" {
		t.Fatalf("expected overwrite, got %+v", got)
	}
}

func TestHasDocument(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestArchive()

	if a.HasDocument(ctx, "a.pdf") {
		t.Fatal("expected false for absent document")
	}
	if err := a.PutDocument(ctx, domain.StructuredDocument{FileName: "a.pdf"}); err != nil {
		t.Fatal(err)
	}
	if !a.HasDocument(ctx, "a.pdf") {
		t.Fatal("expected true for stored document")
	}
}

// probeFailStore errors on Exists to exercise the conservative probe path.
type probeFailStore struct{ blob.Store }

func (probeFailStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("ambiguous storage failure")
}

func TestHasDocumentConservativeOnProbeError(t *testing.T) {
	a := New(probeFailStore{blob.NewMemory()}, "macro", nil)
	if a.HasDocument(context.Background(), "a.pdf") {
		t.Fatal("ambiguous probe must report false")
	}
}

func TestStorePDFKeyLayout(t *testing.T) {
	ctx := context.Background()
	a, store := newTestArchive()
	if err := a.StorePDF(ctx, "2024-01-20", "2024-01-20_ECB_Bulletin.pdf", []byte("%PDF")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(ctx, "macro/pdfs/2024-01-20/2024-01-20_ECB_Bulletin.pdf"); !ok {
		t.Fatalf("pdf stored under unexpected key: %v", store.Keys())
	}
}

func TestDigestKeyLayout(t *testing.T) {
	ctx := context.Background()
	a, store := newTestArchive()

	if err := a.StoreMarketDigest(ctx, "2024-01-20", map[string]string{"headline": "risk on"}); err != nil {
		t.Fatal(err)
	}
	if err := a.StoreWixDigest(ctx, "2024-01-20", map[string]string{"headline": "risk on"}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(ctx, "macro/marketsense/marketdigest_2024-01-20.json"); !ok {
		t.Fatal("market digest key wrong")
	}
	if ok, _ := store.Exists(ctx, "macro/website/marketdigestWix_2024-01-20.json"); !ok {
		t.Fatal("wix digest key wrong")
	}
}
