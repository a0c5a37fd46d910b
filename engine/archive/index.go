package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/pkg/blob"
	"github.com/MarketSenseAI/macro-engine/pkg/fn"
)

// Archive manages the article index and document store over a blob.Store.
//
// The index is a single whole-object snapshot: every mutation is read full
// snapshot, compute, write full snapshot. Appends within one process are
// serialized by a mutex; across processes the design assumes one writer per
// run, enforced by external scheduling.
type Archive struct {
	store  blob.Store
	prefix string
	log    *slog.Logger

	mu sync.Mutex // serializes snapshot read-modify-write
}

// New creates an Archive over the given blob store and namespace prefix.
func New(store blob.Store, prefix string, log *slog.Logger) *Archive {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archive{store: store, prefix: prefix, log: log}
}

// Index fetches and decodes the current snapshot. Returns domain.ErrNotFound
// when no snapshot exists yet; callers treat that as an empty index, not a
// fatal error.
func (a *Archive) Index(ctx context.Context) ([]domain.ArticleRecord, error) {
	data, err := a.store.Get(ctx, a.indexKey())
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("archive: read index: %w", err)
	}
	return decodeIndex(data)
}

// decodeIndex tolerates the legacy double-encoded snapshot shape (a JSON
// string whose contents are the JSON array) alongside a plain array.
func decodeIndex(data []byte) ([]domain.ArticleRecord, error) {
	var inner string
	if err := json.Unmarshal(data, &inner); err == nil {
		data = []byte(inner)
	}
	var records []domain.ArticleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("archive: decode index: %w", err)
	}
	return records, nil
}

// Append merges new records into the snapshot. Records with an empty
// file_name are dropped, large optional fields are stripped (the index is a
// catalog), and exact duplicates on (Title, Date, file_name) are removed with
// the first-seen record winning. The whole snapshot is written back in a
// single call.
func (a *Archive) Append(ctx context.Context, records []domain.ArticleRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.Index(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	merged := append(existing, fn.Map(records, domain.ArticleRecord.CatalogEntry)...)
	merged = fn.Filter(merged, func(r domain.ArticleRecord) bool { return r.FileName != "" })
	merged = fn.UniqueBy(merged, domain.ArticleRecord.Key)

	return a.writeIndex(ctx, merged)
}

// RemoveRange deletes every record whose Date falls in [dateFrom, dateTo]
// (inclusive) and, when organization is non-empty, whose Organization matches
// it as a case-insensitive substring. The matching PDF and structured-document
// blobs are deleted best-effort before the snapshot is rewritten.
func (a *Archive) RemoveRange(ctx context.Context, dateFrom, dateTo, organization string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.Index(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	match := func(r domain.ArticleRecord) bool {
		if r.Date < dateFrom || r.Date > dateTo {
			return false
		}
		if organization == "" {
			return true
		}
		return strings.Contains(strings.ToLower(r.Organization), strings.ToLower(organization))
	}

	removed := fn.Filter(records, match)
	kept := fn.Filter(records, func(r domain.ArticleRecord) bool { return !match(r) })

	for _, r := range removed {
		a.deleteArticleBlobs(ctx, r)
	}

	a.log.Info("archive: range remove",
		"from", dateFrom, "to", dateTo, "organization", organization,
		"removed", len(removed), "kept", len(kept))
	return a.writeIndex(ctx, kept)
}

// deleteArticleBlobs removes the PDF and structured-document objects for a
// record. Failures are logged, never fatal: an orphaned blob beats a broken
// snapshot rewrite.
func (a *Archive) deleteArticleBlobs(ctx context.Context, r domain.ArticleRecord) {
	if err := a.store.Delete(ctx, a.documentKey(r.FileName)); err != nil {
		a.log.Warn("archive: delete document blob", "file", r.FileName, "error", err)
	}
	if err := a.store.Delete(ctx, a.pdfKey(r.Date, r.FileName)); err != nil {
		a.log.Warn("archive: delete pdf blob", "file", r.FileName, "error", err)
	}
}

// LatestDates returns the most recent article Date per Organization, ignoring
// records missing either field. Scrapers use this to pick their incremental
// starting point.
func (a *Archive) LatestDates(ctx context.Context) (map[string]string, error) {
	records, err := a.Index(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	latest := make(map[string]string)
	for _, r := range records {
		if r.Organization == "" || r.Date == "" {
			continue
		}
		if r.Date > latest[r.Organization] {
			latest[r.Organization] = r.Date
		}
	}
	return latest, nil
}

func (a *Archive) writeIndex(ctx context.Context, records []domain.ArticleRecord) error {
	if records == nil {
		records = []domain.ArticleRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("archive: encode index: %w", err)
	}
	if err := a.store.Put(ctx, a.indexKey(), data); err != nil {
		return fmt.Errorf("archive: write index: %w", err)
	}
	a.log.Info("archive: index written", "records", len(records))
	return nil
}
