package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/pkg/blob"
)

// Document fetches the structured record keyed by an article's PDF file name
// (extension swapped to .json). Returns domain.ErrNotFound when absent.
func (a *Archive) Document(ctx context.Context, fileName string) (domain.StructuredDocument, error) {
	var doc domain.StructuredDocument
	data, err := a.store.Get(ctx, a.documentKey(fileName))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return doc, domain.ErrNotFound
		}
		return doc, fmt.Errorf("archive: read document %s: %w", fileName, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("archive: decode document %s: %w", fileName, err)
	}
	return doc, nil
}

// PutDocument writes a structured record under the deterministic key derived
// from its file name, silently overwriting any previous version.
func (a *Archive) PutDocument(ctx context.Context, doc domain.StructuredDocument) error {
	if doc.FileName == "" {
		return fmt.Errorf("archive: document has no file_name")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("archive: encode document %s: %w", doc.FileName, err)
	}
	if err := a.store.Put(ctx, a.documentKey(doc.FileName), data); err != nil {
		return fmt.Errorf("archive: write document %s: %w", doc.FileName, err)
	}
	return nil
}

// HasDocument probes for a structured record without fetching it. On an
// ambiguous probe error it is conservative: the anomaly is logged and the
// answer is false, so the caller re-processes rather than silently skips.
func (a *Archive) HasDocument(ctx context.Context, fileName string) bool {
	ok, err := a.store.Exists(ctx, a.documentKey(fileName))
	if err != nil {
		a.log.Warn("archive: existence probe failed", "file", fileName, "error", err)
		return false
	}
	return ok
}

// StorePDF archives the raw PDF bytes under the dated pdfs/ key.
func (a *Archive) StorePDF(ctx context.Context, date, fileName string, data []byte) error {
	if err := a.store.Put(ctx, a.pdfKey(date, fileName), data); err != nil {
		return fmt.Errorf("archive: store pdf %s: %w", fileName, err)
	}
	a.log.Info("archive: pdf stored", "file", fileName, "bytes", len(data))
	return nil
}
