package archive

import (
	"context"
	"encoding/json"
	"fmt"
)

// StoreMarketDigest writes the per-day market digest consumed by the
// marketsense application.
func (a *Archive) StoreMarketDigest(ctx context.Context, date string, v any) error {
	return a.putJSON(ctx, a.digestKey(date), v)
}

// StoreWixDigest writes the per-day digest variant rendered on the website.
func (a *Archive) StoreWixDigest(ctx context.Context, date string, v any) error {
	return a.putJSON(ctx, a.wixDigestKey(date), v)
}

func (a *Archive) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", key, err)
	}
	if err := a.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("archive: write %s: %w", key, err)
	}
	return nil
}
