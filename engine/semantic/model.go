// Package semantic owns all vector-index operations against Qdrant.
package semantic

import (
	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/google/uuid"
)

// VectorRecord is a single embedded chunk ready for upsert.
type VectorRecord struct {
	ID        string // deterministic chunk id, e.g. 20240110_WeeklyOutlook_chunk_0
	Embedding []float32
	Payload   map[string]any
}

// RecordFor builds the upsert record for an embedded chunk, denormalizing the
// retrieval metadata into the payload.
func RecordFor(c domain.Chunk, embedding []float32) VectorRecord {
	return VectorRecord{
		ID:        c.ID,
		Embedding: embedding,
		Payload: map[string]any{
			"chunk_id":     c.ID,
			"Organization": c.Organization,
			"Date":         c.Date,
			"Timestamp":    c.Timestamp,
			"Title":        c.Title,
			"Link":         c.Link,
			"summary":      c.Summary,
			"text":         c.Text,
			"source_id":    c.SourceID,
		},
	}
}

// PointID maps a chunk id onto a stable UUID, since Qdrant point ids must be
// UUIDs or integers. Same chunk id, same point: upsert replaces by id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// SearchResult is a single vector search hit.
type SearchResult struct {
	ChunkID      string
	Score        float32
	Text         string
	SourceID     string
	Organization string
	Date         string
	Title        string
	Link         string
	Summary      string
}
