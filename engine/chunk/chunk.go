// Package chunk splits cleaned article text into embeddable segments.
//
// Two strategies are provided: SemanticChunker detects topic shifts from the
// gradient of embedding distances between neighbouring sentences, producing
// topically coherent chunks of uneven length; WindowChunker is the simpler
// fixed-window fallback. Both are deterministic for a fixed input and
// configuration, which keeps derived chunk ids stable across runs.
package chunk

import "context"

// Chunker splits text into ordered segments.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// SentenceEmbedder provides batch sentence embeddings for breakpoint
// detection. Order-preserving; one vector per input.
type SentenceEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
