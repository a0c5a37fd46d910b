package chunk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// DefaultBufferSize is how many neighbouring sentences are joined on each
	// side before embedding, smoothing out single-sentence noise.
	DefaultBufferSize = 1
	// DefaultPercentile is the gradient percentile above which a boundary is
	// treated as a topic shift.
	DefaultPercentile = 95.0
)

// SemanticChunker splits text at sentence boundaries where the gradient of
// the embedding distance between consecutive sentence windows signals a topic
// shift. Chunk size is not fixed; the goal is topical coherence.
type SemanticChunker struct {
	embedder   SentenceEmbedder
	bufferSize int
	percentile float64
}

// NewSemanticChunker creates a gradient-breakpoint chunker with defaults.
func NewSemanticChunker(embedder SentenceEmbedder) *SemanticChunker {
	return &SemanticChunker{
		embedder:   embedder,
		bufferSize: DefaultBufferSize,
		percentile: DefaultPercentile,
	}
}

// WithPercentile overrides the breakpoint percentile. Values outside (0,100]
// are ignored.
func (c *SemanticChunker) WithPercentile(p float64) *SemanticChunker {
	if p > 0 && p <= 100 {
		c.percentile = p
	}
	return c
}

// Chunk implements Chunker.
func (c *SemanticChunker) Chunk(ctx context.Context, text string) ([]string, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	// Too short for any boundary statistics.
	if len(sentences) <= 2 {
		return []string{strings.Join(sentences, " ")}, nil
	}

	windows := bufferedWindows(sentences, c.bufferSize)
	embeddings, err := c.embedder.EmbedBatch(ctx, windows)
	if err != nil {
		return nil, fmt.Errorf("chunk: embed sentences: %w", err)
	}
	if len(embeddings) != len(windows) {
		return nil, fmt.Errorf("chunk: embedder returned %d vectors for %d windows", len(embeddings), len(windows))
	}

	// Distance between each pair of consecutive windows, then the gradient of
	// that distance series. A spike in the gradient marks a topic shift.
	distances := make([]float64, len(embeddings)-1)
	for i := range distances {
		distances[i] = 1 - cosineSimilarity(embeddings[i], embeddings[i+1])
	}
	if len(distances) < 2 {
		return []string{strings.Join(sentences, " ")}, nil
	}
	gradient := make([]float64, len(distances)-1)
	for i := range gradient {
		gradient[i] = distances[i+1] - distances[i]
	}

	threshold := percentile(gradient, c.percentile)

	var chunks []string
	start := 0
	for i, g := range gradient {
		if g > threshold {
			// gradient[i] concerns the boundary after sentence i+1.
			end := i + 2
			chunks = append(chunks, strings.Join(sentences[start:end], " "))
			start = end
		}
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}
	return chunks, nil
}

// bufferedWindows joins each sentence with up to buffer neighbours on each
// side, which is what actually gets embedded.
func bufferedWindows(sentences []string, buffer int) []string {
	if buffer <= 0 {
		return sentences
	}
	out := make([]string, len(sentences))
	for i := range sentences {
		lo := i - buffer
		if lo < 0 {
			lo = 0
		}
		hi := i + buffer + 1
		if hi > len(sentences) {
			hi = len(sentences)
		}
		out[i] = strings.Join(sentences[lo:hi], " ")
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile returns the p-th percentile of values using linear
// interpolation. values must be non-empty.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
