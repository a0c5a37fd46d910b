package chunk

import (
	"context"
	"strings"
)

const (
	// DefaultMaxTokens is the target window size in approximate tokens.
	DefaultMaxTokens = 500
	// DefaultOverlap is the number of tokens shared between windows.
	DefaultOverlap = 50
)

// WindowChunker groups sentences into fixed-size windows with overlap.
// Token count is approximated by word count. Used as the fallback strategy
// and as a cheap test double for the semantic chunker.
type WindowChunker struct {
	MaxTokens int
	Overlap   int
}

// NewWindowChunker creates a window chunker with the default sizes.
func NewWindowChunker() *WindowChunker {
	return &WindowChunker{MaxTokens: DefaultMaxTokens, Overlap: DefaultOverlap}
}

// Chunk implements Chunker.
func (c *WindowChunker) Chunk(_ context.Context, text string) ([]string, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	overlap := c.Overlap
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start

		for end < len(sentences) {
			words := wordCount(sentences[end])
			if tokens+words > maxTokens && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			tokens += words
			end++
		}

		chunks = append(chunks, buf.String())

		// Step back far enough to share ~overlap tokens with the next window,
		// while guaranteeing forward progress.
		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += wordCount(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks, nil
}
