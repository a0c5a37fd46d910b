// Package rag answers questions over the archived commentary corpus.
// It embeds the question, retrieves the most similar chunks from the vector
// index, builds a prompt from their payloads, and asks the chat model for an
// answer grounded in those sources.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MarketSenseAI/macro-engine/engine/semantic"
	"go.opentelemetry.io/otel"
)

// Embedder produces one embedding per input text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher abstracts vector similarity search over the chunk index.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]semantic.SearchResult, error)
}

// Completer produces a chat completion from a system and user message.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error)
}

// Options configures the question-answering pipeline.
type Options struct {
	TopK          int
	Temperature   float32
	MaxTokens     int
	SystemPrompt  string
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		Temperature:   0.3,
		MaxTokens:     1024,
		SystemPrompt:  defaultSystemPrompt,
		SearchTimeout: 5 * time.Second,
	}
}

const defaultSystemPrompt = `You are a macroeconomic research assistant.
Answer the user's question using ONLY the provided excerpts from published
market commentary. If the excerpts do not contain enough information, say so.
Cite sources using [chunk_id].`

// Service is the question-answering service.
type Service struct {
	embed  Embedder
	search Searcher
	chat   Completer
	opts   Options
	log    *slog.Logger
}

// New creates a Service.
func New(embed Embedder, search Searcher, chat Completer, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{embed: embed, search: search, chat: chat, opts: opts, log: log}
}

// Answer is the structured response to a question.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Source is one retrieved chunk backing the answer.
type Source struct {
	ChunkID      string  `json:"chunk_id"`
	Organization string  `json:"organization"`
	Date         string  `json:"date"`
	Title        string  `json:"title"`
	Link         string  `json:"link,omitempty"`
	Text         string  `json:"text"`
	Score        float32 `json:"score"`
}

// Query runs the full pipeline for one question. Filters restrict retrieval
// by payload fields, e.g. {"Organization": "BlackRock"}.
func (s *Service) Query(ctx context.Context, question string, filters map[string]string) (*Answer, error) {
	ctx, span := otel.Tracer("rag").Start(ctx, "rag.Query")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("rag: empty question")
	}
	s.log.Info("rag: query start", "question_len", len(question), "filters", filters)

	embeddings, err := s.embed.EmbedBatch(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embed question: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: expected 1 embedding, got %d", len(embeddings))
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.search.Search(searchCtx, embeddings[0], s.opts.TopK, filters)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	s.log.Info("rag: search done", "results", len(results))

	if len(results) == 0 {
		return &Answer{Text: "No relevant commentary found for this question."}, nil
	}

	prompt := buildPrompt(question, results)
	reply, err := s.chat.Complete(ctx, s.opts.SystemPrompt, prompt, s.opts.Temperature, s.opts.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("rag: completion: %w", err)
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			ChunkID:      r.ChunkID,
			Organization: r.Organization,
			Date:         r.Date,
			Title:        r.Title,
			Link:         r.Link,
			Text:         r.Text,
			Score:        r.Score,
		}
	}
	return &Answer{Text: reply, Sources: sources}, nil
}

// buildPrompt formats retrieved chunks and the question into the user message.
func buildPrompt(question string, results []semantic.SearchResult) string {
	var b strings.Builder
	b.WriteString("Excerpts:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s, %s (%s)\n%s\n\n", r.ChunkID, r.Organization, r.Date, r.Title, r.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
