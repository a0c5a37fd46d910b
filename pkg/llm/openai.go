// Package llm provides the OpenAI-backed implementations of the engine's
// injected language-model capabilities: batch text embeddings and the
// article content cleaner.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbeddingModel produces 1536-dimension vectors.
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultChatModel is used for article cleaning.
	DefaultChatModel = openai.GPT4o
)

// Client wraps the OpenAI API with rate limiting.
type Client struct {
	api            *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	limiter        *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(m openai.EmbeddingModel) Option {
	return func(c *Client) { c.embeddingModel = m }
}

// WithChatModel overrides the chat model used for cleaning.
func WithChatModel(m string) Option {
	return func(c *Client) { c.chatModel = m }
}

// WithRateLimit caps API calls at rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a Client from an API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	c := &Client{
		api:            openai.NewClient(apiKey),
		embeddingModel: DefaultEmbeddingModel,
		chatModel:      DefaultChatModel,
		limiter:        rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EmbedBatch maps texts to vectors in one API call, order-preserving.
// On failure no vectors are returned, never a partial list.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("llm: got %d embeddings for %d texts: %w",
			len(resp.Data), len(texts), domain.ErrNoEmbeddings)
	}

	// The API does not guarantee response order; Index does.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

const cleanPrompt = "Extract the core content of the following document, removing all disclaimers, " +
	"copyrights, and other non-essential information. Focus on the main analysis, insights, and " +
	"conclusions. Provide your response as a JSON with two keys: 'summary' (a concise summary of up " +
	"to 50 words) and 'context' (the cleaned text presented as a plain narrative without nested dictionaries)."

const (
	// cleanChunkTokens bounds one cleaning request; long reports are split.
	cleanChunkTokens = 100000
	// cleanOverlapTokens is shared between adjacent cleaning windows.
	cleanOverlapTokens = 200
)

// Clean strips disclaimers and boilerplate from raw article text and
// produces a short summary. Long documents are cleaned window by window and
// the pieces joined.
func (c *Client) Clean(ctx context.Context, text string) (domain.CleanedArticle, error) {
	var out domain.CleanedArticle
	if strings.TrimSpace(text) == "" {
		return out, fmt.Errorf("llm: clean: empty text")
	}

	for _, window := range tokenWindows(text, cleanChunkTokens, cleanOverlapTokens) {
		part, err := c.cleanWindow(ctx, window)
		if err != nil {
			return domain.CleanedArticle{}, err
		}
		if out.CleanedText != "" {
			out.CleanedText += " "
		}
		out.CleanedText += part.CleanedText
		if out.Summary == "" {
			out.Summary = part.Summary
		}
	}
	return out, nil
}

func (c *Client) cleanWindow(ctx context.Context, text string) (domain.CleanedArticle, error) {
	var out domain.CleanedArticle
	if err := c.limiter.Wait(ctx); err != nil {
		return out, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: 0,
		MaxTokens:   4000,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cleanPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return out, fmt.Errorf("llm: clean completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return out, fmt.Errorf("llm: clean completion returned no choices")
	}
	return ParseCleanedArticle(resp.Choices[0].Message.Content)
}

// Complete sends one chat completion with a system and a user message and
// returns the assistant reply.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseCleanedArticle decodes the cleaner's JSON reply, tolerating a
// markdown code fence around it.
func ParseCleanedArticle(reply string) (domain.CleanedArticle, error) {
	var out domain.CleanedArticle
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil {
		return out, fmt.Errorf("llm: parse cleaned article: %w", err)
	}
	return out, nil
}

// tokenWindows splits text into windows of roughly maxTokens words with
// overlap words shared between neighbours. Token count is approximated by
// word count.
func tokenWindows(text string, maxTokens, overlap int) []string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return []string{strings.Join(words, " ")}
	}
	step := maxTokens - overlap
	if step <= 0 {
		step = maxTokens
	}
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
