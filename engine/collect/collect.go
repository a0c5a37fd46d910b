// Package collect turns scraped articles into archived, indexed documents.
// It consumes ScrapedArticle messages from the bus, cleans their text through
// the injected LLM capability, persists the PDF and structured record, and
// appends the article to the index.
package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/engine/scraper"
	"github.com/MarketSenseAI/macro-engine/pkg/natsutil"
	"github.com/MarketSenseAI/macro-engine/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// MaxRetries before a failed article goes to the DLQ.
const MaxRetries = 3

// Cleaner is the injected content-cleaning capability.
type Cleaner interface {
	Clean(ctx context.Context, text string) (domain.CleanedArticle, error)
}

// Archive is the slice of the article archive the collector writes to.
type Archive interface {
	HasDocument(ctx context.Context, fileName string) bool
	StorePDF(ctx context.Context, date, fileName string, data []byte) error
	PutDocument(ctx context.Context, doc domain.StructuredDocument) error
	Append(ctx context.Context, records []domain.ArticleRecord) error
	LatestDates(ctx context.Context) (map[string]string, error)
}

// Collector processes scraped articles one at a time.
type Collector struct {
	archive Archive
	cleaner Cleaner
	breaker *resilience.Breaker
	log     *slog.Logger
}

// New creates a Collector. The circuit breaker guards the cleaner: when the
// LLM service is down, articles fail fast and retry via the bus instead of
// piling up on a dead endpoint.
func New(archive Archive, cleaner Cleaner, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		archive: archive,
		cleaner: cleaner,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:     log,
	}
}

// Process archives one scraped article. Returns (false, nil) when the
// article was already collected, (true, nil) on success.
func (c *Collector) Process(ctx context.Context, art scraper.ScrapedArticle) (bool, error) {
	rec := art.Record
	if err := domain.ValidateArticleRecord(rec); err != nil {
		return false, fmt.Errorf("collect: %w", err)
	}

	if c.archive.HasDocument(ctx, rec.FileName) {
		c.log.Info("collect: already collected", "file", rec.FileName)
		return false, nil
	}

	var cleaned domain.CleanedArticle
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var cleanErr error
		cleaned, cleanErr = c.cleaner.Clean(ctx, art.RawText)
		return cleanErr
	})
	if err != nil {
		return false, fmt.Errorf("collect: clean %s: %w", rec.FileName, err)
	}

	if len(art.PDF) > 0 {
		if err := c.archive.StorePDF(ctx, rec.Date, rec.FileName, art.PDF); err != nil {
			return false, err
		}
	}

	doc := domain.StructuredDocument{
		Organization: rec.Organization,
		Date:         rec.Date,
		Title:        rec.Title,
		Link:         rec.Link,
		FileName:     rec.FileName,
		CleanedText:  domain.CleanedText{Text: cleaned.CleanedText},
		Summary:      cleaned.Summary,
	}
	if err := c.archive.PutDocument(ctx, doc); err != nil {
		return false, err
	}

	if err := c.archive.Append(ctx, []domain.ArticleRecord{rec}); err != nil {
		return false, err
	}

	c.log.Info("collect: article archived", "file", rec.FileName, "organization", rec.Organization)
	return true, nil
}

// dlqMessage is published when an article exhausts its retries.
type dlqMessage struct {
	Article scraper.ScrapedArticle `json:"article"`
	Error   string                 `json:"error"`
	Retries int                    `json:"retries"`
}

// StartConsumer subscribes the collector to the article subject with retry
// and DLQ handling.
func StartConsumer(nc *nats.Conn, c *Collector) (*nats.Subscription, error) {
	return nc.Subscribe(scraper.ArticleSubject, func(msg *nats.Msg) {
		var art scraper.ScrapedArticle
		if err := json.Unmarshal(msg.Data, &art); err != nil {
			c.log.Error("collect: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		if _, err := c.Process(ctx, art); err != nil {
			retries++
			c.log.Error("collect: article failed",
				"file", art.Record.FileName, "error", err, "retry", retries)

			if retries >= MaxRetries {
				dlq := dlqMessage{Article: art, Error: err.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, scraper.DLQSubject, dlq); err != nil {
					c.log.Error("collect: DLQ publish failed", "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(scraper.ArticleSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				c.log.Error("collect: retry publish failed", "error", err)
			}
		}
	})
}

// ServeLatestDates answers bus requests with the most recent indexed date
// per organization, so scrapers can pick their incremental starting point.
func ServeLatestDates(nc *nats.Conn, c *Collector) (*nats.Subscription, error) {
	return nc.Subscribe(scraper.LatestDatesSubject, func(msg *nats.Msg) {
		latest, err := c.archive.LatestDates(context.Background())
		if err != nil {
			c.log.Error("collect: latest dates", "error", err)
			return
		}
		data, _ := json.Marshal(latest)
		if err := msg.Respond(data); err != nil {
			c.log.Error("collect: latest dates respond", "error", err)
		}
	})
}
