// Package scraper defines the contract between the per-site scraper
// collaborators and the engine core. The scrapers themselves (headless
// browsers, cookie handling, PDF printing) live outside this repository;
// they publish ScrapedArticle messages to the article subject and the
// collector takes it from there.
package scraper

import (
	"context"

	"github.com/MarketSenseAI/macro-engine/engine/domain"
)

const (
	// ArticleSubject is the NATS subject scrapers publish to.
	ArticleSubject = "macro.articles"
	// DLQSubject is the dead letter queue for articles that repeatedly fail
	// collection.
	DLQSubject = "macro.articles.dlq"
	// LatestDatesSubject is where the collector answers requests for the most
	// recent indexed date per organization, so scrapers can pick their
	// incremental starting point.
	LatestDatesSubject = "macro.articles.latest"
)

// ScrapedArticle is one downloaded report with its extracted text, before
// cleaning. Record must carry Organization, Date, Title, Link and file_name.
type ScrapedArticle struct {
	Record  domain.ArticleRecord `json:"record"`
	RawText string               `json:"raw_text"`
	PDF     []byte               `json:"pdf,omitempty"`
}

// Source is the interface a scraper implementation satisfies when run
// in-process rather than over the bus.
type Source interface {
	// Name identifies the organization this source scrapes.
	Name() string
	// Fetch returns articles published after the given date.
	Fetch(ctx context.Context, since string) ([]ScrapedArticle, error)
}
