// Package domain defines core domain types, constants, and validation for the
// macro-engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the day-precision date format used across the corpus.
const DateLayout = "2006-01-02"

// ArticleRecord is one entry in the article index: the metadata produced by a
// scraper collaborator for a single downloaded report. Field names on the wire
// match the scraper contract exactly.
type ArticleRecord struct {
	Organization string `json:"Organization"`
	Date         string `json:"Date"` // YYYY-MM-DD
	Title        string `json:"Title"`
	Link         string `json:"Link"`
	Description  string `json:"Description,omitempty"`
	FileName     string `json:"file_name"`
	CleanedText  string `json:"cleaned_text,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// DedupKey identifies a record for index deduplication.
// Two records with the same key are the same article.
type DedupKey struct {
	Title    string
	Date     string
	FileName string
}

// Key returns the record's dedup identity (Title, Date, file_name).
func (a ArticleRecord) Key() DedupKey {
	return DedupKey{Title: a.Title, Date: a.Date, FileName: a.FileName}
}

// CatalogEntry returns a copy stripped of the large optional fields. The index
// is a catalog; cleaned text and summaries live in the document store.
func (a ArticleRecord) CatalogEntry() ArticleRecord {
	a.CleanedText = ""
	a.Summary = ""
	return a
}

// FileNameFor builds the deterministic PDF file name for an article.
func FileNameFor(date, organization, title string) string {
	return fmt.Sprintf("%s_%s_%s.pdf", date, organization, title)
}

// StructuredDocument is the full per-article record persisted in the document
// store: index metadata plus the LLM-cleaned text. CleanedText may arrive as a
// plain string or as a section→content map, depending on the cleaner output.
type StructuredDocument struct {
	Organization string      `json:"Organization"`
	Date         string      `json:"Date"`
	Title        string      `json:"Title"`
	Link         string      `json:"Link"`
	FileName     string      `json:"file_name"`
	CleanedText  CleanedText `json:"cleaned_text"`
	Summary      string      `json:"summary,omitempty"`
}

// CleanedArticle is the output of the LLM content cleaner.
type CleanedArticle struct {
	Summary     string `json:"summary"`
	CleanedText string `json:"context"`
}

// Chunk is one semantically coherent slice of a document's cleaned text,
// carrying denormalized metadata for retrieval.
type Chunk struct {
	ID           string
	SourceID     string
	Text         string
	Organization string
	Date         string
	Timestamp    int64 // epoch seconds derived from Date
	Title        string
	Link         string
	Summary      string
}

// ChunkID builds the deterministic id of the i-th chunk of a document.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, i)
}

// DocumentID derives the stable document id used as chunk source_id:
// the date with separators removed, then the title with spaces removed and
// non-ASCII bytes stripped.
func DocumentID(date, title string) string {
	d := strings.ReplaceAll(date, "-", "")
	var b strings.Builder
	for _, r := range title {
		if r == ' ' || r > 127 {
			continue
		}
		b.WriteRune(r)
	}
	return d + "_" + b.String()
}

// EpochSeconds converts a YYYY-MM-DD date to UTC midnight epoch seconds.
// Returns 0 for unparseable dates.
func EpochSeconds(date string) int64 {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0
	}
	return t.Unix()
}
