package domain

import (
	"fmt"
	"time"
)

// ValidateArticleRecord checks a scraper-produced record before it enters the
// index. Records failing validation are skipped with a warning, never fatal.
func ValidateArticleRecord(rec ArticleRecord) error {
	if rec.Organization == "" {
		return fmt.Errorf("validate: organization is empty")
	}
	if rec.Title == "" {
		return fmt.Errorf("validate: title is empty")
	}
	if rec.FileName == "" {
		return fmt.Errorf("validate: file_name is empty")
	}
	if _, err := time.Parse(DateLayout, rec.Date); err != nil {
		return fmt.Errorf("validate: date %q is not YYYY-MM-DD", rec.Date)
	}
	return nil
}
