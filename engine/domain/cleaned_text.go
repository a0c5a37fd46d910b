package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CleanedText holds a document's cleaned body. Older cleaner versions emitted
// a section→content object instead of a single narrative string, so both wire
// shapes must decode.
type CleanedText struct {
	Text     string
	Sections map[string]string
}

// UnmarshalJSON accepts either a JSON string or a JSON object of sections.
func (c *CleanedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Sections = nil
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("domain: cleaned_text is neither string nor object: %w", err)
	}
	c.Text = ""
	c.Sections = make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			c.Sections[k] = s
		} else {
			c.Sections[k] = fmt.Sprint(v)
		}
	}
	return nil
}

// MarshalJSON preserves the shape the value was decoded from.
func (c CleanedText) MarshalJSON() ([]byte, error) {
	if c.Sections != nil {
		return json.Marshal(c.Sections)
	}
	return json.Marshal(c.Text)
}

// IsEmpty reports whether there is no text to chunk.
func (c CleanedText) IsEmpty() bool {
	return c.Text == "" && len(c.Sections) == 0
}

// Flatten renders the cleaned text as a single line: section maps become
// "section: content" pairs joined by ". " (keys sorted for determinism),
// and embedded newlines collapse to single spaces.
func (c CleanedText) Flatten() string {
	text := c.Text
	if c.Sections != nil {
		keys := make([]string, 0, len(c.Sections))
		for k := range c.Sections {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + c.Sections[k]
		}
		text = strings.Join(parts, ". ")
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(text, "\n", " ")), " ")
}
