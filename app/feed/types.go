package feed

import (
	"cmp"
	"strings"
	"time"
)

// Feed processing types

type Metadata struct {
	Title    string
	Link     string
	Language string
}

// Candidate is a feed entry that has not been admitted as an item yet.
type Candidate struct {
	Title        string
	Link         string
	CanonicalURL string
	Description  string
	Content      string
	SourceName   string
	PublishedAt  *time.Time
	Authors      []string
	Categories   []string
}

// Text returns the plain text used as enrichment input.
func (c Candidate) Text() string {
	return cmp.Or(PlainText(c.Content), PlainText(c.Description), c.Title)
}

// field returns the candidate value a source rule matches against.
func (c Candidate) field(name string) string {
	switch name {
	case "title":
		return c.Title
	case "description":
		return c.Description
	case "content":
		return c.Content
	case "authors":
		return strings.Join(c.Authors, " ")
	case "link":
		return c.Link
	case "categories":
		return strings.Join(c.Categories, " ")
	}
	return ""
}

// Configuration types

type Config struct {
	Name       string         // Derived from filename (without .yml extension)
	URL        string         `yaml:"url"`
	SourceName string         `yaml:"source_name"`
	Settings   ConfigSettings `yaml:"settings"`
	Filters    []ConfigFilter `yaml:"filters"`
}

// DisplayName is the source name stored on items.
func (c *Config) DisplayName() string {
	return cmp.Or(c.SourceName, c.Name)
}

type ConfigSettings struct {
	Enabled  bool `yaml:"enabled"`
	MaxItems int  `yaml:"max_items"` // candidates per run
	Timeout  int  `yaml:"timeout"`   // seconds
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}
