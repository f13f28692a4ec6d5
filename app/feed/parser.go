package feed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses an RSS, Atom or JSON feed document. Candidates keep document
// order.
func (p *Parser) Run(data []byte) (*Metadata, []Candidate, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:    feed.Title,
		Link:     feed.Link,
		Language: feed.Language,
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		candidates = append(candidates, p.normalizeItem(item))
	}

	return metadata, candidates, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Candidate {
	normalized := Candidate{
		Title:       strings.TrimSpace(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Description: item.Description,
		Content:     item.Content,
	}

	if item.PublishedParsed != nil {
		normalized.PublishedAt = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		normalized.PublishedAt = item.UpdatedParsed
	}

	normalized.Authors = p.extractAuthors(item)

	if item.Categories != nil {
		normalized.Categories = item.Categories
	}

	return normalized
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				authorStr := p.formatAuthor(author.Name, author.Email)
				if authorStr != "" {
					authors = append(authors, authorStr)
				}
			}
		}
	} else if item.Author != nil {
		authorStr := p.formatAuthor(item.Author.Name, item.Author.Email)
		if authorStr != "" {
			authors = append(authors, authorStr)
		}
	}

	return authors
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}
