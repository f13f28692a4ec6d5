package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText flattens an HTML fragment from a feed entry into whitespace
// normalized text.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc.Find("script, style, noscript").Remove()

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Truncate cuts text to at most limit runes.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
