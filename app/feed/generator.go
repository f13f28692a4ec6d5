package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
)

const digestTitle = "News Comb"

// Generator renders enriched items as an RSS 2.0 digest.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Run(items []database.ItemWithAnalysis) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	baseURL := cfg.Get().BaseUrl
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", cfg.Get().Port)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	g.writeElement(&buf, "title", digestTitle, 4)
	g.writeElement(&buf, "link", baseURL, 4)
	g.writeElement(&buf, "description", "Summarized and categorized news items", 4)
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(baseURL+"/feed.xml")))

	lastBuildDate := time.Now().In(time.Local)
	if len(items) > 0 {
		lastBuildDate = items[0].CreatedAt
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("News-Comb/%s", cfg.Get().Version), 4)

	for _, item := range items {
		if item.Analysis == nil {
			continue
		}
		g.writeItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, item database.ItemWithAnalysis) {
	analysis := item.Analysis

	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(item.ID))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", item.Title, 6)
	g.writeElement(buf, "link", item.OriginalURL, 6)
	g.writeElement(buf, "description", cmp.Or(analysis.SummaryShort, "No summary available"), 6)

	if detailed := g.detailedContent(item); detailed != "" {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(detailed)
		buf.WriteString("]]></content:encoded>\n")
	}

	published := item.CreatedAt
	if item.PublishedAt != nil {
		published = *item.PublishedAt
	}
	g.writeElement(buf, "pubDate", published.Format(time.RFC1123Z), 6)

	if item.SourceName != "" {
		g.writeElement(buf, "author", item.SourceName, 6)
	}

	g.writeElement(buf, "category", analysis.Category, 6)
	for _, tag := range analysis.Tags {
		if tag != "" {
			g.writeElement(buf, "category", tag, 6)
		}
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) detailedContent(item database.ItemWithAnalysis) string {
	analysis := item.Analysis
	if analysis.SummaryDetailed == "" && len(analysis.Vocabulary) == 0 {
		return ""
	}

	var b strings.Builder
	if analysis.SummaryDetailed != "" {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(analysis.SummaryDetailed))
		b.WriteString("</p>")
	}
	fmt.Fprintf(&b, "<p>Sentiment: %s (%.2f)</p>", html.EscapeString(analysis.SentimentLabel), analysis.SentimentScore)

	if len(analysis.Vocabulary) > 0 {
		b.WriteString("<dl>")
		for _, entry := range analysis.Vocabulary {
			b.WriteString("<dt>")
			b.WriteString(html.EscapeString(entry.Word))
			b.WriteString("</dt><dd>")
			b.WriteString(html.EscapeString(entry.Definition))
			if entry.Example != "" {
				b.WriteString(" <em>")
				b.WriteString(html.EscapeString(entry.Example))
				b.WriteString("</em>")
			}
			b.WriteString("</dd>")
		}
		b.WriteString("</dl>")
	}

	// CDATA cannot contain its own terminator.
	return strings.ReplaceAll(b.String(), "]]>", "]]&gt;")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
