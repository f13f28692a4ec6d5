package enrich

import (
	"fmt"
	"strings"
)

const analysisPromptTemplate = `You are a professional news editor. Analyze the news item below and return strict JSON only, without markdown.

News item:
%s

Return exactly this JSON structure:
{
  "summary_short": "one sentence summary, at most 30 words",
  "summary_detailed": ["key point 1", "key point 2", "key point 3"],
  "sentiment_score": 0.0,
  "sentiment_label": "Positive | Neutral | Negative",
  "tags": ["tag1", "tag2"],
  "category": "one of: %s",
  "vocabulary": [{"word": "notable word", "def": "short definition", "ex": "example sentence"}]
}

sentiment_score must be a number between -1.0 and 1.0.`

// BuildPrompt renders the analysis prompt for the given item text.
func BuildPrompt(text string) string {
	return fmt.Sprintf(analysisPromptTemplate, text, strings.Join(Categories, ", "))
}
