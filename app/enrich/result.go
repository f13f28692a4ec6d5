package enrich

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	LabelPositive = "Positive"
	LabelNeutral  = "Neutral"
	LabelNegative = "Negative"

	CategoryOther = "Other"

	// Scores beyond these bounds derive a non-neutral label.
	positiveThreshold = 0.2
	negativeThreshold = -0.2
)

// Categories is the closed set of item categories.
var Categories = []string{
	"Technology", "Business", "Science", "Politics", "World",
	"Health", "Entertainment", "Sports", CategoryOther,
}

type VocabularyEntry struct {
	Word       string `json:"word"`
	Definition string `json:"def"`
	Example    string `json:"ex"`
}

// Result is a validated analysis.
type Result struct {
	SummaryShort    string
	SummaryDetailed string
	SentimentScore  float64
	SentimentLabel  string
	Tags            []string
	Category        string
	Vocabulary      []VocabularyEntry
}

type rawResult struct {
	SummaryShort    string          `json:"summary_short" validate:"required"`
	SummaryDetailed flexibleText    `json:"summary_detailed"`
	SentimentScore  *float64        `json:"sentiment_score" validate:"required,gte=-1,lte=1"`
	SentimentLabel  string          `json:"sentiment_label"`
	Tags            flexibleList    `json:"tags"`
	Category        string          `json:"category"`
	Vocabulary      json.RawMessage `json:"vocabulary"`
}

var (
	codeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	validate       = validator.New()
)

// ParseResult validates raw service output against the analysis schema.
// All failures wrap ErrEnrichmentMalformed.
func ParseResult(output string) (*Result, error) {
	payload := extractJSON(output)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty response", ErrEnrichmentMalformed)
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrichmentMalformed, err)
	}

	raw.SummaryShort = strings.TrimSpace(raw.SummaryShort)
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnrichmentMalformed, describeValidation(err))
	}

	score := *raw.SentimentScore
	return &Result{
		SummaryShort:    raw.SummaryShort,
		SummaryDetailed: strings.TrimSpace(string(raw.SummaryDetailed)),
		SentimentScore:  score,
		SentimentLabel:  NormalizeLabel(raw.SentimentLabel, score),
		Tags:            dedupe(raw.Tags),
		Category:        NormalizeCategory(raw.Category),
		Vocabulary:      parseVocabulary(raw.Vocabulary),
	}, nil
}

// extractJSON strips markdown code fences and surrounding prose.
func extractJSON(output string) string {
	output = strings.TrimSpace(output)
	if matches := codeBlockRegex.FindStringSubmatch(output); len(matches) > 1 {
		output = strings.TrimSpace(matches[1])
	}

	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		output = output[start : end+1]
	}
	return output
}

// NormalizeCategory maps a free-form category onto the closed set.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	for _, c := range Categories {
		if strings.EqualFold(c, category) {
			return c
		}
	}
	return CategoryOther
}

// NormalizeLabel returns the canonical label, deriving it from score when the
// given label is missing or unknown.
func NormalizeLabel(label string, score float64) string {
	for _, l := range []string{LabelPositive, LabelNeutral, LabelNegative} {
		if strings.EqualFold(l, strings.TrimSpace(label)) {
			return l
		}
	}
	return LabelFromScore(score)
}

func LabelFromScore(score float64) string {
	switch {
	case score > positiveThreshold:
		return LabelPositive
	case score < negativeThreshold:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}

// parseVocabulary is lenient: the field is optional, so anything that does not
// decode as a list of entries is dropped.
func parseVocabulary(raw json.RawMessage) []VocabularyEntry {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var entries []VocabularyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	result := make([]VocabularyEntry, 0, len(entries))
	for _, e := range entries {
		e.Word = strings.TrimSpace(e.Word)
		if e.Word == "" {
			continue
		}
		e.Definition = strings.TrimSpace(e.Definition)
		e.Example = strings.TrimSpace(e.Example)
		result = append(result, e)
	}
	return result
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
		case "gte", "lte":
			messages = append(messages, fmt.Sprintf("%s out of range", e.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// flexibleText accepts a string or a list of strings (joined by newlines).
type flexibleText string

func (f *flexibleText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleText(s)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("summary_detailed must be a string or a list of strings")
	}
	lines := make([]string, 0, len(list))
	for _, line := range list {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	*f = flexibleText(strings.Join(lines, "\n"))
	return nil
}

// flexibleList accepts a list of scalars or a comma separated string.
type flexibleList []string

func (f *flexibleList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = strings.Split(s, ",")
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("tags must be a list or a comma separated string")
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			values = append(values, v)
		case float64:
			values = append(values, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			values = append(values, strconv.FormatBool(v))
		}
	}
	*f = values
	return nil
}
