package feed

import (
	"slices"
	"strings"
)

// dropReason says why a feed entry did not become a candidate.
type dropReason string

const (
	dropUntitled    dropReason = "untitled"
	dropBadLink     dropReason = "bad_link"
	dropExcluded    dropReason = "excluded"
	dropNotIncluded dropReason = "not_included"
	dropOverLimit   dropReason = "over_limit"
)

type sourceRule struct {
	field    string
	includes []string
	excludes []string
}

// sourceRules are a source's filters with every pattern lowercased once.
type sourceRules []sourceRule

func newSourceRules(filters []ConfigFilter) sourceRules {
	rules := make(sourceRules, 0, len(filters))
	for _, filter := range filters {
		rules = append(rules, sourceRule{
			field:    filter.Field,
			includes: lowerAll(filter.Includes),
			excludes: lowerAll(filter.Excludes),
		})
	}
	return rules
}

// check returns the reason the candidate is rejected and the rule that did it.
// Matching is a case-insensitive substring test. Excludes win over includes,
// and a rule with includes requires at least one of them.
func (rules sourceRules) check(c Candidate) (dropReason, string) {
	for _, rule := range rules {
		value := strings.ToLower(c.field(rule.field))

		for _, pattern := range rule.excludes {
			if strings.Contains(value, pattern) {
				return dropExcluded, rule.field + " contains " + pattern
			}
		}

		if len(rule.includes) > 0 && !slices.ContainsFunc(rule.includes, func(pattern string) bool {
			return strings.Contains(value, pattern)
		}) {
			return dropNotIncluded, rule.field + " matches none of " + strings.Join(rule.includes, ", ")
		}
	}
	return "", ""
}

func lowerAll(patterns []string) []string {
	lowered := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern = strings.ToLower(strings.TrimSpace(pattern)); pattern != "" {
			lowered = append(lowered, pattern)
		}
	}
	return lowered
}
