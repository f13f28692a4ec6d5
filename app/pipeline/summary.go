package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Summary is the aggregate outcome of one run.
type Summary struct {
	RunID      string
	Capability string
	Degraded   bool
	Aborted    bool
	Cancelled  bool

	SourcesScanned  int
	SourcesFailed   int
	CandidatesFound int
	Duplicates      int
	Skipped         int
	Persisted       int
	Retried         int
	Enriched        int
	Failed          int
	LeftPending     int
	Swept           int64

	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome is the label used for the run metric.
func (s Summary) Outcome() string {
	switch {
	case s.Aborted:
		return "aborted"
	case s.Cancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

func (s Summary) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "News Comb run %s %s in %s\n", shortID(s.RunID), s.Outcome(), s.Duration().Round(time.Second))
	switch {
	case s.Aborted:
		b.WriteString("Enrichment capability unavailable, processing skipped\n")
	case s.Degraded:
		fmt.Fprintf(&b, "Model: %s (fallback)\n", s.Capability)
	case s.Capability != "":
		fmt.Fprintf(&b, "Model: %s\n", s.Capability)
	}
	fmt.Fprintf(&b, "Sources: %d scanned, %d failed\n", s.SourcesScanned, s.SourcesFailed)
	fmt.Fprintf(&b, "Candidates: %d found, %d duplicates", s.CandidatesFound, s.Duplicates)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", s.Skipped)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Items: %d persisted, %d enriched, %d failed", s.Persisted, s.Enriched, s.Failed)
	if s.LeftPending > 0 {
		fmt.Fprintf(&b, ", %d pending", s.LeftPending)
	}
	if s.Retried > 0 {
		fmt.Fprintf(&b, " (%d retried from backlog)", s.Retried)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Swept: %d", s.Swept)

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
