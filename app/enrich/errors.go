package enrich

import "errors"

var (
	// ErrCapabilityUnavailable means no model could be selected for the run.
	ErrCapabilityUnavailable = errors.New("enrichment capability unavailable")
	// ErrEnrichmentMalformed means the service answered with something that is
	// not a valid analysis.
	ErrEnrichmentMalformed = errors.New("enrichment response malformed")
	// ErrServiceUnavailable is returned while the circuit breaker is open.
	ErrServiceUnavailable = errors.New("enrichment service unavailable")
)
