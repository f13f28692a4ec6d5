package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Resolve picks the capability for a run: the first preferred name that is
// advertised, otherwise the lexicographically smallest advertised name.
func Resolve(preferred []string, advertised []string) (string, error) {
	available := make([]string, 0, len(advertised))
	for _, name := range advertised {
		if name = normalizeCapability(name); name != "" {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return "", ErrCapabilityUnavailable
	}

	for _, name := range preferred {
		if name = normalizeCapability(name); name != "" && slices.Contains(available, name) {
			return name, nil
		}
	}

	return slices.Min(available), nil
}

func normalizeCapability(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), geminiModelPrefix)
}

// Resolver resolves the capability once and reuses it for the rest of the run.
type Resolver struct {
	service   Service
	preferred []string
	fallback  string

	mu         sync.Mutex
	resolved   bool
	capability string
	degraded   bool
	err        error
}

func NewResolver(service Service, preferred []string, fallback string) *Resolver {
	return &Resolver{
		service:   service,
		preferred: preferred,
		fallback:  strings.TrimSpace(fallback),
	}
}

// Capability lists the service's models on first use. When the listing fails
// or is empty the configured fallback is used; without one the error is
// returned and cached.
func (r *Resolver) Capability(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return r.capability, r.err
	}

	capability, err := r.resolve(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		// A cancelled listing says nothing about the service.
		return "", err
	}

	r.resolved = true
	r.capability, r.err = capability, err
	return capability, err
}

// Degraded reports whether the fallback capability is in use.
func (r *Resolver) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Resolver) resolve(ctx context.Context) (string, error) {
	advertised, listErr := r.service.ListCapabilities(ctx)
	capability, degraded, err := Choose(r.preferred, advertised, listErr, r.fallback)
	if err != nil {
		return "", err
	}
	if degraded {
		slog.Warn("Capability listing unavailable, using fallback", "fallback", capability, "error", listErr)
		r.degraded = true
		return capability, nil
	}
	slog.Info("Enrichment capability resolved", "capability", capability, "advertised", len(advertised))
	return capability, nil
}

// Choose resolves a capability from a listing that was already fetched, with
// listErr being the listing's error. When the listing failed or offers nothing
// the trimmed fallback is returned with degraded set; an empty fallback yields
// ErrCapabilityUnavailable. Cancellation is returned as is.
func Choose(preferred, advertised []string, listErr error, fallback string) (capability string, degraded bool, err error) {
	if listErr == nil {
		capability, err := Resolve(preferred, advertised)
		if err == nil {
			return capability, false, nil
		}
		listErr = err
	}

	if errors.Is(listErr, context.Canceled) {
		return "", false, listErr
	}

	if fallback = strings.TrimSpace(fallback); fallback == "" {
		if errors.Is(listErr, ErrCapabilityUnavailable) {
			return "", false, listErr
		}
		return "", false, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, listErr)
	}
	return fallback, true, nil
}
