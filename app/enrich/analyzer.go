package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lysyi3m/news-comb/app/feed"
)

const (
	DefaultMaxInputChars = 2000
	defaultCallTimeout   = 60 * time.Second
	defaultTripAfter     = 3
	defaultBreakerReset  = 60 * time.Second
)

// Analyzer turns item text into a validated Result. Calls are throttled and
// guarded by a circuit breaker shared for the whole run.
type Analyzer struct {
	service       Service
	throttle      *Throttle
	breaker       *gobreaker.CircuitBreaker
	maxInputChars int
	callTimeout   time.Duration
}

type AnalyzerOption func(*analyzerOptions)

type analyzerOptions struct {
	maxInputChars int
	callTimeout   time.Duration
	tripAfter     uint32
	breakerReset  time.Duration
}

// WithMaxInputChars sets how many runes of item text are sent
func WithMaxInputChars(n int) AnalyzerOption {
	return func(o *analyzerOptions) {
		if n > 0 {
			o.maxInputChars = n
		}
	}
}

// WithCallTimeout bounds a single Generate call
func WithCallTimeout(timeout time.Duration) AnalyzerOption {
	return func(o *analyzerOptions) {
		if timeout > 0 {
			o.callTimeout = timeout
		}
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open
func WithBreaker(tripAfter uint32, reset time.Duration) AnalyzerOption {
	return func(o *analyzerOptions) {
		if tripAfter > 0 {
			o.tripAfter = tripAfter
		}
		if reset > 0 {
			o.breakerReset = reset
		}
	}
}

func NewAnalyzer(service Service, minDelay time.Duration, opts ...AnalyzerOption) *Analyzer {
	o := analyzerOptions{
		maxInputChars: DefaultMaxInputChars,
		callTimeout:   defaultCallTimeout,
		tripAfter:     defaultTripAfter,
		breakerReset:  defaultBreakerReset,
	}
	for _, opt := range opts {
		opt(&o)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "enrichment",
		MaxRequests: 1,
		Timeout:     o.breakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.tripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Malformed output and cancellation say nothing about service health.
			return err == nil ||
				errors.Is(err, ErrEnrichmentMalformed) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &Analyzer{
		service:       service,
		throttle:      NewThrottle(minDelay),
		breaker:       breaker,
		maxInputChars: o.maxInputChars,
		callTimeout:   o.callTimeout,
	}
}

// Analyze sends text to the service using capability and validates the answer.
// Errors wrap ErrEnrichmentMalformed, ErrServiceUnavailable or the transport error.
func (a *Analyzer) Analyze(ctx context.Context, text, capability string) (*Result, error) {
	text = feed.Truncate(strings.TrimSpace(text), a.maxInputChars)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input text", ErrEnrichmentMalformed)
	}

	output, err := a.generate(ctx, capability, BuildPrompt(text))
	if err != nil {
		return nil, err
	}

	result, err := ParseResult(output)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Analyzer) generate(ctx context.Context, capability, prompt string) (string, error) {
	out, err := a.breaker.Execute(func() (any, error) {
		var output string
		err := a.throttle.Do(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
			defer cancel()

			var err error
			output, err = a.service.Generate(callCtx, capability, prompt)
			return err
		})
		return output, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err != nil {
		return "", fmt.Errorf("enrichment call failed: %w", err)
	}

	output, _ := out.(string)
	return output, nil
}

// BreakerOpen reports whether calls are currently being rejected.
func (a *Analyzer) BreakerOpen() bool {
	return a.breaker.State() == gobreaker.StateOpen
}
