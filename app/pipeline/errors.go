package pipeline

import "errors"

var (
	// ErrSourceUnreachable wraps a per-source fetch or parse failure.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrPersistenceFailure wraps a store error on the write path. The item it
	// concerns is left pending.
	ErrPersistenceFailure = errors.New("persistence failure")
)
