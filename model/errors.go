package model

import "errors"

var (
	// ErrProviderNotFound is returned for a provider id absent from the descriptor set.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrProviderUnsupported is returned when no backend implements the descriptor's api type.
	ErrProviderUnsupported = errors.New("provider api type not supported")
	// ErrConcurrencyLimitExceeded rejects a start request when the session cap is reached.
	ErrConcurrencyLimitExceeded = errors.New("maximum concurrent generations reached")
	// ErrDuplicateSession rejects a start request for a session id that is still active.
	ErrDuplicateSession = errors.New("session already generating")
	// ErrTransport wraps network and backend availability failures.
	ErrTransport = errors.New("transport error")
	// ErrProvider wraps semantic errors reported by a backend (invalid model, bad key).
	ErrProvider = errors.New("provider error")
	// ErrStorage wraps persistence read/write failures.
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned when a referenced message or conversation is absent.
	ErrNotFound = errors.New("not found")
)
