package model

import "errors"

// Error categories shared by every component. Concrete errors wrap one of
// these so callers can branch with errors.Is.
var (
	// ErrInput marks a statement that cannot be analyzed (empty, too short).
	ErrInput = errors.New("invalid input")
	// ErrConfiguration marks invalid settings detected at startup.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrCacheIO marks an unreadable or unwritable evaluation store.
	ErrCacheIO = errors.New("cache store unavailable")
	// ErrProviderAuth marks rejected credentials. Fatal for the run.
	ErrProviderAuth = errors.New("provider authentication failed")
	// ErrProviderTransient marks timeouts, quota and server errors.
	ErrProviderTransient = errors.New("provider temporarily unavailable")
	// ErrProvidersExhausted is returned when every provider in the chain failed.
	ErrProvidersExhausted = errors.New("all providers exhausted")
)
