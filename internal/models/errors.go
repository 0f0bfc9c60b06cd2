package models

import "errors"

// Error taxonomy for the orchestration core. Only ErrBudgetExceeded,
// ErrNoProviderAvailable and ErrRetriesExhausted surface as request
// failures; the rest drive state transitions inside the orchestrator.
var (
	// ErrCacheUnavailable means the cache backend failed; callers treat it
	// as a miss and stop writing to the cache for the rest of the request.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrBudgetExceeded means the tenant's daily ceiling would be exceeded.
	// Fatal to the request, nothing is charged.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrNoProviderAvailable means every capable provider is unhealthy or
	// already excluded for this request.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrRetriesExhausted means the per-request attempt budget ran out
	// before any provider succeeded.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrEntryNotFound is the cache store's miss value for exact lookups.
	ErrEntryNotFound = errors.New("cache entry not found")
)
