package models

import (
	"fmt"
	"time"
)

// NetworkError wraps a transport-level failure talking to a provider.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError reports a provider throttling response. RetryAfter may be
// zero when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// DataGapError reports a series whose coverage could not be repaired up to
// the present. Callers may still use the accompanying stale series.
type DataGapError struct {
	Symbol      string
	Interval    string
	LastCovered time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("series %s/%s has an unrepaired gap since %s",
		e.Symbol, e.Interval, e.LastCovered.Format(time.RFC3339))
}

// ProviderRefusalError reports a provider that answered but declined to
// produce a usable result.
type ProviderRefusalError struct {
	Provider string
	Reason   string
}

func (e *ProviderRefusalError) Error() string {
	return fmt.Sprintf("%s refused request: %s", e.Provider, e.Reason)
}

// ValidationError reports malformed input caught at a module boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExecutionError reports an order that could not be placed or settled after
// the allowed attempts.
type ExecutionError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s after %d attempt(s): %v", e.Symbol, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
