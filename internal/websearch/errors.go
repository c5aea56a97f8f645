package websearch

import "errors"

// Sentinel errors for the online retrieval leg. Callers classify failures
// with errors.Is; every failure here is recoverable by degrading to
// offline-only results, never fatal to the query path.
var (
	// ErrNetwork indicates a transport-level failure: connection refused,
	// DNS, or the online timeout elapsing.
	ErrNetwork = errors.New("network error")

	// ErrRateLimited indicates the provider rejected the request with a
	// rate-limit response (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrProvider indicates the provider answered but the response was
	// unusable: auth failure, 5xx, or a malformed body.
	ErrProvider = errors.New("provider error")
)
