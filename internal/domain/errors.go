package domain

import "errors"

// Sentinel errors for the conversation core. Tool-level failures never use
// these; they are absorbed at the adapter boundary and converted to a
// tools.Result before reaching the planning graph.
var (
	// ErrUnauthorized is returned when a purge is attempted with a token
	// that does not match the configured admin token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidSlot marks slot values the graph refuses to plan with,
	// e.g. a day count above the configured maximum. Surfaced to the user
	// as a clarification, not as a hard error.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrStorageFailure indicates the preference store is unreachable.
	ErrStorageFailure = errors.New("storage failure")

	// ErrSessionNotFound is returned by snapshot lookups for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)
