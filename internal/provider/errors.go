package provider

import "errors"

// Domain-specific errors for provider operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoResponse means the provider returned nothing for the method.
	ErrNoResponse = errors.New("provider: no response")

	// ErrScriptUnreadable is returned when no script is configured, or when
	// the script or binary cannot be read at call time.
	ErrScriptUnreadable = errors.New("provider: script unreadable")

	// ErrScript is returned when the script fails to load or run.
	ErrScript = errors.New("provider: script error")

	// ErrTimeout is returned when a call outlives its context.
	ErrTimeout = errors.New("provider: call timed out")

	// ErrUnknownType is returned by New for an unsupported provider type.
	ErrUnknownType = errors.New("provider: unknown type")
)
