package cloudlink

import "errors"

// Domain errors for the bridge.
var (
	// ErrInvalidOptions is returned by New when required options are missing.
	ErrInvalidOptions = errors.New("cloudlink: invalid options")

	// ErrClientID is returned when the client identifier cannot be generated.
	ErrClientID = errors.New("cloudlink: client id generation failed")

	// ErrInvalidCloudConfig is returned when a get_config response is
	// rejected. The previous configuration stays in effect.
	ErrInvalidCloudConfig = errors.New("cloudlink: invalid cloud config")

	// ErrAlreadyStarted is returned by Run on a bridge that has already run.
	ErrAlreadyStarted = errors.New("cloudlink: bridge already started")
)
