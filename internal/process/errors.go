package process

import "errors"

// Errors returned by Runner.Run. Use errors.Is() to check for these.
var (
	// ErrStart is returned when the binary cannot be started.
	ErrStart = errors.New("process: start failed")

	// ErrExitStatus is returned when the program exits with a non-zero code.
	ErrExitStatus = errors.New("process: non-zero exit status")

	// ErrCancelled is returned when the context ends before the program exits.
	ErrCancelled = errors.New("process: cancelled")

	// ErrOutputTooLarge is returned when stdout exceeds Config.MaxOutput.
	ErrOutputTooLarge = errors.New("process: output exceeds limit")
)
