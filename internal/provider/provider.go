package provider

import (
	"context"
	"fmt"
)

// Provider methods.
const (
	MethodGetConfig  = "get_config"
	MethodGenRequest = "gen_request"
	MethodOnEvent    = "on_event"
)

// Provider types accepted by New.
const (
	TypeLua  = "lua"
	TypeExec = "exec"
	TypeNone = "none"
)

// Provider answers method calls from the bridge.
type Provider interface {
	Invoke(ctx context.Context, method, payload string) (string, error)
}

// Logger defines the logging interface for providers.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options selects and configures a provider.
type Options struct {
	// Type is one of TypeLua, TypeExec or TypeNone.
	Type string

	// Script is the Lua script or executable path.
	Script string

	// Logger is optional.
	Logger Logger
}

// New builds the provider described by opts.
//
// A script that is missing or broken is not an error here: it is logged
// and every call reports the problem until the script is fixed.
func New(opts Options) (Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	var p interface {
		Provider
		Check() error
	}
	switch opts.Type {
	case TypeLua:
		lp, err := NewLua(opts.Script)
		if err != nil {
			return nil, err
		}
		lp.SetLogger(logger)
		p = lp
	case TypeExec:
		ep, err := NewExec(opts.Script)
		if err != nil {
			return nil, err
		}
		ep.SetLogger(logger)
		p = ep
	case TypeNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Type)
	}

	if err := p.Check(); err != nil {
		logger.Warn("provider script not usable, retrying on every call",
			"type", opts.Type,
			"script", opts.Script,
			"error", err,
		)
	}
	return p, nil
}

// Nop is a provider that never answers.
type Nop struct{}

// Invoke always returns ErrNoResponse.
func (Nop) Invoke(context.Context, string, string) (string, error) {
	return "", ErrNoResponse
}
