package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Lua runs a handler script in a fresh interpreter per call.
//
// The script must evaluate to a table with a call function:
//
//	local M = {}
//	function M.call(method, data)
//	    if method == "get_config" then return '{"code":0,"data":{...}}' end
//	end
//	return M
//
// A nil return means no response. Numbers are converted to strings.
type Lua struct {
	script string
	logger Logger
}

// NewLua returns a provider for script. The file is not opened here: it is
// read on every call, so a script installed after startup is picked up.
func NewLua(script string) (*Lua, error) {
	if script == "" {
		return nil, fmt.Errorf("%w: no script configured", ErrScriptUnreadable)
	}
	return &Lua{script: script, logger: noopLogger{}}, nil
}

// Check reports whether the script can currently be read and compiled.
func (p *Lua) Check() error {
	_, err := compileScript(p.script)
	return err
}

// SetLogger sets the logger for script diagnostics.
func (p *Lua) SetLogger(logger Logger) {
	p.logger = logger
}

// Invoke loads the script and calls call(method, payload).
func (p *Lua) Invoke(ctx context.Context, method, payload string) (string, error) {
	proto, err := compileScript(p.script)
	if err != nil {
		return "", err
	}

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	p.extendPackagePath(L)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return "", p.callError(ctx, "load", err)
	}
	module := L.Get(-1)
	L.Pop(1)

	tbl, ok := module.(*lua.LTable)
	if !ok {
		return "", fmt.Errorf("%w: %s returned %s, want table", ErrScript, p.script, module.Type())
	}
	fn := tbl.RawGetString("call")
	if fn.Type() != lua.LTFunction {
		return "", fmt.Errorf("%w: %s has no call function", ErrScript, p.script)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(method), lua.LString(payload)); err != nil {
		return "", p.callError(ctx, method, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	switch ret.Type() {
	case lua.LTNil:
		return "", ErrNoResponse
	case lua.LTString, lua.LTNumber:
		return lua.LVAsString(ret), nil
	default:
		p.logger.Warn("lua handler returned unsupported type",
			"method", method,
			"type", ret.Type().String(),
		)
		return "", ErrNoResponse
	}
}

// extendPackagePath lets the script require modules stored next to it.
func (p *Lua) extendPackagePath(L *lua.LState) {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	dir := filepath.Dir(p.script)
	current := lua.LVAsString(L.GetField(pkg, "path"))
	L.SetField(pkg, "path", lua.LString(filepath.Join(dir, "?.lua")+";"+current))
}

func (p *Lua) callError(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, stage, ctxErr)
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %s", ErrScript, stage, apiErr.Object.String())
	}
	return fmt.Errorf("%w: %s: %w", ErrScript, stage, err)
}

// compileScript reads and compiles the script.
func compileScript(path string) (*lua.FunctionProto, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScriptUnreadable, err)
	}
	defer f.Close()

	chunk, err := parse.Parse(f, path)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrScript, path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %w", ErrScript, path, err)
	}
	return proto, nil
}
