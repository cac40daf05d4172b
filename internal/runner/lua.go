package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// LuaRunner executes generated Lua in-process inside a restricted
// interpreter state: no os, io, debug or package libraries, no code
// loading, and a context deadline enforced by the VM. Each run gets a
// fresh state.
type LuaRunner struct {
	timeout   time.Duration
	outputCap int
	logger    *slog.Logger
}

// NewLuaRunner builds the in-process Lua strategy.
func NewLuaRunner(timeout time.Duration, logger *slog.Logger) *LuaRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LuaRunner{
		timeout:   timeout,
		outputCap: defaultOutputCap,
		logger:    logger,
	}
}

// Name identifies the strategy.
func (r *LuaRunner) Name() string { return "lua" }

// Run interprets the code with the artifact's base name as the chunk
// name so error locations reference the artifact file. Failed asserts
// and runtime errors produce the full traceback as the diagnostic.
func (r *LuaRunner) Run(ctx context.Context, artifactPath, code string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	out := NewOutputBuffer(r.outputCap)
	r.openSafeLibs(L, out)

	chunkName := filepath.Base(artifactPath)
	if chunkName == "." || chunkName == "" {
		chunkName = "generated.lua"
	}

	start := time.Now()
	fn, err := L.Load(strings.NewReader(code), chunkName)
	if err != nil {
		return Result{
			Diagnostic: err.Error(),
			ExitCode:   1,
			Duration:   time.Since(start),
		}, nil
	}

	L.Push(fn)
	err = L.PCall(0, lua.MultRet, nil)
	elapsed := time.Since(start)

	if err == nil {
		r.logger.Debug("lua run succeeded", "duration_ms", elapsed.Milliseconds())
		return Result{Succeeded: true, Duration: elapsed}, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			Diagnostic:      timeoutDiagnostic(r.timeout, out),
			ExitCode:        -1,
			Duration:        elapsed,
			OutputTruncated: out.Truncated(),
		}, nil
	}

	return Result{
		Diagnostic:      luaDiagnostic(out, err),
		ExitCode:        1,
		Duration:        elapsed,
		OutputTruncated: out.Truncated(),
	}, nil
}

// openSafeLibs loads base, table, string and math, then strips every
// entry point that could reach the filesystem, spawn processes or
// load more code. print is rebound to the bounded capture buffer.
func (r *LuaRunner) openSafeLibs(L *lua.LState, out *OutputBuffer) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("collectgarbage", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		for i := 1; i <= top; i++ {
			if i > 1 {
				_, _ = out.Write([]byte("\t"))
			}
			_, _ = out.Write([]byte(L.ToStringMeta(L.Get(i)).String()))
		}
		_, _ = out.Write([]byte("\n"))
		return 0
	}))
}

// luaDiagnostic combines captured print output with the error
// traceback. The traceback always comes last, matching interpreter
// conventions.
func luaDiagnostic(out *OutputBuffer, runErr error) string {
	trace := runErr.Error()
	text := out.String()
	if text == "" {
		return trace
	}
	if out.Truncated() {
		return fmt.Sprintf("[output truncated; showing last %d bytes]\n%s\n%s", out.Len(), text, trace)
	}
	return text + "\n" + trace
}
