// Package runner executes generated source code and reports whether
// it ran cleanly. Every strategy is sandboxed away from the
// orchestrator: a separate OS process, a resource-limited container,
// or an interpreter state with the dangerous libraries removed.
package runner

import (
	"context"
	"time"
)

// Result reports one execution of generated code. A failed run is a
// normal Result, not an error: Succeeded is false and Diagnostic
// carries the complete captured error text, reused verbatim as the
// next feedback payload. On success Diagnostic is empty.
type Result struct {
	Succeeded       bool
	Diagnostic      string
	ExitCode        int
	Duration        time.Duration
	OutputTruncated bool
}

// Runner runs the code stored at artifactPath. The code string is the
// same content; in-process strategies interpret it directly while
// process and container strategies run the file. Run returns an error
// only for infrastructure problems (daemon unreachable, interpreter
// missing); those are retryable execution failures too, just ones the
// generated code did not cause.
type Runner interface {
	Run(ctx context.Context, artifactPath, code string) (Result, error)
	Name() string
}

// Compile-time interface checks.
var (
	_ Runner = (*SubprocessRunner)(nil)
	_ Runner = (*DockerRunner)(nil)
	_ Runner = (*LuaRunner)(nil)
)
