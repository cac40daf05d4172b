package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// SubprocessRunner executes the artifact with a separate interpreter
// process. The generated code never shares the orchestrator's address
// space; a nonzero exit is a failed run and the combined output is
// the diagnostic.
type SubprocessRunner struct {
	bin       string
	timeout   time.Duration
	outputCap int
	logger    *slog.Logger
}

// NewSubprocessRunner builds a runner that invokes bin (for example
// "python3") on the artifact path with the given wall-clock timeout.
func NewSubprocessRunner(bin string, timeout time.Duration, logger *slog.Logger) *SubprocessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if bin == "" {
		bin = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SubprocessRunner{
		bin:       bin,
		timeout:   timeout,
		outputCap: defaultOutputCap,
		logger:    logger,
	}
}

// Name identifies the strategy.
func (r *SubprocessRunner) Name() string { return "subprocess" }

// Run spawns the interpreter on the artifact and waits for it to
// finish or hit the deadline. A deadline hit kills the process and
// counts as a failed run.
func (r *SubprocessRunner) Run(ctx context.Context, artifactPath, code string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out := NewOutputBuffer(r.outputCap)
	cmd := exec.CommandContext(ctx, r.bin, artifactPath)
	cmd.Stdout = out
	cmd.Stderr = out
	// Bound how long Wait lingers after the context kills the process.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		r.logger.Debug("subprocess run succeeded", "bin", r.bin, "duration_ms", elapsed.Milliseconds())
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

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Debug("subprocess run failed",
			"bin", r.bin,
			"exit_code", exitErr.ExitCode(),
			"duration_ms", elapsed.Milliseconds(),
		)
		return Result{
			Diagnostic:      failureDiagnostic(out, err),
			ExitCode:        exitErr.ExitCode(),
			Duration:        elapsed,
			OutputTruncated: out.Truncated(),
		}, nil
	}

	// Interpreter missing, not executable, and similar: the
	// environment failed before the generated code got a chance.
	return Result{}, fmt.Errorf("start %s: %w", r.bin, err)
}

// failureDiagnostic assembles the verbatim failure text. Captured
// output is preferred; the exit error stands in when the process
// produced none. Truncation is flagged up front.
func failureDiagnostic(out *OutputBuffer, runErr error) string {
	text := out.String()
	if text == "" {
		return runErr.Error()
	}
	if out.Truncated() {
		return fmt.Sprintf("[output truncated; showing last %d bytes]\n%s", out.Len(), text)
	}
	return text
}

func timeoutDiagnostic(timeout time.Duration, out *OutputBuffer) string {
	text := fmt.Sprintf("execution timed out after %s", timeout)
	if tail := out.String(); tail != "" {
		if out.Truncated() {
			return fmt.Sprintf("%s\n[output truncated; showing last %d bytes]\n%s", text, out.Len(), tail)
		}
		return text + "\n" + tail
	}
	return text
}
