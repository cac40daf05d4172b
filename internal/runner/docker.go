package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// managedLabel marks containers this process created so stale ones
	// can be reaped after a crash.
	managedLabel = "supercoder.managed"

	// containerWorkDir is where the artifact directory is mounted,
	// read-only. The working directory is /tmp so the generated code
	// can still create files without touching the artifact.
	containerWorkDir = "/work"

	cleanupTimeout = 30 * time.Second
)

// DockerConfig holds settings for the container execution strategy.
type DockerConfig struct {
	Image       string
	Interpreter string
	MemoryMB    int64
	CPUQuota    int64
	PidsLimit   int64
	Timeout     time.Duration
}

// DefaultDockerConfig returns the sandbox defaults.
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Image:       "python:3.12-alpine",
		Interpreter: "python3",
		MemoryMB:    256,
		CPUQuota:    50000, // half a CPU
		PidsLimit:   128,
		Timeout:     30 * time.Second,
	}
}

// DockerRunner executes each attempt's code in a disposable container
// with memory, CPU and pid limits and no network. The artifact
// directory is bind-mounted read-only; the container is removed after
// the run regardless of outcome.
type DockerRunner struct {
	cli       *client.Client
	cfg       DockerConfig
	outputCap int
	logger    *slog.Logger
}

// NewDockerRunner builds a container-backed runner. It fails if the
// Docker client cannot be constructed from the environment.
func NewDockerRunner(cfg DockerConfig, logger *slog.Logger) (*DockerRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultDockerConfig()
	if cfg.Image == "" {
		cfg.Image = defaults.Image
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = defaults.Interpreter
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaults.MemoryMB
	}
	if cfg.CPUQuota <= 0 {
		cfg.CPUQuota = defaults.CPUQuota
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = defaults.PidsLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &DockerRunner{
		cli:       cli,
		cfg:       cfg,
		outputCap: defaultOutputCap,
		logger:    logger,
	}, nil
}

// Name identifies the strategy.
func (r *DockerRunner) Name() string { return "docker" }

// Ping reports whether the Docker daemon is reachable.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

// Run creates a fresh container for the artifact, waits for it to
// exit or hit the deadline, collects its combined output and removes
// it. A deadline hit kills the container and counts as a failed run.
func (r *DockerRunner) Run(ctx context.Context, artifactPath, code string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	absPath, err := filepath.Abs(artifactPath)
	if err != nil {
		return Result{}, fmt.Errorf("resolve artifact path: %w", err)
	}
	target := filepath.Join(containerWorkDir, filepath.Base(absPath))

	config := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        []string{r.cfg.Interpreter, target},
		WorkingDir: "/tmp",
		User:       "65534:65534",
		Labels:     map[string]string{managedLabel: "true"},
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{filepath.Dir(absPath) + ":" + containerWorkDir + ":ro"},
		Resources: container.Resources{
			Memory:    r.cfg.MemoryMB * 1024 * 1024,
			CPUQuota:  r.cfg.CPUQuota,
			PidsLimit: ptr(r.cfg.PidsLimit),
		},
	}

	resp, err := r.cli.ContainerCreate(runCtx, config, hostConfig, nil, nil, "")
	if errdefs.IsNotFound(err) {
		// Image absent locally; pull once and retry the create.
		if pullErr := r.pullImage(runCtx); pullErr != nil {
			return Result{}, pullErr
		}
		resp, err = r.cli.ContainerCreate(runCtx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		return Result{}, fmt.Errorf("create execution container: %w", err)
	}
	defer r.removeContainer(resp.ID)

	start := time.Now()
	if err := r.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("start execution container %s: %w", resp.ID, err)
	}

	waitCh, errCh := r.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		elapsed := time.Since(start)
		if status.Error != nil {
			return Result{}, fmt.Errorf("wait for container %s: %s", resp.ID, status.Error.Message)
		}
		out := r.collectOutput(resp.ID)
		if status.StatusCode == 0 {
			r.logger.Debug("container run succeeded", "container_id", resp.ID, "duration_ms", elapsed.Milliseconds())
			return Result{Succeeded: true, Duration: elapsed}, nil
		}
		diag := failureDiagnostic(out, fmt.Errorf("exit status %d", status.StatusCode))
		return Result{
			Diagnostic:      diag,
			ExitCode:        int(status.StatusCode),
			Duration:        elapsed,
			OutputTruncated: out.Truncated(),
		}, nil

	case err := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded {
			break
		}
		return Result{}, fmt.Errorf("wait for container %s: %w", resp.ID, err)

	case <-runCtx.Done():
	}

	// Deadline hit: kill, collect whatever was printed, report failure.
	elapsed := time.Since(start)
	killCtx, killCancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer killCancel()
	if err := r.cli.ContainerKill(killCtx, resp.ID, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
		r.logger.Warn("failed to kill timed out container", "container_id", resp.ID, "error", err)
	}
	out := r.collectOutput(resp.ID)
	return Result{
		Diagnostic:      timeoutDiagnostic(r.cfg.Timeout, out),
		ExitCode:        -1,
		Duration:        elapsed,
		OutputTruncated: out.Truncated(),
	}, nil
}

// collectOutput reads the container's combined stdout and stderr into
// a bounded buffer. Log retrieval failures degrade to an empty
// diagnostic rather than failing the run.
func (r *DockerRunner) collectOutput(containerID string) *OutputBuffer {
	out := NewOutputBuffer(r.outputCap)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	rc, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		r.logger.Warn("failed to read container logs", "container_id", containerID, "error", err)
		return out
	}
	defer rc.Close()

	// Non-TTY log streams are multiplexed; demux both into one buffer.
	if _, err := stdcopy.StdCopy(out, out, rc); err != nil {
		r.logger.Warn("failed to demux container logs", "container_id", containerID, "error", err)
	}
	return out
}

func (r *DockerRunner) pullImage(ctx context.Context) error {
	r.logger.Info("pulling execution image", "image", r.cfg.Image)
	rc, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", r.cfg.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("read pull progress for %s: %w", r.cfg.Image, err)
	}
	return nil
}

// removeContainer force-removes a finished execution container. Uses
// a fresh context so cleanup still happens when the run context is
// already dead.
func (r *DockerRunner) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return
		}
		r.logger.Warn("failed to remove execution container", "container_id", containerID, "error", err)
	}
}

// ReapStale removes leftover execution containers from earlier
// processes that crashed before their deferred cleanup ran. Called
// once at server startup.
func (r *DockerRunner) ReapStale(ctx context.Context) (int, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedLabel+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list stale execution containers: %w", err)
	}

	removed := 0
	for _, c := range list {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			r.logger.Warn("failed to reap stale container", "container_id", c.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("reaped stale execution containers", "count", removed)
	}
	return removed, nil
}

func ptr[T any](v T) *T {
	return &v
}
