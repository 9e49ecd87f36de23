// Package container runs the Q CLI inside an existing Docker container.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ashureev/qmind/internal/qcli"
)

const (
	maxStdoutBytes = 1 << 20
	maxStderrBytes = 64 * 1024

	// Grace added on top of the in-container timeout before the attach is dropped.
	attachGrace = 3 * time.Second

	// The output stream can close just before the exec is reported finished.
	inspectAttempts = 5
	inspectInterval = 100 * time.Millisecond
)

// API is the subset of the Docker client used by Runner.
type API interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Runner implements qcli.Runner using docker exec.
type Runner struct {
	cli       API
	container string
	binary    string
	registry  *qcli.Registry
}

// NewRunner creates a Docker-backed runner targeting containerName.
func NewRunner(containerName, binary string, registry *qcli.Registry) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "container", containerName)
	return newRunner(cli, containerName, binary, registry), nil
}

func newRunner(cli API, containerName, binary string, registry *qcli.Registry) *Runner {
	if registry == nil {
		registry = qcli.NewRegistry()
	}
	return &Runner{cli: cli, container: containerName, binary: binary, registry: registry}
}

// IsRunning checks if the target container is currently running.
func (r *Runner) IsRunning(ctx context.Context) (bool, error) {
	inspect, err := r.cli.ContainerInspect(ctx, r.container)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", r.container, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Run implements qcli.Runner.
func (r *Runner) Run(ctx context.Context, spec qcli.Spec) (*qcli.Result, error) {
	running, err := r.IsRunning(ctx)
	if err != nil {
		return nil, &qcli.ProcessError{Kind: qcli.ErrProcessUnavailable, Err: err}
	}
	if !running {
		return nil, &qcli.ProcessError{
			Kind: qcli.ErrProcessUnavailable,
			Err:  fmt.Errorf("container %s is not running", r.container),
		}
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout+attachGrace)
		defer cancel()
	}

	resp, err := r.cli.ContainerExecCreate(runCtx, r.container, container.ExecOptions{
		Cmd:          buildCmd(r.binary, spec),
		Env:          qcli.EnvList(spec.Env),
		WorkingDir:   spec.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, &qcli.ProcessError{Kind: qcli.ErrProcessUnavailable, Err: err}
		}
		return nil, fmt.Errorf("create exec: %w", err)
	}

	start := time.Now()
	attach, err := r.cli.ContainerExecAttach(runCtx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	// Closing the attach ends the stream here; the exec itself keeps running
	// until the in-container timeout, so a killed run is reported as such.
	id := r.registry.Track(spec.Tag, func() error { attach.Close(); return nil })

	stdout := qcli.NewCircularBuffer(maxStdoutBytes)
	stderr := qcli.NewCircularBuffer(maxStderrBytes)
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		done <- copyErr
	}()

	var copyErr error
	select {
	case copyErr = <-done:
	case <-runCtx.Done():
		attach.Close()
		<-done
	}
	killed := r.registry.Untrack(id)

	res := &qcli.Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Dropped() > 0,
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, &qcli.ProcessError{Kind: qcli.ErrProcessTimeout, ExitCode: -1, Stderr: qcli.Tail(res.Stderr), Err: runCtx.Err()}
	}
	if killed {
		res.ExitCode = -1
		return res, &qcli.ProcessError{Kind: qcli.ErrProcessKilled, ExitCode: -1, Stderr: qcli.Tail(res.Stderr)}
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if copyErr != nil {
		slog.Debug("Exec output copy ended with error", "exec_id", resp.ID, "error", copyErr)
	}

	inspect, err := r.inspectFinished(ctx, resp.ID)
	if err != nil {
		return res, err
	}
	if inspect.Running {
		// The stream ended while the CLI is still working; the output is cut short.
		res.ExitCode = -1
		return res, &qcli.ProcessError{
			Kind:     qcli.ErrProcessKilled,
			ExitCode: -1,
			Stderr:   qcli.Tail(res.Stderr),
			Err:      fmt.Errorf("exec %s still running after its output closed", resp.ID),
		}
	}
	res.ExitCode = inspect.ExitCode
	// coreutils timeout exits 124, or 137 when it had to SIGKILL.
	if spec.Timeout > 0 && (inspect.ExitCode == 124 || inspect.ExitCode == 137) {
		return res, &qcli.ProcessError{Kind: qcli.ErrProcessTimeout, ExitCode: inspect.ExitCode}
	}
	return res, nil
}

// buildCmd wraps the CLI in coreutils timeout so the process dies inside the
// container even when the attach is dropped.
func buildCmd(binary string, spec qcli.Spec) []string {
	cmd := make([]string, 0, len(spec.Args)+5)
	if spec.Timeout > 0 {
		secs := int(spec.Timeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		cmd = append(cmd, "timeout", "-s", "KILL", strconv.Itoa(secs))
	}
	cmd = append(cmd, binary)
	return append(cmd, spec.Args...)
}

// inspectFinished inspects the exec, retrying briefly while it still reports running.
func (r *Runner) inspectFinished(ctx context.Context, execID string) (container.ExecInspect, error) {
	var inspect container.ExecInspect
	for attempt := 0; attempt < inspectAttempts; attempt++ {
		var err error
		inspect, err = r.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return inspect, fmt.Errorf("inspect exec %s: %w", execID, err)
		}
		if !inspect.Running {
			return inspect, nil
		}
		select {
		case <-ctx.Done():
			return inspect, ctx.Err()
		case <-time.After(inspectInterval):
		}
	}
	return inspect, nil
}
