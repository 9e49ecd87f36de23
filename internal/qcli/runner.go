package qcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const (
	maxStdoutBytes = 1 << 20
	maxStderrBytes = 64 * 1024
	waitDelay      = 2 * time.Second
)

// Spec describes one run of the CLI binary.
type Spec struct {
	Args    []string
	WorkDir string
	Env     map[string]string
	Timeout time.Duration
	Tag     string // session id; lets sweeps find the process
}

// Result is the captured outcome of a finished run.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner starts the CLI and waits for it. Implementations return
// *ProcessError for unavailable binaries and timeouts; a non-zero exit is
// reported through Result.ExitCode, not as an error.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// ExecRunner runs the CLI as a local child process without a shell.
type ExecRunner struct {
	binary   string
	registry *Registry
}

// NewExecRunner creates a runner for binary. registry may be nil.
func NewExecRunner(binary string, registry *Registry) *ExecRunner {
	if registry == nil {
		registry = NewRegistry()
	}
	return &ExecRunner{binary: binary, registry: registry}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	path, err := exec.LookPath(r.binary)
	if err != nil {
		return nil, &ProcessError{Kind: ErrProcessUnavailable, Err: err}
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	stdout := NewCircularBuffer(maxStdoutBytes)
	stderr := NewCircularBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Kind: ErrProcessUnavailable, Err: err}
	}
	id := r.registry.Track(spec.Tag, func() error { return killProcessGroup(cmd) })

	waitErr := cmd.Wait()
	killed := r.registry.Untrack(id)
	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Dropped() > 0,
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, &ProcessError{Kind: ErrProcessTimeout, ExitCode: -1, Stderr: Tail(res.Stderr), Err: runCtx.Err()}
	}
	if killed {
		res.ExitCode = -1
		return res, &ProcessError{Kind: ErrProcessKilled, ExitCode: -1, Stderr: Tail(res.Stderr)}
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("wait for %s: %w", r.binary, waitErr)
	}
	return res, nil
}

// mergeEnv overlays extra onto base, replacing keys already present.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; !overridden {
			out = append(out, kv)
		}
	}
	return append(out, EnvList(extra)...)
}

// EnvList renders env as sorted KEY=value pairs.
func EnvList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Tail trims s to its last 500 bytes for error messages.
func Tail(s string) string {
	const max = 500
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[len(s)-max:], "")
}
