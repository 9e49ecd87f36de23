// Package qcli invokes the external Q CLI and classifies its failures.
package qcli

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Invoker sends one prompt to the CLI and returns its captured output.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error)
}

// InvokeOptions override client defaults for a single call.
type InvokeOptions struct {
	Timeout time.Duration
	Tag     string
}

// Client builds chat invocations on top of a Runner.
type Client struct {
	runner  Runner
	workDir string
	timeout time.Duration
	env     map[string]string
}

// NewClient creates a client. timeout is the default per-invocation deadline.
func NewClient(runner Runner, workDir string, timeout time.Duration) *Client {
	return &Client{
		runner:  runner,
		workDir: workDir,
		timeout: timeout,
		env: map[string]string{
			"NO_COLOR":    "1",
			"FORCE_COLOR": "0",
			"TERM":        "dumb",
		},
	}
}

// ChatArgs returns the argv passed to the binary for prompt. The prompt is a
// single argument, so quotes and shell metacharacters need no escaping.
func ChatArgs(prompt string) []string {
	return []string{"chat", "--no-interactive", "--trust-all-tools", prompt}
}

// Invoke implements Invoker. Exit codes other than zero fail the call only
// when stdout is empty; the CLI often exits non-zero after a usable answer.
func (c *Client) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	res, err := c.runner.Run(ctx, Spec{
		Args:    ChatArgs(prompt),
		WorkDir: c.workDir,
		Env:     c.env,
		Timeout: timeout,
		Tag:     opts.Tag,
	})
	if err != nil {
		return res, err
	}

	if res.ExitCode != 0 {
		if strings.TrimSpace(res.Stdout) == "" {
			return res, &ProcessError{
				Kind:     ErrProcessNonZeroExit,
				ExitCode: res.ExitCode,
				Stderr:   Tail(res.Stderr),
			}
		}
		slog.Warn("Q CLI exited non-zero with output, keeping it",
			"exit_code", res.ExitCode,
			"stdout_bytes", len(res.Stdout),
			"session_id", opts.Tag)
	}

	slog.Debug("Q CLI invocation finished",
		"duration", res.Duration,
		"exit_code", res.ExitCode,
		"truncated", res.Truncated,
		"session_id", opts.Tag)
	return res, nil
}
