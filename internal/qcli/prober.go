package qcli

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Prober answers whether the CLI is installed and responsive. Concurrent
// checks share one probe and results are cached for a short window.
type Prober struct {
	runner   Runner
	timeout  time.Duration
	cacheTTL time.Duration

	group singleflight.Group
	now   func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	available bool
}

// NewProber creates a prober. cacheTTL of zero disables caching.
func NewProber(runner Runner, timeout, cacheTTL time.Duration) *Prober {
	return &Prober{
		runner:   runner,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// CheckAvailable runs "<binary> --help" and reports true when it exits zero
// with non-empty output. It never returns an error.
func (p *Prober) CheckAvailable(ctx context.Context) bool {
	p.mu.Lock()
	if p.cacheTTL > 0 && !p.checkedAt.IsZero() && p.now().Sub(p.checkedAt) < p.cacheTTL {
		ok := p.available
		p.mu.Unlock()
		return ok
	}
	p.mu.Unlock()

	// The shared check must not die with whichever caller started it.
	v, _, _ := p.group.Do("probe", func() (any, error) {
		ok := p.probe(context.WithoutCancel(ctx))
		p.mu.Lock()
		p.available = ok
		p.checkedAt = p.now()
		p.mu.Unlock()
		return ok, nil
	})
	return v.(bool)
}

// Invalidate drops the cached result.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.checkedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context) bool {
	res, err := p.runner.Run(ctx, Spec{Args: []string{"--help"}, Timeout: p.timeout, Tag: "probe"})
	if err != nil {
		slog.Debug("Q CLI probe failed", "error", err)
		return false
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) == "" {
		slog.Debug("Q CLI probe unhealthy", "exit_code", res.ExitCode, "stdout_bytes", len(res.Stdout))
		return false
	}
	return true
}
