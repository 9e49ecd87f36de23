// Package worker runs the periodic sweep of idle assessment sessions,
// stale CLI processes and old chat turns.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/qmind/internal/shared"
)

// DefaultTurnRetention is how long chat turns are kept.
const DefaultTurnRetention = 7 * 24 * time.Hour

const stopTimeout = 10 * time.Second

// SessionSweeper removes sessions idle longer than ttl and returns their ids.
type SessionSweeper interface {
	Sweep(ttl time.Duration) []string
}

// ProcessReaper kills tracked processes older than maxAge.
type ProcessReaper interface {
	KillOlderThan(maxAge time.Duration) int
}

// TurnCleaner deletes chat turns older than ttl.
type TurnCleaner interface {
	CleanupChatTurns(ctx context.Context, ttl time.Duration) (int64, error)
}

// Config controls the sweep.
type Config struct {
	Schedule      string // cron spec or descriptor, e.g. "@every 1m"
	SessionTTL    time.Duration
	ProcessTTL    time.Duration
	TurnRetention time.Duration
}

// Result reports what one sweep removed.
type Result struct {
	Sessions []string
	Killed   int
	Turns    int64
}

// Sweeper schedules sweeps with cron. Nil collaborators are skipped.
type Sweeper struct {
	cfg      Config
	sessions SessionSweeper
	procs    ProcessReaper
	turns    TurnCleaner

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewSweeper validates the schedule and returns an unstarted sweeper.
func NewSweeper(cfg Config, sessions SessionSweeper, procs ProcessReaper, turns TurnCleaner) (*Sweeper, error) {
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.TurnRetention <= 0 {
		cfg.TurnRetention = DefaultTurnRetention
	}
	return &Sweeper{cfg: cfg, sessions: sessions, procs: procs, turns: turns}, nil
}

// Start schedules the sweep. It stops when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunOnce(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c

	slog.Info("Sweep worker started",
		"schedule", s.cfg.Schedule,
		"session_ttl", s.cfg.SessionTTL,
		"process_ttl", s.cfg.ProcessTTL)

	go func(ctx context.Context) {
		<-ctx.Done()
		s.Stop()
	}(s.ctx)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-time.After(stopTimeout):
		slog.Warn("Sweep worker stop timed out")
	}
	cancel()
	slog.Info("Sweep worker stopped")
}

// RunOnce performs one sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result

	if s.sessions != nil && s.cfg.SessionTTL > 0 {
		res.Sessions = s.sessions.Sweep(s.cfg.SessionTTL)
	}
	if s.procs != nil && s.cfg.ProcessTTL > 0 {
		res.Killed = s.procs.KillOlderThan(s.cfg.ProcessTTL)
	}
	if s.turns != nil {
		err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "cleanup chat turns", func() error {
			n, err := s.turns.CleanupChatTurns(ctx, s.cfg.TurnRetention)
			res.Turns = n
			return err
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("Sweep failed to clean up chat turns", "error", err)
		}
	}

	if len(res.Sessions) > 0 || res.Killed > 0 || res.Turns > 0 {
		slog.Info("Sweep completed",
			"sessions_removed", len(res.Sessions),
			"processes_killed", res.Killed,
			"turns_deleted", res.Turns)
	}
	return res
}
