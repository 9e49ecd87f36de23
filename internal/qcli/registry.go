package qcli

import (
	"log/slog"
	"sync"
	"time"
)

// Registry tracks running child processes by session tag so idle sweeps can
// terminate anything still attached to an expired session.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	procs  map[int64]*trackedProcess
	killed map[int64]struct{} // killed but not yet untracked
	now    func() time.Time
}

type trackedProcess struct {
	tag     string
	started time.Time
	kill    func() error
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{
		procs:  make(map[int64]*trackedProcess),
		killed: make(map[int64]struct{}),
		now:    time.Now,
	}
}

// Track records a running process; kill is called if it is swept.
func (r *Registry) Track(tag string, kill func() error) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.procs[r.nextID] = &trackedProcess{tag: tag, started: r.now(), kill: kill}
	return r.nextID
}

// Untrack forgets a finished process and reports whether the registry
// killed it. Runners call it exactly once per Track.
func (r *Registry) Untrack(id int64) (killed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, id)
	_, killed = r.killed[id]
	delete(r.killed, id)
	return killed
}

// Count returns the number of running processes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// KillTag terminates every process started for tag and returns how many were signalled.
func (r *Registry) KillTag(tag string) int {
	return r.killWhere(func(p *trackedProcess) bool { return p.tag == tag })
}

// KillOlderThan terminates processes running longer than maxAge.
func (r *Registry) KillOlderThan(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	return r.killWhere(func(p *trackedProcess) bool { return p.started.Before(cutoff) })
}

func (r *Registry) killWhere(match func(*trackedProcess) bool) int {
	r.mu.Lock()
	var victims []*trackedProcess
	for id, p := range r.procs {
		if match(p) {
			victims = append(victims, p)
			delete(r.procs, id)
			r.killed[id] = struct{}{}
		}
	}
	r.mu.Unlock()

	for _, p := range victims {
		if err := p.kill(); err != nil {
			slog.Debug("Failed to kill q cli process", "tag", p.tag, "error", err)
		}
	}
	return len(victims)
}
