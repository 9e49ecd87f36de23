package assessment

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s := NewSession("a", now)
	store.Put(s)
	s.Answers[1] = "mutated after put"

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Empty(t, got.Answers)

	got.Answers[1] = "mutated after get"
	again, _ := store.Get("a")
	assert.Empty(t, again.Answers)
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	store.Put(NewSession("old-b", now.Add(-2*time.Hour)))
	store.Put(NewSession("old-a", now.Add(-3*time.Hour)))
	store.Put(NewSession("fresh", now.Add(-time.Minute)))

	assert.Equal(t, []string{"old-a", "old-b"}, store.Sweep(now, time.Hour))
	assert.Equal(t, 1, store.Len())

	_, ok := store.Get("fresh")
	assert.True(t, ok)
	assert.True(t, store.Delete("fresh"))
	assert.False(t, store.Delete("fresh"))
}

func TestSessionStateAndProgress(t *testing.T) {
	var nilSession *Session
	assert.Equal(t, StateNoSession, nilSession.State())

	s := NewSession("x", time.Now())
	assert.Equal(t, StateAwaiting, s.State())
	assert.Equal(t, "0/8", s.Progress())

	s.Answers[2] = "b"
	s.Answers[1] = "a"
	assert.Equal(t, []int{1, 2}, s.OrderedAnswers())
	assert.Equal(t, "2/8", s.Progress())

	s.IsCompleted = true
	assert.Equal(t, StateCompleted, s.State())
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := newKeyedMutex()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Empty(t, km.locks)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
