package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryOnConflict(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), policy, "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("no such table")
	err = RetryOnConflict(context.Background(), policy, "op", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-conflict errors must not retry: err=%v calls=%d", err, calls)
	}
}

func TestIsSQLiteConflictError(t *testing.T) {
	if IsSQLiteConflictError(nil) {
		t.Fatal("nil is not a conflict")
	}
	if !IsSQLiteConflictError(errors.New("SQLITE_BUSY")) {
		t.Fatal("expected busy conflict")
	}
	if !IsSQLiteConflictError(errors.New("database is locked")) {
		t.Fatal("expected locked conflict")
	}
}
