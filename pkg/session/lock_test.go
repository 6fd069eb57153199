package session

import (
	"context"
	"fmt"
	"testing"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_ = mgr.WithLock(ctx, sid, func(context.Context) error { return nil })
	}

	lockCount := len(mgr.locks)
	t.Logf("Sessions Locked: %d, Locks Leaked: %d", count, lockCount)

	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after release", lockCount)
	}
}

func TestManager_LockReleasedOnError(t *testing.T) {
	mgr := NewManager()
	err := mgr.WithLock(context.Background(), "s1", func(context.Context) error {
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatal("expected the callback error to be returned")
	}
	if n := len(mgr.locks); n != 0 {
		t.Errorf("expected no lock entries, got %d", n)
	}
}
