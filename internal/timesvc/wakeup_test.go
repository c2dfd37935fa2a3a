package timesvc

import (
	"context"
	"testing"
	"time"
)

func TestWakeupCoalesces(t *testing.T) {
	t.Parallel()
	w := NewWakeup()

	// Multiple releases before a wait collapse into one pending wakeup.
	w.Release()
	w.Release()
	w.Release()

	ctx := context.Background()
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	// The second wait must block: only one wakeup was pending.
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := w.Wait(tctx); err == nil {
		t.Fatal("second Wait should have blocked until timeout")
	}
}

func TestWakeupWaitHonorsContext(t *testing.T) {
	t.Parallel()
	w := NewWakeup()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Wait(ctx); err != context.Canceled {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestWakeupReleaseUnblocksWaiter(t *testing.T) {
	t.Parallel()
	w := NewWakeup()
	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	w.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Release did not unblock the waiter")
	}
}
