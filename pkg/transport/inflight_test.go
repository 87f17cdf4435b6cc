package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestInFlightCancel(t *testing.T) {
	r := NewInFlightRegistry()
	ctx, release := r.Track(context.Background(), "req-1")
	defer release()

	if r.Len() != 1 {
		t.Fatalf("Len = %d", r.Len())
	}
	if !r.Cancel("req-1") {
		t.Fatal("Cancel of tracked id failed")
	}
	if ctx.Err() == nil || !errors.Is(context.Cause(ctx), ErrCancelled) {
		t.Errorf("cause = %v", context.Cause(ctx))
	}
	if r.Cancel("req-1") || r.Len() != 0 {
		t.Error("id should be gone after Cancel")
	}
}

func TestInFlightRelease(t *testing.T) {
	r := NewInFlightRegistry()
	ctx, release := r.Track(context.Background(), "req-2")
	release()
	if r.Len() != 0 || r.Cancel("req-2") {
		t.Error("released id still tracked")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Error("release should cancel the derived context")
	}
	if errors.Is(context.Cause(ctx), ErrCancelled) {
		t.Error("release is not a client cancellation")
	}
}

func TestInFlightDuplicateID(t *testing.T) {
	r := NewInFlightRegistry()
	first, releaseFirst := r.Track(context.Background(), "dup")
	_, releaseSecond := r.Track(context.Background(), "dup")

	// The second request's release must not untrack the first.
	releaseSecond()
	if !r.Cancel("dup") || first.Err() == nil {
		t.Error("first request should still be cancellable")
	}
	releaseFirst()
}

func TestInFlightEmptyID(t *testing.T) {
	r := NewInFlightRegistry()
	ctx, release := r.Track(context.Background(), "")
	if r.Len() != 0 {
		t.Error("empty id should not be tracked")
	}
	release()
	if ctx.Err() == nil {
		t.Error("context not cancelled by release")
	}
}

func TestInFlightConcurrent(t *testing.T) {
	r := NewInFlightRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			_, release := r.Track(context.Background(), id)
			if i%2 == 0 {
				r.Cancel(id)
			}
			release()
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Len = %d after all released", r.Len())
	}
}
