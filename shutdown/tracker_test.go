package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOperationTrackerLifecycle(t *testing.T) {
	tr := NewOperationTracker()
	if !tr.Start() || !tr.Start() {
		t.Fatal("Start rejected on open tracker")
	}
	if tr.ActiveCount() != 2 {
		t.Errorf("ActiveCount = %d, want 2", tr.ActiveCount())
	}

	tr.Close()
	if tr.Start() {
		t.Error("Start accepted after Close")
	}
	if !tr.IsClosed() {
		t.Error("IsClosed = false after Close")
	}

	tr.Done()
	tr.Done()
	if err := tr.Wait(context.Background()); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestOperationTrackerWaitTimeout(t *testing.T) {
	tr := NewOperationTracker()
	tr.Start()
	defer tr.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait() = %v, want ErrWaitTimeout", err)
	}
}

func TestOperationTrackerWaitsForInFlight(t *testing.T) {
	tr := NewOperationTracker()
	tr.Start()
	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Errorf("Wait: %v", err)
	}
}
