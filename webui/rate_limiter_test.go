package webui

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(clock *fakeClock) *RateLimiter {
	rl := NewRateLimiter(3, time.Minute, 10*time.Minute)
	rl.now = clock.now
	return rl
}

func TestRateLimiter_BlocksAfterMaxAttempts(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newTestLimiter(clock)

	for i := 1; i <= 3; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Fatalf("attempt %d blocked early", i)
		}
		if got := rl.RecordFailure("10.0.0.1"); got != i {
			t.Fatalf("RecordFailure() = %d, want %d", got, i)
		}
	}

	ok, wait := rl.Allow("10.0.0.1")
	if ok {
		t.Fatal("expected address to be blocked")
	}
	if wait != 10*time.Minute {
		t.Errorf("wait = %v, want 10m", wait)
	}
	if ok, _ := rl.Allow("10.0.0.2"); !ok {
		t.Error("other addresses must not be blocked")
	}

	clock.advance(10 * time.Minute)
	if ok, _ := rl.Allow("10.0.0.1"); !ok {
		t.Error("block should expire")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newTestLimiter(clock)

	rl.RecordFailure("a")
	rl.RecordFailure("a")
	clock.advance(time.Minute)
	if got := rl.RecordFailure("a"); got != 1 {
		t.Errorf("count after window = %d, want 1", got)
	}
}

func TestRateLimiter_ResetAndCleanup(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newTestLimiter(clock)

	rl.RecordFailure("a")
	rl.RecordFailure("b")
	rl.Reset("a")
	if rl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", rl.Len())
	}

	if n := rl.Cleanup(); n != 0 {
		t.Errorf("Cleanup() before expiry = %d, want 0", n)
	}
	clock.advance(2 * time.Minute)
	if n := rl.Cleanup(); n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
	if rl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rl.Len())
	}
}
