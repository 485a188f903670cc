package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	fired []uint64
}

func (r *recorder) fire(id uint64) {
	r.mu.Lock()
	r.fired = append(r.fired, id)
	r.mu.Unlock()
}

func (r *recorder) got() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.fired...)
}

func TestArmFiresAfterDuration(t *testing.T) {
	clock := NewFakeClock(t0)
	rec := &recorder{}
	s := NewWithClock(clock.AfterFunc, rec.fire)

	if err := s.Arm(1, 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(4 * time.Second)
	if len(rec.got()) != 0 {
		t.Fatal("fired early")
	}

	clock.Advance(time.Second)
	if got := rec.got(); len(got) != 1 || got[0] != 1 {
		t.Errorf("fired: got %v, want [1]", got)
	}
	if s.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", s.Pending())
	}
}

func TestCancelPreventsFire(t *testing.T) {
	clock := NewFakeClock(t0)
	rec := &recorder{}
	s := NewWithClock(clock.AfterFunc, rec.fire)

	s.Arm(1, 5*time.Second)
	if !s.Cancel(1) {
		t.Error("expected Cancel to find the timer")
	}
	clock.Advance(10 * time.Second)

	if len(rec.got()) != 0 {
		t.Errorf("cancelled timer fired: %v", rec.got())
	}
	if clock.Active() != 0 {
		t.Errorf("underlying timer not stopped")
	}
}

func TestCancelUnknownIsNoOp(t *testing.T) {
	s := NewWithClock(NewFakeClock(t0).AfterFunc, func(uint64) {})
	if s.Cancel(42) {
		t.Error("Cancel of unknown activation should report false")
	}
}

func TestArmTwiceRejected(t *testing.T) {
	clock := NewFakeClock(t0)
	s := NewWithClock(clock.AfterFunc, func(uint64) {})

	s.Arm(7, time.Second)
	if err := s.Arm(7, time.Second); !errors.Is(err, ErrAlreadyArmed) {
		t.Errorf("got %v, want ErrAlreadyArmed", err)
	}
	if clock.Active() != 1 {
		t.Errorf("active timers: got %d, want 1", clock.Active())
	}
}

func TestIndependentActivations(t *testing.T) {
	clock := NewFakeClock(t0)
	rec := &recorder{}
	s := NewWithClock(clock.AfterFunc, rec.fire)

	s.Arm(1, 3*time.Second)
	s.Arm(2, time.Second)
	s.Cancel(1)

	clock.Advance(5 * time.Second)
	if got := rec.got(); len(got) != 1 || got[0] != 2 {
		t.Errorf("fired: got %v, want [2]", got)
	}
}

// A timer that expired but whose callback runs after Cancel must not fire.
func TestCancelAfterExpiryBeforeCallback(t *testing.T) {
	var pending func()
	after := func(d time.Duration, f func()) Timer {
		pending = f
		return stubTimer{}
	}
	rec := &recorder{}
	s := NewWithClock(after, rec.fire)

	s.Arm(3, time.Second)
	s.Cancel(3)
	pending()

	if len(rec.got()) != 0 {
		t.Errorf("fired after cancel: %v", rec.got())
	}
}

type stubTimer struct{}

func (stubTimer) Stop() bool { return false }

func TestClose(t *testing.T) {
	clock := NewFakeClock(t0)
	rec := &recorder{}
	s := NewWithClock(clock.AfterFunc, rec.fire)

	s.Arm(1, time.Second)
	s.Arm(2, 2*time.Second)
	s.Close()
	clock.Advance(time.Minute)

	if len(rec.got()) != 0 || s.Pending() != 0 {
		t.Errorf("timers survived Close: fired=%v pending=%d", rec.got(), s.Pending())
	}
}

func TestRealClock(t *testing.T) {
	done := make(chan uint64, 1)
	s := New(func(id uint64) { done <- id })

	s.Arm(9, 10*time.Millisecond)
	select {
	case id := <-done:
		if id != 9 {
			t.Errorf("fired id: got %d, want 9", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}
}
