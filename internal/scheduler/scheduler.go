// Package scheduler arms and cancels per-activation auto-stop timers.
package scheduler

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyArmed is returned when an activation already has a pending timer.
var ErrAlreadyArmed = errors.New("auto-stop already armed for activation")

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d. time.AfterFunc satisfies it
// through realAfter.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfter(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler keeps at most one timer per activation ID. When a timer expires,
// fire is called with the activation ID from the timer's goroutine; the
// receiver must re-check that the activation is still running.
type Scheduler struct {
	mu     sync.Mutex
	after  AfterFunc
	fire   func(activationID uint64)
	timers map[uint64]Timer
}

// New creates a Scheduler backed by the real clock.
func New(fire func(activationID uint64)) *Scheduler {
	return NewWithClock(realAfter, fire)
}

// NewWithClock creates a Scheduler using after to create timers.
func NewWithClock(after AfterFunc, fire func(activationID uint64)) *Scheduler {
	return &Scheduler{
		after:  after,
		fire:   fire,
		timers: make(map[uint64]Timer),
	}
}

// Arm schedules an auto-stop for activationID after d.
func (s *Scheduler) Arm(activationID uint64, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[activationID]; ok {
		return ErrAlreadyArmed
	}
	s.timers[activationID] = s.after(d, func() { s.expire(activationID) })
	return nil
}

// Cancel stops the timer for activationID. It reports whether a pending timer
// was found. A timer that already fired but whose callback has not yet run is
// suppressed as well.
func (s *Scheduler) Cancel(activationID uint64) bool {
	s.mu.Lock()
	t, ok := s.timers[activationID]
	delete(s.timers, activationID)
	s.mu.Unlock()

	if ok {
		t.Stop()
	}
	return ok
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels every pending timer.
func (s *Scheduler) Close() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[uint64]Timer)
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (s *Scheduler) expire(activationID uint64) {
	s.mu.Lock()
	_, ok := s.timers[activationID]
	delete(s.timers, activationID)
	s.mu.Unlock()

	// Cancelled between expiry and this callback.
	if !ok {
		return
	}
	s.fire(activationID)
}
