package gpio

import "sync"

// FakeIndicator records every value driven. Safe for concurrent use.
type FakeIndicator struct {
	mu      sync.Mutex
	history []bool
	closed  bool

	// SetError, if set, is returned by Set and the value is not recorded.
	SetError error
}

// NewFakeIndicator creates a FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records on.
func (f *FakeIndicator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.history = append(f.history, on)
	return nil
}

// History returns every recorded value, oldest first.
func (f *FakeIndicator) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.history...)
}

// On reports the last recorded value.
func (f *FakeIndicator) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history) > 0 && f.history[len(f.history)-1]
}

// Close marks the indicator closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeIndicator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
