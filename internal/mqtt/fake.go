package mqtt

import "sync"

// FakeChannel records published frames and status events for test assertions.
// Safe for concurrent use.
type FakeChannel struct {
	mu sync.Mutex

	frames   [][]byte
	statuses []SystemEvent
	handler  func([]byte)

	connected  bool
	publishErr error
	closed     bool

	// gate, when set, holds Publish until it is closed.
	gate    chan struct{}
	waiting int
}

// NewFakeChannel creates a connected FakeChannel.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{connected: true}
}

// Publish records the frame, or fails with ErrChannelUnavailable when disconnected.
// While BlockPublish is in effect it waits for the release first.
func (f *FakeChannel) Publish(frame []byte) error {
	f.mu.Lock()
	gate := f.gate
	if gate != nil {
		f.waiting++
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
		f.mu.Lock()
		f.waiting--
		f.mu.Unlock()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return ErrChannelUnavailable
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

// PublishStatus records the event regardless of connection state.
func (f *FakeChannel) PublishStatus(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, event)
	return nil
}

// Subscribe stores the handler for Deliver.
func (f *FakeChannel) Subscribe(handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

// Deliver simulates an inbound sensor payload. It reports whether a handler was registered.
func (f *FakeChannel) Deliver(payload []byte) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// IsConnected reports the simulated link state.
func (f *FakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected changes the simulated link state.
func (f *FakeChannel) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// SetPublishError makes later Publish calls fail with err (nil clears it).
func (f *FakeChannel) SetPublishError(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

// BlockPublish makes later Publish calls wait until release is called.
func (f *FakeChannel) BlockPublish() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Waiting reports how many Publish calls are held by BlockPublish.
func (f *FakeChannel) Waiting() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting
}

// Frames returns a copy of the published frames.
func (f *FakeChannel) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

// Statuses returns a copy of the published status events.
func (f *FakeChannel) Statuses() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.statuses...)
}

// Close marks the channel as closed.
func (f *FakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
