// Package status provides a thread-safe read model of the controller for
// HTTP handlers, MQTT status events and observers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/sensors"
)

// Config contains controller configuration for display.
type Config struct {
	Broker            string
	TopicCommand      string
	TopicSensor       string
	Encoding          string
	Oracle            string
	DefaultDurationMs int64
	HeartbeatMs       int64
	HTTPAddr          string
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Pump          logic.Snapshot
	Sensors       sensors.Reading
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the latest published state behind an RWMutex.
// The controller loop is the only writer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update stores the pump state machine snapshot.
func (t *Tracker) Update(p logic.Snapshot) {
	t.mu.Lock()
	t.snap.Pump = p
	t.mu.Unlock()
}

// UpdateSensors stores the latest sensor reading.
func (t *Tracker) UpdateSensors(r sensors.Reading) {
	t.mu.Lock()
	t.snap.Sensors = r
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a copy of the controller state. Now is the time of the
// call and the pump's remaining time is recomputed for it.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()

	s.Now = now()
	s.Pump = s.Pump.At(s.Now)
	return s
}

// Current returns the pump and sensor snapshots, in the shape broadcast.Current expects.
func (t *Tracker) Current() (logic.Snapshot, sensors.Reading) {
	s := t.Snapshot()
	return s.Pump, s.Sensors
}
