// Package sensors holds the latest field reading reported by the device.
package sensors

import (
	"sync"
	"time"
)

// Reading is one merged sensor snapshot. Values are immutable once returned.
type Reading struct {
	Temp         float64   `json:"temp"`
	Hum          float64   `json:"hum"`
	SoilMoisture float64   `json:"soil"`
	WaterLevel   float64   `json:"level"`
	Rain         float64   `json:"rain"`
	FlowRate     float64   `json:"flow"`
	ObservedAt   time.Time `json:"timestamp"`
}

// Partial carries only the fields present in one inbound message.
type Partial struct {
	Temp         *float64
	Hum          *float64
	SoilMoisture *float64
	WaterLevel   *float64
	Rain         *float64
	FlowRate     *float64
}

// Empty reports whether no field is set.
func (p Partial) Empty() bool {
	return p.Temp == nil && p.Hum == nil && p.SoilMoisture == nil &&
		p.WaterLevel == nil && p.Rain == nil && p.FlowRate == nil
}

// Store owns the current Reading. Updates are serialized; reads return copies.
type Store struct {
	mu      sync.RWMutex
	current Reading
}

// NewStore creates a store seeded with initial.
func NewStore(initial Reading) *Store {
	return &Store{current: initial}
}

// Update merges the fields present in p over the current reading, stamps
// ObservedAt and returns the new snapshot. Absent fields keep their prior value.
func (s *Store) Update(p Partial, now time.Time) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	merge(&next.Temp, p.Temp)
	merge(&next.Hum, p.Hum)
	merge(&next.SoilMoisture, p.SoilMoisture)
	merge(&next.WaterLevel, p.WaterLevel)
	merge(&next.Rain, p.Rain)
	merge(&next.FlowRate, p.FlowRate)
	next.ObservedAt = now

	s.current = next
	return next
}

// Current returns the latest reading.
func (s *Store) Current() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func merge(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
