// Package logic contains the pure pump lifecycle state machine.
// This package has NO I/O (no MQTT, timers, HTTP or OS access).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlreadyRunning is returned when Start is requested while the pump runs.
	ErrAlreadyRunning = errors.New("pump is already running")

	// ErrNotRunning is returned when Stop is requested while the pump is idle.
	ErrNotRunning = errors.New("pump is not running")

	// ErrInvalidMode is returned for a mode value other than automatic or manual.
	ErrInvalidMode = errors.New(`invalid mode, must be "automatic" or "manual"`)
)

// Mode selects whether activations are auto-stopped and whether the oracle is consulted.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// ParseMode validates a mode string. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAutomatic:
		return ModeAutomatic, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// CommandKind records which transition last changed the pump.
type CommandKind string

const (
	KindStart    CommandKind = "start"
	KindStop     CommandKind = "stop"
	KindAutoStop CommandKind = "auto_stop"
	KindAIStart  CommandKind = "ai_start"
	KindSetMode  CommandKind = "set_mode"
)

// Source identifies who asked for a transition.
type Source int

const (
	SourceUser   Source = iota // explicit human request
	SourceOracle               // accepted oracle verdict
	SourceTimer                // auto-stop expiry
)

// Action is the oracle's recommendation.
type Action int

const (
	ActionNoOp  Action = 0
	ActionStart Action = 1
)

// Verdict is the oracle's answer for one sensor snapshot.
type Verdict struct {
	Action Action
	Reason string
}

// Activation is one contiguous interval during which the pump is on.
// PlannedDuration never changes for the lifetime of an activation.
type Activation struct {
	ID              uint64
	StartedAt       time.Time
	PlannedDuration time.Duration
}

// LastCommand is the most recent transition applied.
type LastCommand struct {
	Kind CommandKind
	At   time.Time
}

// TransitionCounts tracks the number of each transition since startup.
type TransitionCounts struct {
	Starts    int
	Stops     int
	AutoStops int
	AIStarts  int
}

// SystemState is the single source of truth for the actuator.
// Activation is non-nil iff PumpOn.
type SystemState struct {
	PumpOn      bool
	Mode        Mode
	Activation  *Activation
	LastCommand *LastCommand
	AIEnabled   bool
	LastVerdict *Verdict
}

// clone returns a deep copy so callers cannot reach the machine's pointers.
func (s SystemState) clone() SystemState {
	out := s
	if s.Activation != nil {
		a := *s.Activation
		out.Activation = &a
	}
	if s.LastCommand != nil {
		c := *s.LastCommand
		out.LastCommand = &c
	}
	if s.LastVerdict != nil {
		v := *s.LastVerdict
		out.LastVerdict = &v
	}
	return out
}

// Snapshot is a point-in-time view of the machine, safe to share.
type Snapshot struct {
	SystemState
	Now       time.Time
	Remaining time.Duration
	Counts    TransitionCounts
}

// Arm asks the caller to schedule an auto-stop for an activation.
type Arm struct {
	ActivationID uint64
	After        time.Duration
}

// At returns a copy of s with Now and Remaining recomputed for now.
func (s Snapshot) At(now time.Time) Snapshot {
	s.Now = now
	s.Remaining = 0
	if s.PumpOn && s.Activation != nil {
		rem := s.Activation.PlannedDuration - now.Sub(s.Activation.StartedAt)
		if rem > 0 {
			s.Remaining = rem
		}
	}
	return s
}
