package logic

import (
	"fmt"
	"time"

	"github.com/sweeney/smart-watering/internal/codec"
)

// DefaultDuration is used when a start request does not name a duration.
const DefaultDuration = 10 * time.Second

// Transition describes the side effects of an applied state change.
// The caller publishes Command, arms or cancels timers and broadcasts.
type Transition struct {
	Kind    CommandKind
	At      time.Time
	Command codec.Command

	// Arm is set when an auto-stop must be scheduled.
	Arm *Arm

	// CancelID is the activation whose auto-stop should be cancelled (0 = none).
	CancelID uint64

	// RunTime is how long the pump ran, for stop transitions.
	RunTime time.Duration
}

// Config holds the machine's construction parameters.
type Config struct {
	DefaultDuration time.Duration
	AIEnabled       bool
}

// Machine owns SystemState and is the only writer of its pump and mode fields.
// Not safe for concurrent use: the controller serializes every call.
type Machine struct {
	state           SystemState
	defaultDuration time.Duration
	counts          TransitionCounts
	nextID          uint64

	// epoch advances on every applied transition and AI toggle. A verdict is
	// only applied against the epoch its consultation started in.
	epoch uint64
}

// NewMachine creates an idle machine in automatic mode.
func NewMachine(cfg Config) *Machine {
	d := cfg.DefaultDuration
	if d < time.Second {
		d = DefaultDuration
	}
	return &Machine{
		state: SystemState{
			Mode:      ModeAutomatic,
			AIEnabled: cfg.AIEnabled,
		},
		defaultDuration: d,
	}
}

// Start turns the pump on for durationSeconds (0 selects the default duration).
// src must be SourceUser or SourceOracle.
func (m *Machine) Start(now time.Time, durationSeconds uint32, src Source) (Transition, error) {
	if m.state.PumpOn {
		return Transition{}, ErrAlreadyRunning
	}

	kind := KindStart
	switch src {
	case SourceUser:
	case SourceOracle:
		kind = KindAIStart
	default:
		return Transition{}, fmt.Errorf("logic: source %d cannot start the pump", src)
	}

	if durationSeconds == 0 {
		durationSeconds = uint32(m.defaultDuration / time.Second)
	}
	planned := time.Duration(durationSeconds) * time.Second

	m.nextID++
	act := &Activation{
		ID:              m.nextID,
		StartedAt:       now,
		PlannedDuration: planned,
	}
	m.state.PumpOn = true
	m.state.Activation = act
	m.epoch++
	m.state.LastCommand = &LastCommand{Kind: kind, At: now}

	m.counts.Starts++
	if kind == KindAIStart {
		m.counts.AIStarts++
	}

	tr := Transition{
		Kind: kind,
		At:   now,
		Command: codec.Command{
			Control:         codec.ControlStart,
			DurationSeconds: durationSeconds,
			ModeFlag:        m.modeFlag(),
		},
	}
	// Only automatic-mode activations are auto-stopped.
	if m.state.Mode == ModeAutomatic {
		tr.Arm = &Arm{ActivationID: act.ID, After: planned}
	}
	return tr, nil
}

// Stop turns the pump off. src must be SourceUser or SourceTimer.
func (m *Machine) Stop(now time.Time, src Source) (Transition, error) {
	if !m.state.PumpOn {
		return Transition{}, ErrNotRunning
	}

	kind := KindStop
	switch src {
	case SourceUser:
	case SourceTimer:
		kind = KindAutoStop
	default:
		return Transition{}, fmt.Errorf("logic: source %d cannot stop the pump", src)
	}

	act := m.state.Activation
	m.state.PumpOn = false
	m.state.Activation = nil
	m.epoch++
	m.state.LastCommand = &LastCommand{Kind: kind, At: now}

	m.counts.Stops++
	if kind == KindAutoStop {
		m.counts.AutoStops++
	}

	return Transition{
		Kind: kind,
		At:   now,
		Command: codec.Command{
			Control:  codec.ControlStop,
			ModeFlag: m.modeFlag(),
		},
		CancelID: act.ID,
		RunTime:  now.Sub(act.StartedAt),
	}, nil
}

// AutoStop applies an expired auto-stop timer. It returns ok=false, and changes
// nothing, when the activation it was armed for is no longer running.
func (m *Machine) AutoStop(now time.Time, activationID uint64) (Transition, bool) {
	if !m.state.PumpOn || m.state.Activation == nil || m.state.Activation.ID != activationID {
		return Transition{}, false
	}
	tr, err := m.Stop(now, SourceTimer)
	if err != nil {
		return Transition{}, false
	}
	return tr, true
}

// SetMode switches mode. An in-progress activation is left untouched.
func (m *Machine) SetMode(now time.Time, mode Mode) (Transition, error) {
	if mode != ModeAutomatic && mode != ModeManual {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	m.state.Mode = mode
	m.state.LastCommand = &LastCommand{Kind: KindSetMode, At: now}
	m.epoch++

	return Transition{
		Kind: KindSetMode,
		At:   now,
		Command: codec.Command{
			Control:  codec.ControlSetMode,
			ModeFlag: m.modeFlag(),
		},
	}, nil
}

// SetAIEnabled toggles oracle consultation and reports whether it changed.
func (m *Machine) SetAIEnabled(enabled bool) bool {
	changed := m.state.AIEnabled != enabled
	m.state.AIEnabled = enabled
	if changed {
		m.epoch++
	}
	return changed
}

// RecordVerdict stores the most recent oracle verdict for observability.
func (m *Machine) RecordVerdict(v Verdict) {
	m.state.LastVerdict = &v
}

// ShouldConsultOracle reports whether a fresh reading should be sent to the oracle.
func (m *Machine) ShouldConsultOracle() bool {
	return m.state.Mode == ModeAutomatic && m.state.AIEnabled && !m.state.PumpOn
}

// Epoch identifies the current state for a consultation. Capture it when the
// oracle is asked and pass it back to ApplyVerdict.
func (m *Machine) Epoch() uint64 {
	return m.epoch
}

// ApplyVerdict starts the pump for a Start verdict if the guard still holds
// and nothing has changed since epoch. A verdict that arrives after any pump
// transition, mode change or AI toggle is discarded, even if the state has
// since returned to what it was.
func (m *Machine) ApplyVerdict(now time.Time, v Verdict, epoch uint64) (Transition, bool) {
	if v.Action != ActionStart || epoch != m.epoch || !m.ShouldConsultOracle() {
		return Transition{}, false
	}
	tr, err := m.Start(now, 0, SourceOracle)
	if err != nil {
		return Transition{}, false
	}
	return tr, true
}

// ResyncCommand returns a command restating the believed pump state,
// used after the broker link recovers.
func (m *Machine) ResyncCommand(now time.Time) codec.Command {
	if !m.state.PumpOn {
		return codec.Command{Control: codec.ControlStop, ModeFlag: m.modeFlag()}
	}
	rem := m.remaining(now)
	secs := uint32((rem + time.Second - 1) / time.Second)
	if secs == 0 {
		// Overdue manual activation: a zero duration is not a valid start.
		secs = 1
	}
	return codec.Command{
		Control:         codec.ControlStart,
		DurationSeconds: secs,
		ModeFlag:        m.modeFlag(),
	}
}

// State returns a deep copy of the current SystemState.
func (m *Machine) State() SystemState {
	return m.state.clone()
}

// Snapshot returns a copy of the state with the remaining run time computed at now.
func (m *Machine) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		SystemState: m.state.clone(),
		Now:         now,
		Remaining:   m.remaining(now),
		Counts:      m.counts,
	}
}

// remaining is max(0, planned - (now - startedAt)) while running, else 0.
func (m *Machine) remaining(now time.Time) time.Duration {
	act := m.state.Activation
	if !m.state.PumpOn || act == nil {
		return 0
	}
	rem := act.PlannedDuration - now.Sub(act.StartedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

func (m *Machine) modeFlag() uint8 {
	if m.state.Mode == ModeAutomatic {
		return codec.ModeFlagAutomatic
	}
	return codec.ModeFlagManual
}
