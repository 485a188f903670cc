// Package codec encodes pump commands into the frames understood by the
// irrigation device. It has no state and no side effects.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// Control identifies the action carried by a command.
type Control uint8

const (
	ControlStop    Control = 0
	ControlStart   Control = 1
	ControlSetMode Control = 2
)

// String returns the lowercase name used in logs and metric labels.
func (c Control) String() string {
	switch c {
	case ControlStop:
		return "stop"
	case ControlStart:
		return "start"
	case ControlSetMode:
		return "set_mode"
	default:
		return fmt.Sprintf("control(%d)", uint8(c))
	}
}

// Mode flag values on the wire.
const (
	ModeFlagManual    uint8 = 0
	ModeFlagAutomatic uint8 = 1
)

// Frame layout.
const (
	PayloadSize = 6
	DigestSize  = sha256.Size
	FrameSize   = PayloadSize + DigestSize
)

var (
	// ErrIntegrity is returned when a frame's digest does not match its payload.
	ErrIntegrity = errors.New("codec: frame integrity check failed")

	// ErrFrameSize is returned when a frame is not exactly FrameSize bytes.
	ErrFrameSize = errors.New("codec: invalid frame size")

	// ErrUnknownControl is returned for an intact frame carrying an unknown control or mode flag.
	ErrUnknownControl = errors.New("codec: unknown control value")
)

// Command is the wire-level representation of a pump transition.
// It is derived from a state transition and never stored.
type Command struct {
	Control         Control
	DurationSeconds uint32
	ModeFlag        uint8
}

// Encoder turns a Command into the bytes published on the command topic.
type Encoder interface {
	Encode(cmd Command) ([]byte, error)
	Name() string
}

// Binary is the checksummed 38-byte frame encoder.
type Binary struct{}

// Name returns "binary".
func (Binary) Name() string { return "binary" }

// Encode returns Frame(cmd). It never fails.
func (Binary) Encode(cmd Command) ([]byte, error) {
	return Frame(cmd), nil
}

// Payload returns the 6-byte big-endian command body.
func Payload(cmd Command) [PayloadSize]byte {
	var p [PayloadSize]byte
	p[0] = byte(cmd.Control)
	binary.BigEndian.PutUint32(p[1:5], cmd.DurationSeconds)
	p[5] = cmd.ModeFlag
	return p
}

// Frame returns the 6-byte payload followed by its SHA-256 digest.
func Frame(cmd Command) []byte {
	p := Payload(cmd)
	sum := sha256.Sum256(p[:])

	frame := make([]byte, 0, FrameSize)
	frame = append(frame, p[:]...)
	frame = append(frame, sum[:]...)
	return frame
}

// Decode verifies and parses a frame produced by Frame.
func Decode(frame []byte) (Command, error) {
	if len(frame) != FrameSize {
		return Command{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), FrameSize)
	}

	sum := sha256.Sum256(frame[:PayloadSize])
	for i := 0; i < DigestSize; i++ {
		if sum[i] != frame[PayloadSize+i] {
			return Command{}, ErrIntegrity
		}
	}

	cmd := Command{
		Control:         Control(frame[0]),
		DurationSeconds: binary.BigEndian.Uint32(frame[1:5]),
		ModeFlag:        frame[5],
	}
	if cmd.Control > ControlSetMode || cmd.ModeFlag > ModeFlagAutomatic {
		return Command{}, fmt.Errorf("%w: control=%d mode=%d", ErrUnknownControl, cmd.Control, cmd.ModeFlag)
	}
	return cmd, nil
}
