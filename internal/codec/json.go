package codec

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSONCommand is the structured command variant accepted by older firmware.
type JSONCommand struct {
	Command    string `json:"command"`
	Timestamp  int64  `json:"timestamp"`
	Duration   uint32 `json:"duration,omitempty"`
	DurationMs uint64 `json:"durationMs,omitempty"`
	Mode       string `json:"mode"`
}

// JSON encodes commands as JSONCommand documents.
type JSON struct {
	// Now stamps each command; defaults to time.Now.
	Now func() time.Time
}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Encode marshals cmd as a JSONCommand.
func (j JSON) Encode(cmd Command) ([]byte, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	var name string
	switch cmd.Control {
	case ControlStart:
		name = "pump_start"
	case ControlStop:
		name = "pump_stop"
	case ControlSetMode:
		name = "set_mode"
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownControl, cmd.Control)
	}

	doc := JSONCommand{
		Command:    name,
		Timestamp:  now().UnixMilli(),
		Duration:   cmd.DurationSeconds,
		DurationMs: uint64(cmd.DurationSeconds) * 1000,
		Mode:       ModeName(cmd.ModeFlag),
	}
	return json.Marshal(doc)
}

// ModeName returns "automatic" or "manual" for a wire mode flag.
func ModeName(flag uint8) string {
	if flag == ModeFlagAutomatic {
		return "automatic"
	}
	return "manual"
}

// NewEncoder returns the encoder registered under name ("binary" or "json").
func NewEncoder(name string) (Encoder, error) {
	switch name {
	case "", "binary":
		return Binary{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown encoding %q", name)
	}
}
