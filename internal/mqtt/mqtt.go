// Package mqtt is the command channel to the pump device: encoded command
// frames out, raw sensor payloads in, plus controller status events.
package mqtt

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrChannelUnavailable is returned by Publish when the broker link is down.
// The command is not queued.
var ErrChannelUnavailable = errors.New("command channel unavailable")

// Topics names the three topics the controller uses.
type Topics struct {
	Command string // outbound command frames
	Sensor  string // inbound sensor payloads
	Status  string // controller lifecycle events
}

// DefaultTopics returns the topics the device firmware uses.
func DefaultTopics() Topics {
	return Topics{
		Command: "device/command",
		Sensor:  "device/sensor/data",
		Status:  "device/controller/status",
	}
}

// Channel publishes commands and delivers inbound sensor payloads.
type Channel interface {
	// Publish hands an encoded command frame to the transport at QoS 1.
	// Success means the local client accepted it, not that the device acted.
	Publish(frame []byte) error

	// PublishStatus sends a lifecycle event. Events raised while
	// disconnected are buffered and replayed on reconnect.
	PublishStatus(event SystemEvent) error

	// Subscribe registers the handler for sensor payloads.
	Subscribe(handler func(payload []byte)) error

	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Controller lifecycle event names.
const (
	EventStartup   = "STARTUP"
	EventHeartbeat = "HEARTBEAT"
	EventShutdown  = "SHUTDOWN"
	EventOffline   = "OFFLINE"
)

// SystemEvent represents a controller lifecycle event.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // STARTUP, HEARTBEAT, SHUTDOWN, OFFLINE
	Reason     string // e.g. SIGTERM (shutdown only)
	RawPayload []byte // pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// SystemPayload is the payload for events that carry no status snapshot,
// such as the broker-side last will.
type SystemPayload struct {
	Controller SystemPayloadInner `json:"controller"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	payload := SystemPayload{
		Controller: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
