package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/sensors"
)

// StateJSON is the pump state snapshot returned by /api/status and pushed to
// observers. Times are Unix milliseconds; durations are milliseconds.
type StateJSON struct {
	PumpOn          bool    `json:"pumpOn"`
	Mode            string  `json:"mode"`
	PumpStartTime   *int64  `json:"pumpStartTime"`
	PumpDuration    int64   `json:"pumpDuration"`
	RemainingTime   int64   `json:"remainingTime"`
	LastCommand     *string `json:"lastCommand"`
	LastCommandTime *int64  `json:"lastCommandTime"`
	AIEnabled       bool    `json:"aiEnabled"`
	LastAIDecision  *int    `json:"lastAIDecision"`
	LastAIReason    *string `json:"lastAIReason"`
}

// SensorsJSON is the sensor snapshot returned by /api/sensors.
type SensorsJSON struct {
	Temp      float64 `json:"temp"`
	Hum       float64 `json:"hum"`
	Soil      float64 `json:"soil"`
	Level     float64 `json:"level"`
	Rain      float64 `json:"rain"`
	Flow      float64 `json:"flow"`
	Timestamp int64   `json:"timestamp"`
}

// AIStatusJSON is returned by /api/ai/status and pushed as ai_status_update.
type AIStatusJSON struct {
	AIEnabled    bool    `json:"aiEnabled"`
	LastDecision *int    `json:"lastDecision"`
	LastReason   *string `json:"lastReason"`
}

// FormatState converts a pump snapshot to its JSON shape.
func FormatState(p logic.Snapshot) StateJSON {
	out := StateJSON{
		PumpOn:        p.PumpOn,
		Mode:          string(p.Mode),
		RemainingTime: p.Remaining.Milliseconds(),
		AIEnabled:     p.AIEnabled,
	}
	if p.Activation != nil {
		out.PumpStartTime = millis(p.Activation.StartedAt)
		out.PumpDuration = p.Activation.PlannedDuration.Milliseconds()
	}
	if p.LastCommand != nil {
		kind := string(p.LastCommand.Kind)
		out.LastCommand = &kind
		out.LastCommandTime = millis(p.LastCommand.At)
	}
	if p.LastVerdict != nil {
		action := int(p.LastVerdict.Action)
		reason := p.LastVerdict.Reason
		out.LastAIDecision = &action
		out.LastAIReason = &reason
	}
	return out
}

// FormatSensors converts a reading to its JSON shape.
func FormatSensors(r sensors.Reading) SensorsJSON {
	out := SensorsJSON{
		Temp:  r.Temp,
		Hum:   r.Hum,
		Soil:  r.SoilMoisture,
		Level: r.WaterLevel,
		Rain:  r.Rain,
		Flow:  r.FlowRate,
	}
	if !r.ObservedAt.IsZero() {
		out.Timestamp = r.ObservedAt.UnixMilli()
	}
	return out
}

// FormatAIStatus extracts the AI fields of a pump snapshot.
func FormatAIStatus(p logic.Snapshot) AIStatusJSON {
	st := FormatState(p)
	return AIStatusJSON{
		AIEnabled:    st.AIEnabled,
		LastDecision: st.LastAIDecision,
		LastReason:   st.LastAIReason,
	}
}

func millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

// StatusJSON is the top-level JSON envelope for the controller status.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Pump          StateJSON   `json:"pump"`
	Sensors       SensorsJSON `json:"sensors"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Counts        CountsJSON  `json:"transition_counts"`
	Config        ConfigJSON  `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of transition counts.
type CountsJSON struct {
	Starts    int `json:"starts"`
	Stops     int `json:"stops"`
	AutoStops int `json:"auto_stops"`
	AIStarts  int `json:"ai_starts"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	Broker            string `json:"broker"`
	TopicCommand      string `json:"topic_command"`
	TopicSensor       string `json:"topic_sensor"`
	Encoding          string `json:"encoding"`
	Oracle            string `json:"oracle"`
	DefaultDurationMs int64  `json:"default_duration_ms"`
	HeartbeatMs       int64  `json:"heartbeat_ms"`
	HTTPAddr          string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Pump.Counts
	return StatusInner{
		Pump:          FormatState(snap.Pump),
		Sensors:       FormatSensors(snap.Sensors),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Starts:    c.Starts,
			Stops:     c.Stops,
			AutoStops: c.AutoStops,
			AIStarts:  c.AIStarts,
		},
		Config: ConfigJSON(snap.Config),
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT lifecycle event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
