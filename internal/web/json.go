package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/sweeney/smart-watering/internal/broadcast"
	"github.com/sweeney/smart-watering/internal/controller"
	"github.com/sweeney/smart-watering/internal/decision"
	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/status"
)

const maxBodyBytes = 64 << 10

// ErrorJSON is the body of every non-2xx API response.
type ErrorJSON struct {
	Error        string            `json:"error"`
	CurrentState *status.StateJSON `json:"currentState,omitempty"`
	AIEnabled    *bool             `json:"aiEnabled,omitempty"`
}

// HealthJSON is returned by /api/health.
type HealthJSON struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ModeJSON is returned by GET /api/mode and pushed as mode_update.
type ModeJSON struct {
	Mode string `json:"mode"`
}

// StartJSON is returned by POST /api/pump/start. Duration is in milliseconds.
type StartJSON struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Duration     int64  `json:"duration"`
	Mode         string `json:"mode"`
	Published    bool   `json:"published"`
	PublishError string `json:"publishError,omitempty"`
}

// StopJSON is returned by POST /api/pump/stop. RunTime is in milliseconds.
type StopJSON struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RunTime      int64  `json:"runTime"`
	Published    bool   `json:"published"`
	PublishError string `json:"publishError,omitempty"`
}

// SetModeJSON is returned by POST /api/mode.
type SetModeJSON struct {
	Success      bool   `json:"success"`
	Mode         string `json:"mode"`
	Message      string `json:"message"`
	Published    bool   `json:"published"`
	PublishError string `json:"publishError,omitempty"`
}

// ToggleJSON is returned by POST /api/ai/toggle.
type ToggleJSON struct {
	Success   bool   `json:"success"`
	AIEnabled bool   `json:"aiEnabled"`
	Message   string `json:"message"`
}

// VerdictJSON is returned by GET /api/ai/decide.
type VerdictJSON struct {
	Action int    `json:"action"`
	Reason string `json:"reason"`
}

// EventJSON is one message pushed to a WebSocket observer.
type EventJSON struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// clientMessage is a request sent by a WebSocket observer.
type clientMessage struct {
	Type string `json:"type"`
}

type startRequest struct {
	Duration *float64 `json:"duration"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

var errBadRequest = errors.New("bad request")

// formatEvent converts a broadcast message to its wire shape.
func formatEvent(m broadcast.Message) EventJSON {
	var data any
	switch m.Event {
	case broadcast.EventSensors:
		data = status.FormatSensors(m.Sensors)
	case broadcast.EventAI:
		data = status.FormatAIStatus(m.State)
	case broadcast.EventMode:
		data = ModeJSON{Mode: string(m.State.Mode)}
	default:
		data = status.FormatState(m.State)
	}
	return EventJSON{Event: string(m.Event), Data: data}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorJSON{Error: msg})
}

// statusCode maps a controller error to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, logic.ErrAlreadyRunning),
		errors.Is(err, logic.ErrNotRunning),
		errors.Is(err, logic.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, decision.ErrDecisionUnavailable),
		errors.Is(err, controller.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads an optional JSON object into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// durationSeconds validates an optional start duration.
func durationSeconds(d *float64) (uint32, error) {
	if d == nil {
		return 0, nil
	}
	v := *d
	if v < 0 || v != math.Trunc(v) || v > math.MaxUint32 {
		return 0, fmt.Errorf(`%w: "duration" must be a whole number of seconds`, errBadRequest)
	}
	return uint32(v), nil
}

func publishError(res controller.Result) string {
	if res.PublishErr == nil {
		return ""
	}
	return res.PublishErr.Error()
}
