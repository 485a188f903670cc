package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/status"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthJSON{Status: "ok", Message: "Smart Watering Backend is running"})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.FormatSensors(s.ctrl.Sensors()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.FormatState(s.ctrl.State()))
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModeJSON{Mode: string(s.ctrl.State().Mode)})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.ctrl.SetMode(r.Context(), logic.Mode(req.Mode))
	if errors.Is(err, logic.ErrInvalidMode) {
		writeError(w, http.StatusBadRequest, `Invalid mode. Must be "automatic" or "manual"`)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SetModeJSON{
		Success:      true,
		Mode:         string(res.State.Mode),
		Message:      fmt.Sprintf("Mode set to %s", res.State.Mode),
		Published:    res.Published,
		PublishError: publishError(res),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	secs, err := durationSeconds(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.ctrl.Start(r.Context(), secs)
	if errors.Is(err, logic.ErrAlreadyRunning) {
		s.conflict(w, "Pump is already running")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var planned int64
	if res.State.Activation != nil {
		planned = res.State.Activation.PlannedDuration.Milliseconds()
	}
	writeJSON(w, http.StatusOK, StartJSON{
		Success:      true,
		Message:      "Pump started",
		Duration:     planned,
		Mode:         string(res.State.Mode),
		Published:    res.Published,
		PublishError: publishError(res),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.Stop(r.Context())
	if errors.Is(err, logic.ErrNotRunning) {
		s.conflict(w, "Pump is not running")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StopJSON{
		Success:      true,
		Message:      "Pump stopped",
		RunTime:      res.RunTime.Milliseconds(),
		Published:    res.Published,
		PublishError: publishError(res),
	})
}

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.FormatAIStatus(s.ctrl.State()))
}

func (s *Server) handleAIToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `Invalid parameter. "enabled" must be a boolean`)
		return
	}

	snap, err := s.ctrl.SetAIEnabled(r.Context(), *req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	msg := "AI disabled"
	if snap.AIEnabled {
		msg = "AI enabled"
	}
	writeJSON(w, http.StatusOK, ToggleJSON{Success: true, AIEnabled: snap.AIEnabled, Message: msg})
}

// handleDecide consults the oracle about the current reading. The verdict is
// recorded but never acted on.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	v, err := s.ctrl.Decide(r.Context())
	if err != nil {
		enabled := s.ctrl.State().AIEnabled
		writeJSON(w, statusCode(err), ErrorJSON{
			Error:     "Failed to get AI decision: " + err.Error(),
			AIEnabled: &enabled,
		})
		return
	}
	writeJSON(w, http.StatusOK, VerdictJSON{Action: int(v.Action), Reason: v.Reason})
}

// conflict rejects a pump command that does not fit the current state.
func (s *Server) conflict(w http.ResponseWriter, msg string) {
	state := status.FormatState(s.ctrl.State())
	writeJSON(w, http.StatusBadRequest, ErrorJSON{Error: msg, CurrentState: &state})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		log.Printf("web: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, code, err.Error())
}
