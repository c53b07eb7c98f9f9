package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/controlbridge/internal/state"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State     state.DeviceState `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
}

// SensorsResponse is the body of GET /sensors.
type SensorsResponse struct {
	Gauges          [state.NumGauges]float64 `json:"gauges"`
	Variables       state.Variables          `json:"variables"`
	Lamps           [state.NumLamps]bool     `json:"lamps"`
	DeviceReachable bool                     `json:"device_reachable"`
	Timestamp       time.Time                `json:"timestamp"`
}

// ControlResponse is the body returned by the control endpoints.
type ControlResponse struct {
	Message string            `json:"message"`
	State   state.DeviceState `json:"state"`
}

// controlRequest is the body of toggle and slider requests.
type controlRequest struct {
	Value any `json:"value"`
}

// handleStatus returns the full device state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		State:     s.store.Snapshot(),
		Timestamp: time.Now().UTC(),
	})
}

// handleSensors returns the sensor-side fields of the device state.
func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, SensorsResponse{
		Gauges:          snap.Gauges,
		Variables:       snap.Variables,
		Lamps:           snap.Lamps,
		DeviceReachable: snap.DeviceReachable,
		Timestamp:       time.Now().UTC(),
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.applyControl(w, r, state.ActionToggle, true)
}

func (s *Server) handleButton(w http.ResponseWriter, r *http.Request) {
	s.applyControl(w, r, state.ActionButton, false)
}

func (s *Server) handleSlider(w http.ResponseWriter, r *http.Request) {
	s.applyControl(w, r, state.ActionSlider, true)
}

// handleReset restores all controls to their defaults.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.ResetAll()
	writeJSON(w, http.StatusOK, ControlResponse{
		Message: "all controls reset to default values",
		State:   snap,
	})
}

// applyControl parses the {id} path parameter and optional value body and
// applies the action to the store.
func (s *Server) applyControl(w http.ResponseWriter, r *http.Request, kind state.ActionKind, needsValue bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "id must be an integer")
		return
	}

	action := state.Action{Kind: kind, ID: id}
	if needsValue {
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				writeBadRequest(w, "request body is required")
				return
			}
			writeBadRequest(w, "invalid JSON body")
			return
		}
		action.Value = req.Value
	}

	snap, err := s.store.Apply(action)
	if err != nil {
		writeStateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ControlResponse{
		Message: controlMessage(kind, id, snap),
		State:   snap,
	})
}

// controlMessage describes an applied action. Controls are numbered from 1
// for people.
func controlMessage(kind state.ActionKind, id int, snap state.DeviceState) string {
	n := strconv.Itoa(id + 1)
	switch kind {
	case state.ActionToggle:
		return "toggle " + n + " set to " + strconv.FormatBool(snap.Toggles[id])
	case state.ActionButton:
		return "button " + n + " pressed"
	case state.ActionSlider:
		return "slider " + n + " set to " + strconv.Itoa(snap.Sliders[id]) + "%"
	default:
		return string(kind) + " applied"
	}
}
