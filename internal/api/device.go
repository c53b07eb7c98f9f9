package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/controlbridge/internal/relay"
)

// DeviceCallResponse is the body returned by successful device pass-through
// calls. Response holds the device's reply: embedded JSON when the device sent
// JSON, a string otherwise.
type DeviceCallResponse struct {
	Message  string       `json:"message"`
	Target   relay.Target `json:"target"`
	Response any          `json:"response,omitempty"`
}

// DeviceConfigResponse is the body of the device config endpoints.
type DeviceConfigResponse struct {
	Target relay.Target `json:"target"`
}

// requireRelay writes a 503 and reports false when no relay is configured.
func (s *Server) requireRelay(w http.ResponseWriter) bool {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "device relay not configured")
		return false
	}
	return true
}

// handleDeviceTest pings the device and refreshes the reachability flag.
func (s *Server) handleDeviceTest(w http.ResponseWriter, r *http.Request) {
	if !s.requireRelay(w) {
		return
	}
	body, err := s.relay.TestConnectivity(r.Context())
	if err != nil {
		s.logger.Warn("device connectivity test failed", "error", err)
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeviceCallResponse{
		Message:  "device connection successful",
		Target:   s.relay.Target(),
		Response: deviceBody(body),
	})
}

// handleDeviceStatus returns the device's own status document.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireRelay(w) {
		return
	}
	body, err := s.relay.FetchStatus(r.Context())
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeviceCallResponse{
		Message:  "device status fetched",
		Target:   s.relay.Target(),
		Response: deviceBody(body),
	})
}

// handleDeviceCommand posts a raw command to the device. The local state is
// not changed; this is a pass-through for diagnostics.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if !s.requireRelay(w) {
		return
	}

	var cmd relay.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	switch cmd.Type {
	case relay.CommandToggle, relay.CommandButton, relay.CommandSlider:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "type must be one of toggle, button, slider")
		return
	}

	body, err := s.relay.Send(r.Context(), cmd)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeviceCallResponse{
		Message:  "command sent to device",
		Target:   s.relay.Target(),
		Response: deviceBody(body),
	})
}

func (s *Server) handleGetDeviceConfig(w http.ResponseWriter, _ *http.Request) {
	if !s.requireRelay(w) {
		return
	}
	writeJSON(w, http.StatusOK, DeviceConfigResponse{Target: s.relay.Target()})
}

// handleSetDeviceConfig applies a partial target update at runtime.
func (s *Server) handleSetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireRelay(w) {
		return
	}

	var patch relay.TargetPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	target, err := s.relay.SetTarget(patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	s.logger.Info("device target updated", "host", target.Host, "port", target.Port, "timeout_ms", target.TimeoutMS)
	writeJSON(w, http.StatusOK, DeviceConfigResponse{Target: target})
}

// deviceBody embeds a device reply in a response.
func deviceBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
