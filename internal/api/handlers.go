package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/fogctl/internal/engine"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/mode"
	"codeberg.org/mutker/fogctl/internal/telemetry"
)

const (
	defaultActor        = "user"
	defaultHistoryHours = 1
	defaultActionLimit  = 50
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}

	mux.HandleFunc("POST /api/v1/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/v1/fan-control/{device_id}", s.handleFanControl)
	mux.HandleFunc("GET /api/v1/env-control/{device_id}", s.handleEnvControl)

	mux.HandleFunc("GET /api/v1/current-state", s.handleCurrentState)
	mux.HandleFunc("GET /api/v1/environmental/current", s.handleEnvironment)
	mux.HandleFunc("GET /api/v1/fan-statistics", s.handleFanStatistics)
	mux.HandleFunc("GET /api/v1/devices", s.handleDevices)

	mux.HandleFunc("GET /api/v1/system-mode", s.handleGetMode)
	mux.HandleFunc("POST /api/v1/system-mode", s.handleSetMode)
	mux.HandleFunc("POST /api/v1/fan-control/manual", s.handleManualFans)
	mux.HandleFunc("POST /api/v1/environmental/control", s.handleManualActuators)

	mux.HandleFunc("GET /api/v1/history", s.handleGPUHistory)
	mux.HandleFunc("GET /api/v1/fan-history", s.handleFanHistory)
	mux.HandleFunc("GET /api/v1/environmental/history", s.handleEnvironmentHistory)
	mux.HandleFunc("GET /api/v1/environmental/actuator-history", s.handleActuatorHistory)
	mux.HandleFunc("GET /api/v1/alerts/history", s.handleAlertHistory)

	mux.HandleFunc("GET /api/v1/trends/advanced", s.handleTrends)
	mux.HandleFunc("GET /api/v1/trends/advanced/history", s.handleTrendHistory)
	mux.HandleFunc("POST /api/v1/trends/advanced/reset", s.handleResetTrends)

	mux.HandleFunc("GET /api/v1/system/profile", s.handleActiveProfile)
	mux.HandleFunc("GET /api/v1/system/profiles", s.handleProfiles)
	mux.HandleFunc("POST /api/v1/admin/profile", s.handleSelectProfile)

	mux.HandleFunc("GET /api/v1/user-actions", s.handleActions)

	return mux
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    errors.ErrorCode `json:"kind"`
	Message string           `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)

	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("error_code", string(code)).Msg("Request failed")
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Kind: code, Message: err.Error()}})
}

// decode reads a small JSON request body into v. An empty body leaves v
// untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New().WithData(errors.ErrInvalidArgument, fmt.Sprintf("%s must be an integer, got %q", name, raw))
	}

	return v, nil
}

func actorOr(actor string) string {
	if actor == "" {
		return defaultActor
	}

	return actor
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	p, err := telemetry.Decode(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.engine.Process(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type fanControlResponse struct {
	DeviceID string              `json:"device_id"`
	Commands []engine.FanCommand `json:"commands"`
}

func (s *Server) handleFanControl(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	cmds, ok, err := s.engine.PopCommands(deviceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, fanControlResponse{DeviceID: deviceID, Commands: cmds})
}

func (s *Server) handleEnvControl(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.ActuatorCommand(r.PathValue("device_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCurrentState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CurrentState())
}

func (s *Server) handleEnvironment(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Environment())
}

func (s *Server) handleFanStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fans": s.engine.FanStatistics()})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.engine.Devices()})
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Mode())
}

type setModeRequest struct {
	Mode      string `json:"mode"`
	DeviceID  string `json:"device_id"`
	ChangedBy string `json:"changed_by"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	m, err := mode.Parse(req.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}

	state, err := s.engine.SetMode(r.Context(), m, actorOr(req.ChangedBy))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

type manualFansRequest struct {
	DeviceID  string         `json:"device_id"`
	Mode      string         `json:"mode"`
	Commands  []mode.Command `json:"commands"`
	ChangedBy string         `json:"changed_by"`
}

func (s *Server) handleManualFans(w http.ResponseWriter, r *http.Request) {
	var req manualFansRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.engine.SubmitManualCommands(r.Context(), req.Commands, actorOr(req.ChangedBy))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type manualActuatorRequest struct {
	environment.ActuatorState
	ChangedBy string `json:"changed_by"`
}

func (s *Server) handleManualActuators(w http.ResponseWriter, r *http.Request) {
	var req manualActuatorRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	state, err := s.engine.SubmitActuators(r.Context(), req.ActuatorState, actorOr(req.ChangedBy))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (s *Server) hours(w http.ResponseWriter, r *http.Request) (int, bool) {
	hours, err := queryInt(r, "hours", defaultHistoryHours)
	if err != nil {
		s.writeError(w, err)
		return 0, false
	}

	return hours, true
}

func (s *Server) handleGPUHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.hours(w, r)
	if !ok {
		return
	}

	h, err := s.engine.GPUHistory(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleFanHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.hours(w, r)
	if !ok {
		return
	}

	h, err := s.engine.FanHistory(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleEnvironmentHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.hours(w, r)
	if !ok {
		return
	}

	h, err := s.engine.EnvironmentHistory(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleActuatorHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.hours(w, r)
	if !ok {
		return
	}

	h, err := s.engine.ActuatorHistory(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.hours(w, r)
	if !ok {
		return
	}

	h, err := s.engine.AlertHistory(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleTrends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Trends())
}

func (s *Server) handleTrendHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.hours(w, r)
	if !ok {
		return
	}

	h, err := s.engine.TrendHistory(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

type actorRequest struct {
	ChangedBy string `json:"changed_by"`
}

func (s *Server) handleResetTrends(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.engine.ResetTrends(r.Context(), actorOr(req.ChangedBy)))
}

func (s *Server) handleActiveProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ActiveProfile())
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   s.engine.ActiveProfile().ID,
		"profiles": s.engine.Profiles(),
	})
}

type selectProfileRequest struct {
	ProfileID *int   `json:"profile_id"`
	ChangedBy string `json:"changed_by"`
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	var req selectProfileRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if req.ProfileID == nil {
		s.writeError(w, errors.New().WithData(errors.ErrInvalidArgument, "profile_id is required"))
		return
	}

	p, err := s.engine.SelectProfile(r.Context(), *req.ProfileID, actorOr(req.ChangedBy))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile":      p,
		"trends_reset": true,
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultActionLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	h, err := s.engine.Actions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h)
}
