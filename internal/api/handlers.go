package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/matchpulse/matchpulse/internal/metrics"
	"github.com/matchpulse/matchpulse/internal/session"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

type registerRequest struct {
	DeviceID         string `json:"device_id"`
	UserID           string `json:"user_id"`
	LeagueID         string `json:"league_id"`
	PushToken        string `json:"push_token"`
	PushToStartToken string `json:"push_to_start_token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.LeagueID == "" {
		writeError(w, http.StatusBadRequest, "user_id and league_id are required")
		return
	}
	// Older clients identify themselves by user only.
	if req.DeviceID == "" {
		req.DeviceID = req.UserID
	}

	device := s.registry.RegisterDevice(session.Device{
		ID:               req.DeviceID,
		UserID:           req.UserID,
		LeagueID:         req.LeagueID,
		PushToken:        req.PushToken,
		PushToStartToken: req.PushToStartToken,
	})

	s.logger.Info().
		Str("device_id", device.ID).
		Str("user_id", device.UserID).
		Str("league_id", device.LeagueID).
		Msg("Device registered")

	writeJSON(w, http.StatusOK, device)
}

type heartbeatRequest struct {
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	PushToken string `json:"push_token"`
}

type heartbeatResponse struct {
	Outcome session.ReconcileOutcome `json:"outcome"`
	Session *session.Session         `json:"session,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	result, err := s.registry.Reconcile(req.DeviceID, req.SessionID, req.Active, req.PushToken)
	if err != nil {
		if errors.Is(err, session.ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "Device not registered")
			return
		}
		s.logger.Error().Err(err).Str("device_id", req.DeviceID).Msg("Heartbeat reconciliation failed")
		writeError(w, http.StatusInternalServerError, "Failed to reconcile heartbeat")
		return
	}

	if result.Outcome == session.OutcomeRetired {
		metrics.SessionRetirements.WithLabelValues(string(session.RetireHeartbeat)).Inc()
	}

	writeJSON(w, http.StatusOK, heartbeatResponse{
		Outcome: result.Outcome,
		Session: result.Session,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

type tokenRequest struct {
	PushToken string `json:"push_token"`
}

func (s *Server) handleSupplyToken(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "push_token is required")
		return
	}

	updated, err := s.registry.SupplyToken(id, req.PushToken)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to supply token")
		writeError(w, http.StatusInternalServerError, "Failed to supply token")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	retired, ok := s.lifecycle.StopSession(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, retired)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	device, ok := s.registry.Device(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}

	resp := map[string]interface{}{"device": device}
	if live, ok := s.registry.ForDevice(id); ok {
		resp["session"] = live
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	retired, ok := s.lifecycle.StopDevice(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "Device has no live session")
		return
	}

	writeJSON(w, http.StatusOK, retired)
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	games := s.lifecycle.Games()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"week":  s.lifecycle.Week(),
		"games": games,
		"count": len(games),
	})
}

// handleRefresh re-runs the reference-data refresh on demand. The refresh
// fetches state, the player directory, and the game slate as one unit, so
// the games and players routes share this handler.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.RefreshReferenceData(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("On-demand reference refresh failed")
		writeError(w, http.StatusBadGateway, "Reference refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"week":   s.lifecycle.Week(),
		"games":  len(s.lifecycle.Games()),
	})
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	week := s.lifecycle.Week()
	if v := r.URL.Query().Get("week"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "week must be a positive integer")
			return
		}
		week = parsed
	}
	if week == 0 {
		writeError(w, http.StatusServiceUnavailable, "Current week not yet known")
		return
	}

	ids := r.URL.Query().Get("ids")
	if ids == "" {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	playerIDs := make(map[string]struct{})
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			playerIDs[id] = struct{}{}
		}
	}

	stats, err := s.stats.GetConsolidatedPlayerStats(r.Context(), week, playerIDs)
	if err != nil {
		s.logger.Error().Err(err).Int("week", week).Msg("Failed to fetch player stats")
		writeError(w, http.StatusBadGateway, "Upstream stats fetch failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"week":  week,
		"stats": stats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, pending := s.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"active_sessions":  active,
		"pending_sessions": pending,
	})
}
