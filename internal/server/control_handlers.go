package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// controlRequest is the optional JSON body every §6 control action may
// carry — a free-text reason, recorded on the CRITICAL events close_all
// and override_loss_limit emit, and on the exit reason close_position
// attaches to its order. A missing or unparsable body is never an error:
// every control action works with no body at all.
type controlRequest struct {
	Reason string `json:"reason"`
}

func decodeControlRequest(r *http.Request) controlRequest {
	var req controlRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Engine.Start(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.c.Engine.State())})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Engine.Stop(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.c.Engine.State())})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Engine.Pause(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.c.Engine.State())})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Engine.Resume(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.c.Engine.State())})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	req := decodeControlRequest(r)
	if req.Reason == "" {
		req.Reason = "operator requested close_position"
	}
	if err := s.c.Engine.ClosePosition(r.Context(), symbol, req.Reason); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "status": "exit submitted"})
}

// handleCloseAll and handleOverrideLossLimit are CRITICAL control
// actions per spec §6 — internal/engine itself emits the CRITICAL event
// and logs at Warn level, so this handler only needs to forward the
// request and report the outcome.
func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	req := decodeControlRequest(r)
	if req.Reason == "" {
		req.Reason = "operator requested close_all"
	}
	closed, err := s.c.Engine.CloseAll(r.Context(), req.Reason)
	if err != nil {
		s.writeJSON(w, http.StatusMultiStatus, map[string]any{"closed": closed, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"closed": closed})
}

func (s *Server) handleOverrideLossLimit(w http.ResponseWriter, r *http.Request) {
	req := decodeControlRequest(r)
	if req.Reason == "" {
		req.Reason = "operator override"
	}
	s.c.Engine.OverrideLossLimit(req.Reason)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "loss limit override recorded"})
}
