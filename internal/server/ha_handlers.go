package server

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) haDisabled(w http.ResponseWriter) bool {
	if s.ha != nil {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "HA is not enabled"})
	return true
}

func (s *Server) nodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.haDisabled(w) {
		return
	}
	n, err := s.ha.Heartbeat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) failoverNode(w http.ResponseWriter, r *http.Request) {
	if s.haDisabled(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.ha.ManualFailover(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Node failed over", zap.String("node_id", id), zap.String("by", caller(r)))

	state, _ := s.ha.GetNodeState(id)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) haNodes(w http.ResponseWriter, r *http.Request) {
	if s.haDisabled(w) {
		return
	}
	states := s.ha.GetAllNodeStates()
	sort.Slice(states, func(i, j int) bool { return states[i].NodeID < states[j].NodeID })
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.ha.IsRunning(),
		"nodes":   states,
	})
}
