package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// adminRouter serves the operator endpoints on a separate listener.
func (s *server) adminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/debug/graph", s.handleGraphStats).Methods(http.MethodGet)
	r.HandleFunc("/debug/zones", s.handleZoneStats).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if s.planner.Graph() == nil || s.planner.Graph().NodeCount() == 0 {
		status, code = "graph not loaded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *server) handleGraphStats(w http.ResponseWriter, _ *http.Request) {
	g := s.planner.Graph()
	if g == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": g.NodeCount(),
		"edges": g.EdgeCount(),
		"path":  s.cfg.Data.GraphPath,
	})
}

func (s *server) handleZoneStats(w http.ResponseWriter, _ *http.Request) {
	var loadedAt *time.Time
	if t := s.zones.LoadedAt(); !t.IsZero() {
		loadedAt = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(s.zones.Zones()),
		"source":   s.zones.Source(),
		"loadedAt": loadedAt,
		"sessions": s.sessions.Len(),
	})
}
