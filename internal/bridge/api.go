package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"vale/internal/pubsub"
)

// HealthResponse is returned by /api/v1/health
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// StatusResponse is returned by /api/v1/bridge/status
type StatusResponse struct {
	Status           string   `json:"status"`
	ConnectedDevices int      `json:"connected_devices"`
	Users            []string `json:"users"`
	Uptime           string   `json:"uptime"`
	Timestamp        string   `json:"timestamp"`
}

// registerAPIRoutes attaches the health and status endpoints.
func (s *Server) registerAPIRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/bridge/status", s.handleStatus).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"websocket": "healthy",
		"bus":       "healthy",
	}

	status := "healthy"
	if pinger, ok := s.bus.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			components["bus"] = "unhealthy"
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:           "running",
		ConnectedDevices: s.registry.Count(),
		Users:            s.registry.Users(),
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Interface check: the redis bus supports health pings.
var _ interface{ Ping(context.Context) error } = (*pubsub.RedisBus)(nil)
