package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// httpMux routes the HTTP side of the server
func (s *Server) httpMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.HealthHandler)
	if s.config.WebSocket {
		mux.HandleFunc("/ws", s.HandleWebSocket)
	}
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":            "healthy",
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"connected_clients": s.registry.Len(),
	}

	// Check client directory
	known, err := s.store.CountClients()
	if err != nil {
		errorLog.Printf("Health check: client directory unavailable: %v", err)
		health["status"] = "degraded"
		health["database_accessible"] = false
	} else {
		health["database_accessible"] = true
		health["known_clients"] = known
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		errorLog.Printf("Error encoding health JSON: %v", err)
	}
}
