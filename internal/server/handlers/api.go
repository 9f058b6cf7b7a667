package handlers

import (
	"net/http"
)

// APIHandlers contains handlers for the server-level /api/* routes
type APIHandlers struct {
	serverService ServerService
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{serverService: serverSvc}
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"gbox-recorder"}`))
}

func (h *APIHandlers) HandleServerInfo(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		RespondJSON(w, http.StatusOK, map[string]interface{}{"running": true})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.serverService.IsRunning(),
		"port":    h.serverService.GetPort(),
		"uptime":  h.serverService.GetUptime().String(),
		"version": h.serverService.GetVersion(),
	})
}
