package router

import (
	"net/http"

	"github.com/babelcloud/gbox-recorder/internal/server/handlers"
)

// APIRouter handles the server-level /api/* routes
type APIRouter struct {
	handlers *handlers.APIHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux *http.ServeMux, server handlers.ServerService) {
	r.handlers = handlers.NewAPIHandlers(server)

	mux.HandleFunc("/api/health", r.handlers.HandleHealth)
	mux.HandleFunc("/api/server/info", r.handlers.HandleServerInfo)
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}
