package router

import (
	"net/http"

	"github.com/babelcloud/gbox-recorder/internal/server/handlers"
)

// Router defines the interface for route registration
type Router interface {
	RegisterRoutes(mux *http.ServeMux, server handlers.ServerService)
	GetPathPrefix() string
}

// RouteGroup helps organize related routes
type RouteGroup struct {
	prefix string
	mux    *http.ServeMux
}

// NewRouteGroup creates a new route group with a common prefix
func NewRouteGroup(prefix string, mux *http.ServeMux) *RouteGroup {
	return &RouteGroup{prefix: prefix, mux: mux}
}

// HandleFunc registers a handler function with the group's prefix
func (g *RouteGroup) HandleFunc(pattern string, handler http.HandlerFunc) {
	g.mux.HandleFunc(g.prefix+pattern, handler)
}
