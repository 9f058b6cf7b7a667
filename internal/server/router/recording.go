package router

import (
	"net/http"

	"github.com/babelcloud/gbox-recorder/internal/server/handlers"
)

// RecordingRouter handles /api/recording/* routes
type RecordingRouter struct {
	handlers *handlers.RecordingHandlers
}

func (r *RecordingRouter) RegisterRoutes(mux *http.ServeMux, server handlers.ServerService) {
	var ctl handlers.Controller
	if server != nil {
		ctl = server.GetController()
	}
	r.handlers = handlers.NewRecordingHandlers(ctl)

	g := NewRouteGroup(r.GetPathPrefix(), mux)
	g.HandleFunc("/status", r.handlers.HandleStatus)
	g.HandleFunc("/pause", r.handlers.HandlePause)
	g.HandleFunc("/resume", r.handlers.HandleResume)
	g.HandleFunc("/stop", r.handlers.HandleStop)
	g.HandleFunc("/events", r.handlers.HandleEvents)
}

func (r *RecordingRouter) GetPathPrefix() string {
	return "/api/recording"
}
