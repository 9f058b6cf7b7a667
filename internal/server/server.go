package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/server/handlers"
	"github.com/babelcloud/gbox-recorder/internal/server/router"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/babelcloud/gbox-recorder/internal/version"
	"github.com/pkg/errors"
)

// Server exposes a recording session over HTTP and WebSocket.
type Server struct {
	port       int
	controller handlers.Controller
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	addr      net.Addr
	startTime time.Time
}

// New creates a server for ctl. Port 0 picks a free port; Addr reports it
// once Start has bound the listener.
func New(port int, ctl handlers.Controller) *Server {
	s := &Server{
		port:       port,
		controller: ctl,
		mux:        http.NewServeMux(),
		logger:     util.ComponentLogger("server"),
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.logger, s.mux)
}

// Start binds the port and serves until Stop. It returns nil after a
// clean Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.port)
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 0, // the events socket is long-lived
		IdleTimeout: 0,
	}
	s.addr = ln.Addr()
	s.running = true
	s.startTime = time.Now()
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Control server listening", "addr", ln.Addr().String())
	err = srv.Serve(ln)
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop stops the server
func (s *Server) Stop() error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
		if err := srv.Close(); err != nil {
			s.logger.Warn("HTTP server force close error", "error", err)
			return err
		}
	}
	s.logger.Debug("Control server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// setupRoutes registers routers, most specific first.
func (s *Server) setupRoutes() {
	routers := []router.Router{
		&router.RecordingRouter{},
		&router.APIRouter{},
	}
	for _, r := range routers {
		r.RegisterRoutes(s.mux, s)
	}
}

// ServerService interface implementations for handlers

func (s *Server) GetPort() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.port
}

func (s *Server) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

func (s *Server) GetVersion() string {
	return version.Version
}

func (s *Server) GetController() handlers.Controller {
	return s.controller
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http.Hijacker interface is not supported")
	}
	lw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
