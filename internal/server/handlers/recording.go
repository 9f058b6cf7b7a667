package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	eventBuffer    = 64
	writeWait      = 5 * time.Second
	defaultStopTTL = 30 * time.Second
)

// RecordingHandlers serves /api/recording/*.
type RecordingHandlers struct {
	controller Controller
	// StopTimeout bounds how long a stop request waits for the sources.
	StopTimeout time.Duration
}

func NewRecordingHandlers(ctl Controller) *RecordingHandlers {
	return &RecordingHandlers{controller: ctl, StopTimeout: defaultStopTTL}
}

func (h *RecordingHandlers) available(w http.ResponseWriter) bool {
	if h.controller == nil {
		RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no recording session"})
		return false
	}
	return true
}

func (h *RecordingHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodGet) || !h.available(w) {
		return
	}
	RespondJSON(w, http.StatusOK, h.controller.Status())
}

func (h *RecordingHandlers) HandlePause(w http.ResponseWriter, req *http.Request) {
	h.toggle(w, req, h.pause)
}

func (h *RecordingHandlers) HandleResume(w http.ResponseWriter, req *http.Request) {
	h.toggle(w, req, h.resume)
}

func (h *RecordingHandlers) pause() error  { return h.controller.Pause() }
func (h *RecordingHandlers) resume() error { return h.controller.Resume() }

func (h *RecordingHandlers) toggle(w http.ResponseWriter, req *http.Request, op func() error) {
	if !requireMethod(w, req, http.MethodPost) || !h.available(w) {
		return
	}
	if err := op(); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.controller.Status())
}

// HandleStop finishes the recording and returns its Result. A session that
// failed mid-stream still returns the partial result next to the error.
func (h *RecordingHandlers) HandleStop(w http.ResponseWriter, req *http.Request) {
	if !requireMethod(w, req, http.MethodPost) || !h.available(w) {
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), h.StopTimeout)
	defer cancel()

	res, err := h.controller.Stop(ctx)
	if err != nil {
		if res == nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"result": res,
		})
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// eventsUpgrader keeps gorilla's default origin check: browsers may only
// connect from a page served by this host. Clients without an Origin header
// are accepted.
var eventsUpgrader = websocket.Upgrader{}

// controlMessage is what clients may send over the events socket.
type controlMessage struct {
	Type string `json:"type"`
}

// HandleEvents streams session events as JSON text messages until the
// session finishes or the client goes away. Clients may also send
// {"type":"pause"}, {"type":"resume"} or {"type":"stop"}.
func (h *RecordingHandlers) HandleEvents(w http.ResponseWriter, req *http.Request) {
	if !h.available(w) {
		return
	}
	logger := util.ComponentLogger("server")

	conn, err := eventsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn("Failed to upgrade events WebSocket", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.controller.Events(eventBuffer)
	defer unsubscribe()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg controlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					logger.Debug("Events WebSocket read error", "error", err)
				}
				return
			}
			if msg.Type == "status" {
				write(map[string]interface{}{"type": "status", "status": h.controller.Status()})
				continue
			}
			if err := h.command(req.Context(), msg.Type); err != nil {
				write(map[string]string{"type": "command_error", "command": msg.Type, "message": err.Error()})
			}
		}
	}()

	// Clients that connect late see where the session stands first.
	st := h.controller.Status()
	if err := write(map[string]interface{}{"type": "status", "status": st}); err != nil {
		return
	}

	for {
		select {
		case e, ok := <-events:
			if !ok {
				writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
					time.Now().Add(writeWait))
				writeMu.Unlock()
				return
			}
			if err := write(e); err != nil {
				logger.Debug("Events WebSocket write failed", "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *RecordingHandlers) command(ctx context.Context, kind string) error {
	switch kind {
	case "pause":
		return h.controller.Pause()
	case "resume":
		return h.controller.Resume()
	case "stop":
		// The socket closes after the finished event.
		go func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.StopTimeout)
			defer cancel()
			h.controller.Stop(stopCtx)
		}()
		return nil
	default:
		return errors.Errorf("unknown command %q", kind)
	}
}

// Compile-time check.
var _ Controller = (*recording.Session)(nil)
