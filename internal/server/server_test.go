package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockController struct {
	mu       sync.Mutex
	state    recording.State
	pauseErr error
	stopRes  *recording.Result
	stopErr  error
	stops    int
	events   chan recording.Event
}

func newMock() *mockController {
	return &mockController{state: recording.StateRecording, events: make(chan recording.Event, 8)}
}

func (m *mockController) Status() recording.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return recording.Status{ID: "s1", State: m.state, Format: "mp4"}
}

func (m *mockController) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pauseErr != nil {
		return m.pauseErr
	}
	m.state = recording.StatePaused
	return nil
}

func (m *mockController) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != recording.StatePaused {
		return errors.Wrap(recording.ErrInvalidState, "not paused")
	}
	m.state = recording.StateRecording
	return nil
}

func (m *mockController) Stop(context.Context) (*recording.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.state = recording.StateStopped
	return m.stopRes, m.stopErr
}

func (m *mockController) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *mockController) Events(int) (<-chan recording.Event, func()) {
	return m.events, func() {}
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := do(t, New(0, nil).Handler(), http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestRecordingEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*mockController)
		method   string
		path     string
		wantCode int
		check    func(*testing.T, map[string]interface{})
	}{
		{
			name:     "status",
			method:   http.MethodGet,
			path:     "/api/recording/status",
			wantCode: http.StatusOK,
			check: func(t *testing.T, b map[string]interface{}) {
				assert.Equal(t, "recording", b["state"])
				assert.Equal(t, "s1", b["id"])
			},
		},
		{
			name:     "pause",
			method:   http.MethodPost,
			path:     "/api/recording/pause",
			wantCode: http.StatusOK,
			check: func(t *testing.T, b map[string]interface{}) {
				assert.Equal(t, "paused", b["state"])
			},
		},
		{
			name:     "pause with GET",
			method:   http.MethodGet,
			path:     "/api/recording/pause",
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name:     "resume while recording",
			method:   http.MethodPost,
			path:     "/api/recording/resume",
			wantCode: http.StatusConflict,
			check: func(t *testing.T, b map[string]interface{}) {
				assert.Contains(t, b["error"], "not paused")
			},
		},
		{
			name:     "pause failure",
			setup:    func(m *mockController) { m.pauseErr = errors.New("boom") },
			method:   http.MethodPost,
			path:     "/api/recording/pause",
			wantCode: http.StatusInternalServerError,
		},
		{
			name: "stop",
			setup: func(m *mockController) {
				m.stopRes = &recording.Result{ID: "s1", Path: "/tmp/out.mp4", Duration: 2 * time.Second}
			},
			method:   http.MethodPost,
			path:     "/api/recording/stop",
			wantCode: http.StatusOK,
			check: func(t *testing.T, b map[string]interface{}) {
				assert.Equal(t, "/tmp/out.mp4", b["path"])
				assert.EqualValues(t, 2*time.Second, b["duration"])
			},
		},
		{
			name: "stop after stream failure",
			setup: func(m *mockController) {
				m.stopRes = &recording.Result{ID: "s1", Path: "/tmp/out.mp4"}
				m.stopErr = errors.New("disk full")
			},
			method:   http.MethodPost,
			path:     "/api/recording/stop",
			wantCode: http.StatusInternalServerError,
			check: func(t *testing.T, b map[string]interface{}) {
				assert.Equal(t, "disk full", b["error"])
				assert.NotNil(t, b["result"])
			},
		},
		{
			name:     "stop before start",
			setup:    func(m *mockController) { m.stopErr = errors.Wrap(recording.ErrInvalidState, "session never started") },
			method:   http.MethodPost,
			path:     "/api/recording/stop",
			wantCode: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			if tt.setup != nil {
				tt.setup(m)
			}
			rec, body := do(t, New(0, m).Handler(), tt.method, tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestRecordingWithoutSession(t *testing.T) {
	rec, _ := do(t, New(0, nil).Handler(), http.MethodGet, "/api/recording/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/recording/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestEventsWebSocketOrigin(t *testing.T) {
	m := newMock()
	srv := httptest.NewServer(New(0, m).Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/recording/events"

	tests := []struct {
		name     string
		origin   string
		wantCode int
	}{
		{name: "no origin", wantCode: http.StatusSwitchingProtocols},
		{name: "same origin", origin: srv.URL, wantCode: http.StatusSwitchingProtocols},
		{name: "foreign page", origin: "http://example.com", wantCode: http.StatusForbidden},
		{name: "other local port", origin: "http://127.0.0.1:1", wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusSwitchingProtocols {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
	assert.Zero(t, m.Stops())
}

func TestEventsWebSocket(t *testing.T) {
	m := newMock()
	srv := httptest.NewServer(New(0, m).Handler())
	defer srv.Close()

	conn := dialEvents(t, srv)
	defer conn.Close()

	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first["type"])

	m.events <- recording.Event{Type: recording.EventPaused, SessionID: "s1"}
	var e recording.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, recording.EventPaused, e.Type)
	assert.Equal(t, "s1", e.SessionID)

	close(m.events)
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEventsWebSocketCommands(t *testing.T) {
	m := newMock()
	srv := httptest.NewServer(New(0, m).Handler())
	defer srv.Close()

	conn := dialEvents(t, srv)
	defer conn.Close()

	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "pause"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "status"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg["type"])
	assert.Equal(t, "paused", msg["status"].(map[string]interface{})["state"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "rewind"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "command_error", msg["type"])
	assert.Contains(t, msg["message"], "rewind")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	assert.Eventually(t, func() bool { return m.Stops() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartAndStop(t *testing.T) {
	s := New(0, newMock())
	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.NotZero(t, s.GetPort())

	resp, err := http.Get("http://" + s.Addr().String() + "/api/server/info")
	require.NoError(t, err)
	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, true, info["running"])
	assert.EqualValues(t, s.GetPort(), info["port"])

	require.NoError(t, s.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.IsRunning())
}
