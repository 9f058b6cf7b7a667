package recording

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/google/uuid"
)

// EventType names a session notification.
type EventType string

const (
	EventReady          EventType = "ready"
	EventProgress       EventType = "progress"
	EventPaused         EventType = "paused"
	EventResumed        EventType = "resumed"
	EventDeviceFallback EventType = "device_fallback"
	EventError          EventType = "error"
	EventFinished       EventType = "finished"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	// Track is "video" or "audio" for device and stream errors.
	Track   string  `json:"track,omitempty"`
	Device  string  `json:"device,omitempty"`
	Message string  `json:"message,omitempty"`
	Status  *Status `json:"status,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// eventHub fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event.
type eventHub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	dropped     atomic.Uint64
}

func newEventHub() *eventHub {
	return &eventHub{subscribers: make(map[string]chan Event)}
}

// subscribe returns the event channel and a function that removes it. The
// channel is closed when the hub closes or the subscription is cancelled.
func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.NewString()
	h.subscribers[id] = ch
	util.GetLogger().Debug("Event subscriber added", "id", id, "total", len(h.subscribers))
	return ch, func() { h.unsubscribe(id) }
}

func (h *eventHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *eventHub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for id, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
			util.GetLogger().Debug("Event subscriber full, dropping event", "subscriber", id, "type", string(e.Type))
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
