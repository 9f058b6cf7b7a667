package handlers

import (
	"context"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/recording"
)

// Controller is the slice of a recording session the HTTP layer drives.
// *recording.Session implements it.
type Controller interface {
	Status() recording.Status
	Pause() error
	Resume() error
	Stop(ctx context.Context) (*recording.Result, error)
	Events(buffer int) (<-chan recording.Event, func())
}

// ServerService defines the interface that handlers need from the server
type ServerService interface {
	// Server info
	GetPort() int
	GetUptime() time.Duration
	GetVersion() string
	IsRunning() bool

	// Recording control
	GetController() Controller
}
