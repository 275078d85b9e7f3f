package server

import (
	"github.com/onnwee/irclogger/chatlog"
	"github.com/onnwee/irclogger/session"
)

// SessionSource reports the connection state machine.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// RosterSource reports channel occupancy.
type RosterSource interface {
	Counts() map[string]int
}

// LogSource reports per-channel log file health.
type LogSource interface {
	Status() []chatlog.ChannelStatus
}

// Sources groups what the handlers report on. Roster and Logs may be nil.
type Sources struct {
	Session SessionSource
	Roster  RosterSource
	Logs    LogSource
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	src Sources
}

// NewHandlers creates a new Handlers instance with the given sources.
func NewHandlers(src Sources) *Handlers {
	return &Handlers{src: src}
}
