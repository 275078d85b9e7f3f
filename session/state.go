// Package session keeps the logger attached to its IRC server. Controller is
// the connection state machine: it connects, registers the nickname,
// resolves collisions, joins the configured channels and reconnects forever
// after any transport failure.
//
// Controller is not safe for concurrent mutation: every Handle*/hook method
// and every Scheduler callback must run on the same dispatcher goroutine.
// Snapshot, State and Nick may be called from anywhere.
package session

import "fmt"

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	JoiningChannels
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case JoiningChannels:
		return "joining_channels"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name, so JSON status shows "active".
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := Disconnected; st <= Active; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}
