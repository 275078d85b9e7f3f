// Package ircproto is the network side of the logger: it owns the TCP (or
// TLS) connection to the IRC server, decodes inbound lines into typed
// events and encodes outbound commands. It knows nothing about sessions,
// rosters or log files; those react to the events it publishes.
package ircproto

// Numeric replies the logger reacts to.
const (
	RplWelcome       = "001"
	RplNamReply      = "353"
	RplEndOfMOTD     = "376"
	ErrNoMOTD        = "422"
	ErrNicknameInUse = "433"
	ErrNickCollision = "436"
)

// Source identifies the sender of a protocol message ("nick!user@host").
type Source struct {
	Nick string
	User string
	Host string
}

// Event is implemented by every inbound transport and protocol signal.
type Event interface {
	eventName() string
}

// Transport signals.
type (
	// Ready is published when the transport can accept a new connect request.
	Ready struct{}
	// Connected is published once the socket to Host:Port is established.
	Connected struct {
		Host string
		Port int
	}
	// Disconnected is published when the peer closed the connection.
	Disconnected struct{}
	// Error is published on a failed connect or a broken connection.
	Error struct {
		Kind   ErrorKind
		Detail string
	}
)

// Protocol signals.
type (
	// Numeric is a server status/error reply such as 001 or 433.
	Numeric struct {
		Source Source
		Code   string
		Target string
		Args   []string
	}
	// Join is published when Source joined Channel.
	Join struct {
		Source  Source
		Channel string
	}
	// Part is published when Source left Channel.
	Part struct {
		Source  Source
		Channel string
		Reason  string
	}
	// Kick is published when Source removed Target from Channel.
	Kick struct {
		Source  Source
		Channel string
		Target  string
		Reason  string
	}
	// Quit is published when Source disconnected from the network.
	Quit struct {
		Source  Source
		Message string
	}
	// Nick is published when Source changed nickname to NewNick.
	Nick struct {
		Source  Source
		NewNick string
	}
	// Message is a PRIVMSG, or a NOTICE when Notice is set.
	Message struct {
		Source Source
		Target string
		Text   string
		Notice bool
	}
)

func (Ready) eventName() string        { return "ready" }
func (Connected) eventName() string    { return "connected" }
func (Disconnected) eventName() string { return "disconnected" }
func (Error) eventName() string        { return "error" }
func (Numeric) eventName() string      { return "numeric" }
func (Join) eventName() string         { return "join" }
func (Part) eventName() string         { return "part" }
func (Kick) eventName() string         { return "kick" }
func (Quit) eventName() string         { return "quit" }
func (Nick) eventName() string         { return "nick" }
func (Message) eventName() string      { return "message" }

// Name returns a short lowercase name for ev, for logs.
func Name(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

// Inbound pairs an event with the id of the connection that produced it.
// Events from a connection that has since been replaced are stale.
type Inbound struct {
	Conn  uint64
	Event Event
}
