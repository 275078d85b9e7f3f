package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/irclogger/chatlog"
	"github.com/onnwee/irclogger/ircproto"
	"github.com/onnwee/irclogger/roster"
)

// Sink receives formatted log lines addressed by channel name.
type Sink interface {
	Append(channel string, ts time.Time, text string) error
}

// MultiSink fans every line out to each sink in order.
type MultiSink []Sink

// Append writes to every sink and joins their errors.
func (m MultiSink) Append(channel string, ts time.Time, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(channel, ts, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hooks is the part of the session the router reports protocol progress to.
type Hooks interface {
	NickInUse()
	Welcomed(nick string)
	WelcomeComplete()
	ChannelJoined(channel string)
	ChannelParted(channel string)
	ChannelKicked(channel string)
	NickChanged(nick string)
	IsSelf(nick string) bool
}

// Router dispatches inbound events. It must be driven from one goroutine.
type Router struct {
	hooks  Hooks
	roster *roster.Tracker
	sink   Sink
	now    func() time.Time
	system string
	logged map[string]struct{}
	log    *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSystemChannel sends connection-level lines to the named log.
func WithSystemChannel(name string) RouterOption {
	return func(r *Router) { r.system = name }
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithRouterLogger sets the logger (default slog.Default()).
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter returns a router that logs the given channels.
func NewRouter(hooks Hooks, tracker *roster.Tracker, sink Sink, channels []string, opts ...RouterOption) *Router {
	r := &Router{
		hooks:  hooks,
		roster: tracker,
		sink:   sink,
		now:    time.Now,
		logged: make(map[string]struct{}),
		log:    slog.Default(),
	}
	for _, ch := range ircproto.SplitChannels(channels) {
		r.logged[ircproto.Fold(ch)] = struct{}{}
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(slog.String("component", "router"))
	return r
}

func (r *Router) isLogged(channel string) bool {
	_, ok := r.logged[ircproto.Fold(channel)]
	return ok
}

// Route handles one event.
func (r *Router) Route(ev ircproto.Event) {
	switch ev := ev.(type) {
	case ircproto.Numeric:
		r.numeric(ev)
	case ircproto.Join:
		r.join(ev)
	case ircproto.Part:
		r.part(ev)
	case ircproto.Kick:
		r.kick(ev)
	case ircproto.Quit:
		for _, ch := range r.roster.OnQuit(ev.Source.Nick, ev.Message) {
			r.emit(ch, fmt.Sprintf("*** %s has quit IRC", ev.Source.Nick))
		}
	case ircproto.Nick:
		r.nick(ev)
	case ircproto.Message:
		r.message(ev)
	case ircproto.Connected:
		r.emitSystem(fmt.Sprintf("*** Connected to %s:%d", ev.Host, ev.Port))
	case ircproto.Disconnected:
		r.roster.Reset()
		r.emitSystem("*** Disconnected (" + ircproto.ErrorKindEOF.String() + ")")
	case ircproto.Error:
		r.roster.Reset()
		r.emitSystem("*** Disconnected (" + ev.Kind.String() + ")")
	}
}

func (r *Router) numeric(ev ircproto.Numeric) {
	switch ev.Code {
	case ircproto.ErrNicknameInUse, ircproto.ErrNickCollision:
		r.hooks.NickInUse()
	case ircproto.RplWelcome:
		r.hooks.Welcomed(ev.Target)
	case ircproto.RplEndOfMOTD, ircproto.ErrNoMOTD:
		r.hooks.WelcomeComplete()
	case ircproto.RplNamReply:
		// args: <symbol> <channel> :<names>
		if len(ev.Args) < 3 || !r.isLogged(ev.Args[1]) {
			return
		}
		for _, name := range strings.Fields(ev.Args[2]) {
			if nick := strings.TrimLeft(name, "@+%&~!"); nick != "" {
				r.roster.OnJoin(nick, ev.Args[1])
			}
		}
	}
}

func (r *Router) join(ev ircproto.Join) {
	if !r.isLogged(ev.Channel) {
		r.log.Debug("join for unlogged channel", slog.String("channel", ev.Channel))
		return
	}
	if r.hooks.IsSelf(ev.Source.Nick) {
		r.hooks.ChannelJoined(ev.Channel)
	}
	r.roster.OnJoin(ev.Source.Nick, ev.Channel)
	r.emit(ev.Channel, fmt.Sprintf("*** %s has joined %s", ev.Source.Nick, ev.Channel))
}

func (r *Router) part(ev ircproto.Part) {
	if !r.isLogged(ev.Channel) {
		return
	}
	r.roster.OnPart(ev.Source.Nick, ev.Channel, ev.Reason)
	r.emit(ev.Channel, fmt.Sprintf("*** %s has left %s (%s)", ev.Source.Nick, ev.Channel, ev.Reason))
	if r.hooks.IsSelf(ev.Source.Nick) {
		r.roster.DropChannel(ev.Channel)
		r.hooks.ChannelParted(ev.Channel)
	}
}

func (r *Router) kick(ev ircproto.Kick) {
	if !r.isLogged(ev.Channel) {
		return
	}
	r.roster.OnPart(ev.Target, ev.Channel, ev.Reason)
	r.emit(ev.Channel, fmt.Sprintf("*** %s was kicked by %s (%s)", ev.Target, ev.Source.Nick, ev.Reason))
	if r.hooks.IsSelf(ev.Target) {
		r.roster.DropChannel(ev.Channel)
		r.hooks.ChannelKicked(ev.Channel)
	}
}

func (r *Router) nick(ev ircproto.Nick) {
	self := r.hooks.IsSelf(ev.Source.Nick)
	for _, ch := range r.roster.OnNick(ev.Source.Nick, ev.NewNick) {
		r.emit(ch, fmt.Sprintf("*** %s is now known as %s", ev.Source.Nick, ev.NewNick))
	}
	if self {
		r.hooks.NickChanged(ev.NewNick)
	}
}

func (r *Router) message(ev ircproto.Message) {
	if !ircproto.IsChannel(ev.Target) {
		return
	}
	if !r.isLogged(ev.Target) {
		r.log.Debug("message for unlogged channel", slog.String("channel", ev.Target))
		return
	}
	r.emit(ev.Target, fmt.Sprintf("<%s> %s", ev.Source.Nick, ev.Text))
}

func (r *Router) emitSystem(text string) {
	if r.system != "" {
		r.emit(r.system, text)
	}
}

func (r *Router) emit(channel, text string) {
	if err := r.sink.Append(channel, r.now(), text); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, chatlog.ErrUnknownChannel) {
			level = slog.LevelDebug
		}
		r.log.Log(context.Background(), level, "log line not recorded", slog.String("channel", channel), slog.Any("err", err))
	}
}
