package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/irclogger/ircproto"
	"github.com/onnwee/irclogger/telemetry"
)

// NickSuffix is appended to the candidate nickname on every collision.
const NickSuffix = "_"

const keepAliveLine = "PING :keepalive\r\n"

// Transport is the connection the controller drives.
type Transport interface {
	Connect(host string, port int) error
	Write(p []byte) error
	Close() error
}

// Protocol encodes the registration and membership commands.
type Protocol interface {
	SendUser(nick, hostname, servername, realname string) error
	SendNick(nick string) error
	SendJoin(channel string) error
	SendQuit(message string) error
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs deferred work on the dispatcher goroutine.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Config is the session's static configuration.
type Config struct {
	Host     string
	Port     int
	Nick     string
	Channels []string
	// Hostname is announced in USER; RealName defaults to the nickname.
	Hostname    string
	RealName    string
	KeepAlive   time.Duration
	QuitMessage string
}

// Snapshot is a point-in-time view of the session for status reporting.
type Snapshot struct {
	State        State     `json:"state"`
	Nick         string    `json:"nick"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Joined       []string  `json:"joined"`
	Attempts     int       `json:"connect_attempts"`
	Reconnects   int       `json:"reconnects"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Since        time.Time `json:"since"`
	LastError    string    `json:"last_error,omitempty"`
}

// Controller owns the single logical session to the server.
type Controller struct {
	cfg       Config
	channels  []string
	transport Transport
	proto     Protocol
	sched     Scheduler
	policy    *Policy
	log       *slog.Logger

	started   bool
	reconnect Timer
	keepAlive Timer
	// Sequence numbers invalidate callbacks that were already queued when
	// their timer was stopped.
	reconnectSeq uint64
	keepAliveSeq uint64

	connStart time.Time
	ctx       context.Context

	mu   sync.RWMutex // guards snap
	snap Snapshot
}

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy overrides the default fixed 5s reconnect policy.
func WithPolicy(p *Policy) Option { return func(c *Controller) { c.policy = p } }

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// New returns a Disconnected controller. Nothing happens until Start.
func New(cfg Config, transport Transport, proto Protocol, sched Scheduler, opts ...Option) *Controller {
	if cfg.RealName == "" {
		cfg.RealName = cfg.Nick
	}
	c := &Controller{
		cfg:       cfg,
		channels:  ircproto.SplitChannels(cfg.Channels),
		transport: transport,
		proto:     proto,
		sched:     sched,
		log:       slog.Default(),
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.policy == nil {
		c.policy = NewFixedPolicy(5*time.Second, 5*time.Second)
	}
	c.log = c.log.With(slog.String("component", "session"))
	c.snap = Snapshot{State: Disconnected, Nick: cfg.Nick, Host: cfg.Host, Port: cfg.Port, Since: sched.Now()}
	return c
}

// Channels returns the configured channel list, comma lists expanded.
func (c *Controller) Channels() []string { return append([]string(nil), c.channels...) }

// Start begins connecting. Calling it again is a no-op.
func (c *Controller) Start() {
	if c.started {
		return
	}
	c.started = true
	c.log.Info("session starting", slog.String("host", c.cfg.Host), slog.Int("port", c.cfg.Port), slog.Any("channels", c.channels))
	c.attempt()
}

// Stop cancels every timer and closes the connection gracefully.
func (c *Controller) Stop() {
	if !c.started {
		return
	}
	c.started = false
	c.cancelTimers()
	if c.State() != Disconnected && c.State() != Connecting {
		if err := c.proto.SendQuit(c.cfg.QuitMessage); err != nil {
			c.logger().Debug("quit not sent", slog.Any("err", err))
		}
	}
	if err := c.transport.Close(); err != nil {
		c.logger().Debug("close transport", slog.Any("err", err))
	}
	c.setState(Disconnected)
	c.logger().Info("session stopped")
}

// HandleReady connects if the session is idle with no retry pending.
func (c *Controller) HandleReady() {
	if c.started && c.State() == Disconnected && c.reconnect == nil {
		c.attempt()
	}
}

// HandleConnected registers the nickname on a fresh connection.
func (c *Controller) HandleConnected(host string, port int) {
	if !c.started || c.State() != Connecting {
		return
	}
	nick := c.cfg.Nick
	c.update(func(s *Snapshot) {
		s.Nick = nick
		s.Joined = nil
		s.LastError = ""
	})
	c.setState(Authenticating)
	c.logger().Info("connected", slog.String("host", host), slog.Int("port", port))

	// USER before NICK: some servers answer 001 as soon as both are seen.
	if err := c.proto.SendUser(nick, c.cfg.Hostname, c.cfg.Host, c.cfg.RealName); err != nil {
		c.linkLost(ircproto.ClassifyTransportError(err), err.Error())
		return
	}
	if err := c.proto.SendNick(nick); err != nil {
		c.linkLost(ircproto.ClassifyTransportError(err), err.Error())
		return
	}
	c.scheduleKeepAlive()
}

// HandleDisconnected treats an orderly close by the peer as link loss.
func (c *Controller) HandleDisconnected() {
	c.linkLost(ircproto.ErrorKindEOF, "connection closed by server")
}

// HandleError treats a failed connect or broken socket as link loss.
func (c *Controller) HandleError(kind ircproto.ErrorKind, detail string) {
	c.linkLost(kind, detail)
}

// NickInUse retries registration with one more suffix.
func (c *Controller) NickInUse() {
	if c.State() != Authenticating {
		return
	}
	nick := c.Nick() + NickSuffix
	c.update(func(s *Snapshot) { s.Nick = nick })
	telemetry.Inc(telemetry.NickCollisions)
	c.logger().Warn("nickname in use, retrying", slog.String("nick", nick))
	if err := c.proto.SendNick(nick); err != nil {
		c.linkLost(ircproto.ClassifyTransportError(err), err.Error())
	}
}

// Welcomed records the nickname the server registered us under.
func (c *Controller) Welcomed(nick string) {
	if nick == "" || nick == "*" {
		return
	}
	c.update(func(s *Snapshot) { s.Nick = nick })
}

// WelcomeComplete joins every configured channel once registration ends.
func (c *Controller) WelcomeComplete() {
	if c.State() != Authenticating {
		return
	}
	c.setState(JoiningChannels)
	for _, ch := range c.channels {
		if err := c.proto.SendJoin(ch); err != nil {
			c.linkLost(ircproto.ClassifyTransportError(err), err.Error())
			return
		}
	}
	c.logger().Info("joining channels", slog.Int("count", len(c.channels)))
}

// ChannelJoined records the server's acknowledgement of our own JOIN. The
// first one makes the session Active.
func (c *Controller) ChannelJoined(channel string) {
	st := c.State()
	if st != JoiningChannels && st != Active {
		return
	}
	c.update(func(s *Snapshot) {
		for _, j := range s.Joined {
			if ircproto.Fold(j) == ircproto.Fold(channel) {
				return
			}
		}
		s.Joined = append(s.Joined, channel)
	})
	if st == JoiningChannels {
		c.setState(Active)
		c.policy.Reset()
		if !c.connStart.IsZero() {
			telemetry.Observe(telemetry.ConnectDuration, c.sched.Now().Sub(c.connStart))
		}
		c.logger().Info("session active", slog.String("nick", c.Nick()), slog.String("channel", channel))
	}
}

// ChannelParted forgets a channel the bot itself left.
func (c *Controller) ChannelParted(channel string) {
	c.update(func(s *Snapshot) {
		out := s.Joined[:0]
		for _, j := range s.Joined {
			if ircproto.Fold(j) != ircproto.Fold(channel) {
				out = append(out, j)
			}
		}
		s.Joined = out
	})
}

// ChannelKicked forgets a channel the bot was kicked from and joins it
// again. With no channel left joined the session is no longer Active.
func (c *Controller) ChannelKicked(channel string) {
	st := c.State()
	if st != JoiningChannels && st != Active {
		return
	}
	c.ChannelParted(channel)
	if st == Active && len(c.Snapshot().Joined) == 0 {
		c.setState(JoiningChannels)
	}
	c.logger().Warn("kicked from channel, rejoining", slog.String("channel", channel))
	if err := c.proto.SendJoin(channel); err != nil {
		c.linkLost(ircproto.ClassifyTransportError(err), err.Error())
	}
}

// NickChanged follows a server-confirmed change of our own nickname.
func (c *Controller) NickChanged(nick string) {
	c.update(func(s *Snapshot) { s.Nick = nick })
	c.logger().Info("nickname changed", slog.String("nick", nick))
}

// IsSelf reports whether nick is the session's current nickname.
func (c *Controller) IsSelf(nick string) bool {
	return ircproto.Fold(nick) == ircproto.Fold(c.Nick())
}

// Nick returns the current (possibly suffixed) nickname.
func (c *Controller) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Nick
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.State
}

// Snapshot returns a copy of the session status.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	s.Joined = append([]string(nil), c.snap.Joined...)
	return s
}

func (c *Controller) attempt() {
	if wait := c.policy.Admit(c.sched.Now()); wait > 0 {
		c.scheduleReconnect(wait)
		return
	}
	c.connect()
}

func (c *Controller) connect() {
	id := uuid.NewString()
	c.ctx = telemetry.WithCorrelation(context.Background(), id)
	c.connStart = c.sched.Now()
	c.update(func(s *Snapshot) {
		s.Attempts++
		s.ConnectionID = id
	})
	c.setState(Connecting)
	telemetry.Inc(telemetry.ConnectAttempts)

	_, span := telemetry.StartSpan(c.ctx, "session", "session.connect", telemetry.ServerAttr(c.cfg.Host, c.cfg.Port))
	defer span.End()
	c.logger().Info("connecting", slog.String("host", c.cfg.Host), slog.Int("port", c.cfg.Port))
	if err := c.transport.Connect(c.cfg.Host, c.cfg.Port); err != nil {
		telemetry.RecordError(span, err)
		c.linkLost(ircproto.ClassifyTransportError(err), err.Error())
		return
	}
	telemetry.SetSpanSuccess(span)
}

// linkLost moves any state to Disconnected and schedules the next attempt.
func (c *Controller) linkLost(kind ircproto.ErrorKind, detail string) {
	if !c.started || (c.State() == Disconnected && c.reconnect != nil) {
		return
	}
	c.cancelTimers()
	if err := c.transport.Close(); err != nil && !errors.Is(err, ircproto.ErrNotConnected) {
		c.logger().Debug("close transport", slog.Any("err", err))
	}
	prev := c.State()
	c.update(func(s *Snapshot) {
		s.LastError = kind.String() + ": " + detail
		s.Joined = nil
	})
	c.setState(Disconnected)
	telemetry.IncLabel(telemetry.TransportErrors, kind.String())

	delay := c.policy.Next(c.sched.Now())
	c.scheduleReconnect(delay)
	c.update(func(s *Snapshot) { s.Reconnects++ })
	telemetry.Inc(telemetry.ReconnectsScheduled)
	c.logger().Warn("connection lost, reconnecting",
		slog.String("state", prev.String()),
		slog.String("kind", kind.String()),
		slog.String("detail", detail),
		slog.Duration("delay", delay))
}

func (c *Controller) scheduleReconnect(d time.Duration) {
	c.stop(&c.reconnect)
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.reconnect = c.sched.AfterFunc(d, func() {
		if seq != c.reconnectSeq || !c.started {
			return
		}
		c.reconnect = nil
		c.connect()
	})
}

func (c *Controller) scheduleKeepAlive() {
	if c.cfg.KeepAlive <= 0 {
		return
	}
	c.stop(&c.keepAlive)
	c.keepAliveSeq++
	seq := c.keepAliveSeq
	c.keepAlive = c.sched.AfterFunc(c.cfg.KeepAlive, func() {
		if seq != c.keepAliveSeq || !c.started {
			return
		}
		c.keepAlive = nil
		if err := c.transport.Write([]byte(keepAliveLine)); err != nil {
			c.linkLost(ircproto.ClassifyTransportError(err), "keepalive: "+err.Error())
			return
		}
		c.scheduleKeepAlive()
	})
}

func (c *Controller) cancelTimers() {
	c.reconnectSeq++
	c.keepAliveSeq++
	c.stop(&c.reconnect)
	c.stop(&c.keepAlive)
}

func (c *Controller) stop(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.snap.State != s
	c.snap.State = s
	if changed {
		c.snap.Since = c.sched.Now()
	}
	c.mu.Unlock()
	telemetry.SetSessionState(int(s))
	if changed {
		c.logger().Debug("state changed", slog.String("state", s.String()))
	}
}

func (c *Controller) update(fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
}

func (c *Controller) logger() *slog.Logger {
	if id := telemetry.GetCorrelation(c.ctx); id != "" {
		return c.log.With(slog.String("corr", id))
	}
	return c.log
}
