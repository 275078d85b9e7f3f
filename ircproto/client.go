package ircproto

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/irc.v4"
)

// ErrNotConnected is returned by writes while no connection is established.
var ErrNotConnected = errors.New("ircproto: not connected")

const (
	defaultConnectTimeout = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultEventBuffer    = 256
)

// Config configures a Client.
type Config struct {
	// TLS wraps the connection in TLS, verifying the server name.
	TLS bool
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout closes a connection that has been silent this long.
	// Zero disables the deadline.
	ReadTimeout time.Duration
	// Verbose logs every raw inbound and outbound line at debug level.
	Verbose bool
	// Logger receives diagnostics (default slog.Default()).
	Logger *slog.Logger
}

// Client is a single IRC connection that can be re-established. It publishes
// Inbound events on Events(); Connect, Close and the Send methods are meant
// to be called from the goroutine consuming those events.
type Client struct {
	cfg    Config
	log    *slog.Logger
	events chan Inbound
	quit   chan struct{}
	gen    atomic.Uint64

	mu     sync.Mutex
	conn   net.Conn
	writer *irc.Writer
	cancel context.CancelFunc
	closed bool
}

// NewClient returns an unconnected Client.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		log:    logger.With(slog.String("component", "ircproto")),
		events: make(chan Inbound, defaultEventBuffer),
		quit:   make(chan struct{}),
	}
}

// Events returns the stream of inbound events for every connection.
func (c *Client) Events() <-chan Inbound { return c.events }

// Stale reports whether in was produced by a connection that has since been
// closed or replaced.
func (c *Client) Stale(in Inbound) bool { return in.Conn != c.gen.Load() }

// Connect starts dialing host:port in the background and returns at once.
// The outcome is published as Connected or Error. Any previous connection
// is closed first.
func (c *Client) Connect(host string, port int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}
	c.closeLocked()
	gen := c.gen.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.cancel = cancel
	c.mu.Unlock()

	go c.dial(ctx, cancel, gen, host, port)
	return nil
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, host string, port int) {
	defer cancel()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err == nil && c.cfg.TLS {
		tconn := tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err = tconn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
		} else {
			conn = tconn
		}
	}
	if err != nil {
		c.emit(gen, Error{Kind: ClassifyTransportError(err), Detail: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed || c.gen.Load() != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.writer = irc.NewWriter(conn)
	c.mu.Unlock()

	c.log.Debug("connected", slog.String("addr", addr))
	c.emit(gen, Connected{Host: host, Port: port})
	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		line, err := br.ReadString('\n')
		if err != nil {
			if c.gen.Load() != gen {
				return
			}
			if errors.Is(err, io.EOF) {
				c.emit(gen, Disconnected{})
			} else {
				c.emit(gen, Error{Kind: ClassifyTransportError(err), Detail: err.Error()})
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if c.cfg.Verbose {
			c.log.Debug("recv", slog.String("line", line))
		}
		m, err := irc.ParseMessage(line)
		if err != nil {
			c.log.Debug("unparsable line", slog.String("line", line), slog.Any("err", err))
			continue
		}
		if m.Command == "PING" {
			pong := &irc.Message{Command: "PONG", Params: m.Params}
			if err := c.writeMessage(pong); err != nil {
				c.log.Debug("pong failed", slog.Any("err", err))
			}
			continue
		}
		if ev := Decode(m); ev != nil {
			c.emit(gen, ev)
		}
	}
}

func (c *Client) emit(gen uint64, ev Event) {
	select {
	case c.events <- Inbound{Conn: gen, Event: ev}:
	case <-c.quit:
	}
}

// Write sends raw bytes on the current connection.
func (c *Client) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if c.cfg.Verbose {
		c.log.Debug("send", slog.String("raw", strings.TrimRight(string(p), "\r\n")))
	}
	_, err := c.conn.Write(p)
	return err
}

func (c *Client) writeMessage(m *irc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.writer == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if c.cfg.Verbose {
		c.log.Debug("send", slog.String("line", m.String()))
	}
	return c.writer.WriteMessage(m)
}

// SendUser registers the connection's user name and real name.
func (c *Client) SendUser(nick, hostname, servername, realname string) error {
	return c.writeMessage(&irc.Message{Command: "USER", Params: []string{nick, hostname, servername, realname}})
}

// SendNick requests nick.
func (c *Client) SendNick(nick string) error {
	return c.writeMessage(&irc.Message{Command: "NICK", Params: []string{nick}})
}

// SendJoin joins channel.
func (c *Client) SendJoin(channel string) error {
	return c.writeMessage(&irc.Message{Command: "JOIN", Params: []string{channel}})
}

// SendQuit announces a graceful disconnect.
func (c *Client) SendQuit(message string) error {
	return c.writeMessage(&irc.Message{Command: "QUIT", Params: []string{message}})
}

// Close drops the current connection, if any, and cancels a pending dial.
// Events already produced by that connection become stale.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	c.gen.Add(1)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
		c.writer = nil
	}
	return err
}

// Shutdown closes the connection and stops publishing events for good.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.quit)
	return c.closeLocked()
}

// Decode converts a parsed message into an Event, or nil for commands the
// logger does not react to.
func Decode(m *irc.Message) Event {
	var src Source
	if m.Prefix != nil {
		src = Source{Nick: m.Prefix.Name, User: m.Prefix.User, Host: m.Prefix.Host}
	}
	switch m.Command {
	case "JOIN":
		return Join{Source: src, Channel: param(m, 0)}
	case "PART":
		return Part{Source: src, Channel: param(m, 0), Reason: param(m, 1)}
	case "KICK":
		return Kick{Source: src, Channel: param(m, 0), Target: param(m, 1), Reason: param(m, 2)}
	case "QUIT":
		return Quit{Source: src, Message: param(m, 0)}
	case "NICK":
		return Nick{Source: src, NewNick: param(m, 0)}
	case "PRIVMSG", "NOTICE":
		return Message{Source: src, Target: param(m, 0), Text: param(m, 1), Notice: m.Command == "NOTICE"}
	}
	if isNumeric(m.Command) {
		var args []string
		if len(m.Params) > 1 {
			args = append(args, m.Params[1:]...)
		}
		return Numeric{Source: src, Code: m.Command, Target: param(m, 0), Args: args}
	}
	return nil
}

func param(m *irc.Message, i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	return ""
}

func isNumeric(cmd string) bool {
	if len(cmd) != 3 {
		return false
	}
	for _, r := range cmd {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders ev for debug logs.
func String(ev Event) string {
	return fmt.Sprintf("%s %+v", Name(ev), ev)
}
