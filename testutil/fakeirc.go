package testutil

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/irc.v4"
)

// FakeIRCHandler reacts to one command received by a FakeIRCServer.
type FakeIRCHandler func(c *FakeIRCConn, m *irc.Message)

// FakeIRCServer is a loopback IRC server scripted by tests. Handlers run on
// the connection's reader goroutine before the message is queued for Expect.
type FakeIRCServer struct {
	Listener net.Listener

	mu       sync.Mutex
	handlers map[string]FakeIRCHandler
	conns    chan *FakeIRCConn
}

// NewFakeIRCServer listens on 127.0.0.1 on a free port until the test ends.
func NewFakeIRCServer(t *testing.T) *FakeIRCServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &FakeIRCServer{
		Listener: ln,
		handlers: make(map[string]FakeIRCHandler),
		conns:    make(chan *FakeIRCConn, 16),
	}
	var open []*FakeIRCConn
	var openMu sync.Mutex
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			c := newFakeIRCConn(s, nc)
			openMu.Lock()
			open = append(open, c)
			openMu.Unlock()
			s.conns <- c
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		openMu.Lock()
		defer openMu.Unlock()
		for _, c := range open {
			_ = c.Close()
		}
	})
	return s
}

// Addr returns the host and port clients should dial.
func (s *FakeIRCServer) Addr() (string, int) {
	a := s.Listener.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

// Handle installs fn for command, replacing any previous handler.
func (s *FakeIRCServer) Handle(command string, fn FakeIRCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(command)] = fn
}

func (s *FakeIRCServer) handler(command string) FakeIRCHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[command]
}

// MockWelcome answers every NICK with RPL_WELCOME followed by end of MOTD.
func (s *FakeIRCServer) MockWelcome() {
	s.Handle("NICK", func(c *FakeIRCConn, m *irc.Message) {
		nick := m.Param(0)
		c.Send(":irc.test 001 " + nick + " :Welcome to the test network")
		c.Send(":irc.test 376 " + nick + " :End of /MOTD command.")
	})
}

// MockJoin echoes every JOIN back as the server's join acknowledgement.
func (s *FakeIRCServer) MockJoin() {
	s.Handle("JOIN", func(c *FakeIRCConn, m *irc.Message) {
		for _, ch := range strings.Split(m.Param(0), ",") {
			c.Send(":" + c.Nick() + "!bot@test JOIN " + ch)
		}
	})
}

// Accept waits for the next client connection.
func (s *FakeIRCServer) Accept(t *testing.T, timeout time.Duration) *FakeIRCConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		t.Fatalf("no connection within %s", timeout)
		return nil
	}
}

// FakeIRCConn is one accepted client connection.
type FakeIRCConn struct {
	conn     net.Conn
	server   *FakeIRCServer
	received chan *irc.Message

	mu   sync.Mutex
	nick string
}

func newFakeIRCConn(s *FakeIRCServer, nc net.Conn) *FakeIRCConn {
	c := &FakeIRCConn{conn: nc, server: s, received: make(chan *irc.Message, 256)}
	go c.read()
	return c
}

func (c *FakeIRCConn) read() {
	defer close(c.received)
	br := bufio.NewReader(c.conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		m, err := irc.ParseMessage(strings.TrimRight(line, "\r\n"))
		if err != nil {
			continue
		}
		if m.Command == "NICK" {
			c.mu.Lock()
			c.nick = m.Param(0)
			c.mu.Unlock()
		}
		if h := c.server.handler(m.Command); h != nil {
			h(c, m)
		}
		c.received <- m
	}
}

// Nick returns the last nickname the client asked for.
func (c *FakeIRCConn) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// Send writes one raw line to the client. Errors are ignored: a client that
// went away is observed through Expect or Closed.
func (c *FakeIRCConn) Send(line string) {
	_, _ = c.conn.Write([]byte(line + "\r\n"))
}

// Expect returns the next message with the given command, skipping others.
func (c *FakeIRCConn) Expect(t *testing.T, command string, timeout time.Duration) *irc.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m, ok := <-c.received:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", command)
				return nil
			}
			if m.Command == command {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s within %s", command, timeout)
			return nil
		}
	}
}

// Drain returns every message received so far without waiting.
func (c *FakeIRCConn) Drain() []*irc.Message {
	var out []*irc.Message
	for {
		select {
		case m, ok := <-c.received:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

// Closed waits until the client closes its side of the connection.
func (c *FakeIRCConn) Closed(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-c.received:
			if !ok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Close drops the connection from the server side.
func (c *FakeIRCConn) Close() error { return c.conn.Close() }
