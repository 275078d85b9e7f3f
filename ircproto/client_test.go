package ircproto

import (
	"net"
	"reflect"
	"testing"
	"time"

	"gopkg.in/irc.v4"

	"github.com/onnwee/irclogger/testutil"
)

const waitFor = 2 * time.Second

func nextEvent(t *testing.T, c *Client) Inbound {
	t.Helper()
	for {
		select {
		case in := <-c.Events():
			if c.Stale(in) {
				continue
			}
			return in
		case <-time.After(waitFor):
			t.Fatal("no event")
			return Inbound{}
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		line string
		want Event
	}{
		{":alice!a@host JOIN #test", Join{Source: Source{Nick: "alice", User: "a", Host: "host"}, Channel: "#test"}},
		{":alice!a@host PART #test :bye now", Part{Source: Source{Nick: "alice", User: "a", Host: "host"}, Channel: "#test", Reason: "bye now"}},
		{":alice!a@host PART #test", Part{Source: Source{Nick: "alice", User: "a", Host: "host"}, Channel: "#test"}},
		{":op!o@host KICK #test alice :bye", Kick{Source: Source{Nick: "op", User: "o", Host: "host"}, Channel: "#test", Target: "alice", Reason: "bye"}},
		{":alice!a@host QUIT :Ping timeout", Quit{Source: Source{Nick: "alice", User: "a", Host: "host"}, Message: "Ping timeout"}},
		{":alice!a@host NICK alicia", Nick{Source: Source{Nick: "alice", User: "a", Host: "host"}, NewNick: "alicia"}},
		{":alice!a@host PRIVMSG #test :hello there", Message{Source: Source{Nick: "alice", User: "a", Host: "host"}, Target: "#test", Text: "hello there"}},
		{":srv NOTICE #test :maintenance", Message{Source: Source{Nick: "srv"}, Target: "#test", Text: "maintenance", Notice: true}},
		{":irc.test 433 * bot :Nickname is already in use", Numeric{Source: Source{Nick: "irc.test"}, Code: "433", Target: "*", Args: []string{"bot", "Nickname is already in use"}}},
		{":irc.test 376 bot :End of MOTD", Numeric{Source: Source{Nick: "irc.test"}, Code: "376", Target: "bot", Args: []string{"End of MOTD"}}},
	}
	for _, tt := range tests {
		m, err := irc.ParseMessage(tt.line)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.line, err)
		}
		if got := Decode(m); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Decode(%q) = %#v, want %#v", tt.line, got, tt.want)
		}
	}
	m, _ := irc.ParseMessage(":irc.test CAP * LS :multi-prefix")
	if ev := Decode(m); ev != nil {
		t.Errorf("unhandled command decoded to %#v", ev)
	}
}

func TestClientConnectAndCommands(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	host, port := srv.Addr()
	c := NewClient(Config{ConnectTimeout: time.Second})
	defer c.Shutdown()

	if err := c.SendNick("early"); err != ErrNotConnected {
		t.Fatalf("SendNick before connect = %v, want ErrNotConnected", err)
	}
	if err := c.Connect(host, port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := srv.Accept(t, waitFor)
	in := nextEvent(t, c)
	if got, ok := in.Event.(Connected); !ok || got.Port != port {
		t.Fatalf("first event = %#v, want Connected", in.Event)
	}

	if err := c.SendUser("bot", "laptop", host, "bot on laptop"); err != nil {
		t.Fatalf("SendUser: %v", err)
	}
	if err := c.SendNick("bot"); err != nil {
		t.Fatalf("SendNick: %v", err)
	}
	if err := c.SendJoin("#test"); err != nil {
		t.Fatalf("SendJoin: %v", err)
	}
	user := conn.Expect(t, "USER", waitFor)
	if user.Param(0) != "bot" || user.Trailing() != "bot on laptop" {
		t.Fatalf("USER = %s", user)
	}
	if nick := conn.Expect(t, "NICK", waitFor); nick.Param(0) != "bot" {
		t.Fatalf("NICK = %s", nick)
	}
	if join := conn.Expect(t, "JOIN", waitFor); join.Param(0) != "#test" {
		t.Fatalf("JOIN = %s", join)
	}

	conn.Send("PING :irc.test")
	if pong := conn.Expect(t, "PONG", waitFor); pong.Trailing() != "irc.test" {
		t.Fatalf("PONG = %s", pong)
	}

	conn.Send(":alice!a@h PRIVMSG #test :hello")
	in = nextEvent(t, c)
	if msg, ok := in.Event.(Message); !ok || msg.Text != "hello" || msg.Source.Nick != "alice" {
		t.Fatalf("event = %#v, want Message from alice", in.Event)
	}

	_ = conn.Close()
	in = nextEvent(t, c)
	if _, ok := in.Event.(Disconnected); !ok {
		t.Fatalf("event = %#v, want Disconnected", in.Event)
	}
}

func TestClientCloseMakesEventsStale(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	host, port := srv.Addr()
	c := NewClient(Config{})
	defer c.Shutdown()

	_ = c.Connect(host, port)
	conn := srv.Accept(t, waitFor)
	first := nextEvent(t, c)
	if c.Stale(first) {
		t.Fatal("event from the live connection reported stale")
	}
	conn.Send(":alice!a@h PRIVMSG #test :late")
	time.Sleep(50 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.Stale(first) {
		t.Fatal("event from a closed connection not reported stale")
	}
	if !conn.Closed(waitFor) {
		t.Fatal("server did not observe the close")
	}
	if err := c.Write([]byte("PING :x\r\n")); err != ErrNotConnected {
		t.Fatalf("Write after Close = %v, want ErrNotConnected", err)
	}
}

func TestClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := NewClient(Config{ConnectTimeout: time.Second})
	defer c.Shutdown()
	_ = c.Connect("127.0.0.1", port)
	in := nextEvent(t, c)
	ev, ok := in.Event.(Error)
	if !ok {
		t.Fatalf("event = %#v, want Error", in.Event)
	}
	if ev.Kind != ErrorKindRefused {
		t.Fatalf("kind = %s, want refused (%s)", ev.Kind, ev.Detail)
	}
}

func TestClientReadTimeout(t *testing.T) {
	srv := testutil.NewFakeIRCServer(t)
	host, port := srv.Addr()
	c := NewClient(Config{ReadTimeout: 100 * time.Millisecond})
	defer c.Shutdown()

	_ = c.Connect(host, port)
	srv.Accept(t, waitFor)
	nextEvent(t, c)
	in := nextEvent(t, c)
	if ev, ok := in.Event.(Error); !ok || ev.Kind != ErrorKindTimeout {
		t.Fatalf("event = %#v, want timeout Error", in.Event)
	}
}

func TestShutdownRejectsConnect(t *testing.T) {
	c := NewClient(Config{})
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Connect("127.0.0.1", 1); err == nil {
		t.Fatal("Connect after Shutdown succeeded")
	}
}
