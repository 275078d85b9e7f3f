package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/irclogger/chatlog"
	"github.com/onnwee/irclogger/ircproto"
	"github.com/onnwee/irclogger/roster"
)

type fakeHooks struct {
	nick  string
	calls []string
}

func (h *fakeHooks) NickInUse()              { h.calls = append(h.calls, "nick-in-use") }
func (h *fakeHooks) Welcomed(nick string)    { h.calls = append(h.calls, "welcomed "+nick) }
func (h *fakeHooks) WelcomeComplete()        { h.calls = append(h.calls, "welcome-complete") }
func (h *fakeHooks) ChannelJoined(ch string) { h.calls = append(h.calls, "joined "+ch) }
func (h *fakeHooks) ChannelParted(ch string) { h.calls = append(h.calls, "parted "+ch) }
func (h *fakeHooks) ChannelKicked(ch string) { h.calls = append(h.calls, "kicked "+ch) }
func (h *fakeHooks) IsSelf(nick string) bool { return ircproto.Fold(nick) == ircproto.Fold(h.nick) }

func (h *fakeHooks) NickChanged(nick string) {
	h.calls = append(h.calls, "nick "+nick)
	h.nick = nick
}

type line struct {
	channel string
	text    string
}

type memSink struct {
	lines []line
	fail  map[string]error
}

func (s *memSink) Append(channel string, _ time.Time, text string) error {
	if err := s.fail[channel]; err != nil {
		return err
	}
	s.lines = append(s.lines, line{channel, text})
	return nil
}

func (s *memSink) texts(channel string) []string {
	var out []string
	for _, l := range s.lines {
		if l.channel == channel {
			out = append(out, l.text)
		}
	}
	return out
}

func src(nick string) ircproto.Source { return ircproto.Source{Nick: nick, User: "u", Host: "h"} }

func newTestRouter(opts ...RouterOption) (*Router, *fakeHooks, *memSink, *roster.Tracker) {
	hooks := &fakeHooks{nick: "bot"}
	sink := &memSink{}
	tracker := roster.New()
	r := NewRouter(hooks, tracker, sink, []string{"#test", "#go"}, opts...)
	return r, hooks, sink, tracker
}

func TestRouteNumerics(t *testing.T) {
	r, hooks, sink, _ := newTestRouter()
	for _, code := range []string{"001", "433", "436", "376", "422", "372"} {
		r.Route(ircproto.Numeric{Source: src("irc.test"), Code: code, Target: "bot"})
	}
	want := "welcomed bot,nick-in-use,nick-in-use,welcome-complete,welcome-complete"
	if got := strings.Join(hooks.calls, ","); got != want {
		t.Fatalf("hooks = %s, want %s", got, want)
	}
	if len(sink.lines) != 0 {
		t.Fatalf("numerics produced log lines: %v", sink.lines)
	}
}

func TestRouteJoinPartLines(t *testing.T) {
	r, hooks, sink, tracker := newTestRouter()
	r.Route(ircproto.Join{Source: src("bot"), Channel: "#test"})
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Part{Source: src("alice"), Channel: "#test", Reason: "lunch"})
	r.Route(ircproto.Join{Source: src("carol"), Channel: "#test"})
	r.Route(ircproto.Part{Source: src("carol"), Channel: "#test"})

	want := []string{
		"*** bot has joined #test",
		"*** alice has joined #test",
		"*** alice has left #test (lunch)",
		"*** carol has joined #test",
		"*** carol has left #test ()",
	}
	if got := sink.texts("#test"); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("lines:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	if hooks.calls[0] != "joined #test" || len(hooks.calls) != 1 {
		t.Fatalf("hooks = %v, want only our own join", hooks.calls)
	}
	if tracker.Contains("alice", "#test") || !tracker.Contains("bot", "#test") {
		t.Fatalf("roster after part: %v", tracker.Occupants("#test"))
	}
}

func TestRouteQuitLogsOncePerOccupiedChannel(t *testing.T) {
	r, _, sink, tracker := newTestRouter()
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#go"})
	r.Route(ircproto.Join{Source: src("bob"), Channel: "#go"})
	sink.lines = nil

	r.Route(ircproto.Quit{Source: src("alice"), Message: "Ping timeout"})

	if len(sink.lines) != 2 {
		t.Fatalf("quit lines = %v, want one per channel", sink.lines)
	}
	for _, ch := range []string{"#go", "#test"} {
		got := sink.texts(ch)
		if len(got) != 1 || got[0] != "*** alice has quit IRC" {
			t.Errorf("%s lines = %v", ch, got)
		}
	}
	for _, ch := range []string{"#go", "#test"} {
		if tracker.Contains("alice", ch) {
			t.Errorf("alice still in %s", ch)
		}
	}
	if len(tracker.Channels("alice")) != 0 {
		t.Fatal("alice still tracked")
	}
	if !tracker.Contains("bob", "#go") {
		t.Fatal("bob removed by alice's quit")
	}

	sink.lines = nil
	r.Route(ircproto.Quit{Source: src("stranger"), Message: "bye"})
	if len(sink.lines) != 0 {
		t.Fatalf("quit of an untracked user logged %v", sink.lines)
	}
}

func TestRouteNamesSeedsRoster(t *testing.T) {
	r, _, sink, tracker := newTestRouter()
	r.Route(ircproto.Numeric{Code: "353", Target: "bot", Args: []string{"=", "#test", "@op +voiced plain bot"}})
	r.Route(ircproto.Numeric{Code: "353", Target: "bot", Args: []string{"=", "#elsewhere", "ghost"}})
	for _, nick := range []string{"op", "voiced", "plain", "bot"} {
		if !tracker.Contains(nick, "#test") {
			t.Errorf("%s not seeded", nick)
		}
	}
	if tracker.Contains("ghost", "#elsewhere") {
		t.Error("names for an unlogged channel were tracked")
	}
	if len(sink.lines) != 0 {
		t.Fatalf("names produced lines: %v", sink.lines)
	}
	r.Route(ircproto.Quit{Source: src("op")})
	if got := sink.texts("#test"); len(got) != 1 || got[0] != "*** op has quit IRC" {
		t.Fatalf("quit of seeded user = %v", got)
	}
}

func TestRouteNickChange(t *testing.T) {
	r, hooks, sink, tracker := newTestRouter()
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Join{Source: src("bot"), Channel: "#go"})
	sink.lines = nil

	r.Route(ircproto.Nick{Source: src("alice"), NewNick: "alicia"})
	if got := sink.texts("#test"); len(got) != 1 || got[0] != "*** alice is now known as alicia" {
		t.Fatalf("nick lines = %v", got)
	}
	if !tracker.Contains("alicia", "#test") || tracker.Contains("alice", "#test") {
		t.Fatal("roster not renamed")
	}

	r.Route(ircproto.Nick{Source: src("bot"), NewNick: "bot2"})
	if hooks.nick != "bot2" {
		t.Fatalf("own nick change not reported: %v", hooks.calls)
	}
}

func TestRouteMessages(t *testing.T) {
	r, _, sink, _ := newTestRouter()
	r.Route(ircproto.Message{Source: src("alice"), Target: "#test", Text: "hello"})
	r.Route(ircproto.Message{Source: src("ChanServ"), Target: "#TEST", Text: "welcome", Notice: true})
	r.Route(ircproto.Message{Source: src("alice"), Target: "bot", Text: "psst"})
	r.Route(ircproto.Message{Source: src("alice"), Target: "#other", Text: "not ours"})

	want := []line{{"#test", "<alice> hello"}, {"#TEST", "<ChanServ> welcome"}}
	if fmt.Sprint(sink.lines) != fmt.Sprint(want) {
		t.Fatalf("lines = %v, want %v", sink.lines, want)
	}
}

func TestRouteSelfPartDropsChannel(t *testing.T) {
	r, hooks, _, tracker := newTestRouter()
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Part{Source: src("bot"), Channel: "#test", Reason: "bye"})
	if len(tracker.Occupants("#test")) != 0 {
		t.Fatalf("occupants after own part: %v", tracker.Occupants("#test"))
	}
	if hooks.calls[len(hooks.calls)-1] != "parted #test" {
		t.Fatalf("hooks = %v", hooks.calls)
	}
}

func TestRouteKickRemovesUser(t *testing.T) {
	r, hooks, sink, tracker := newTestRouter()
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#go"})
	r.Route(ircproto.Kick{Source: src("op"), Channel: "#test", Target: "alice", Reason: "bye"})
	if tracker.Contains("alice", "#test") {
		t.Fatal("alice still in #test after kick")
	}
	r.Route(ircproto.Quit{Source: src("alice"), Message: "gone"})

	want := []string{"*** alice has joined #test", "*** alice was kicked by op (bye)"}
	if got := sink.texts("#test"); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("#test lines = %q, want %q", got, want)
	}
	if got := sink.texts("#go"); len(got) != 2 || got[1] != "*** alice has quit IRC" {
		t.Fatalf("#go lines = %q", got)
	}
	if len(hooks.calls) != 0 {
		t.Fatalf("hooks = %v", hooks.calls)
	}
}

func TestRouteSelfKickRejoins(t *testing.T) {
	r, hooks, sink, tracker := newTestRouter()
	r.Route(ircproto.Join{Source: src("bot"), Channel: "#test"})
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Kick{Source: src("op"), Channel: "#test", Target: "BOT", Reason: "flood"})
	if len(tracker.Occupants("#test")) != 0 {
		t.Fatalf("occupants after own kick: %v", tracker.Occupants("#test"))
	}
	if got := hooks.calls[len(hooks.calls)-1]; got != "kicked #test" {
		t.Fatalf("hooks = %v", hooks.calls)
	}
	texts := sink.texts("#test")
	if texts[len(texts)-1] != "*** BOT was kicked by op (flood)" {
		t.Fatalf("#test lines = %q", texts)
	}
}

func TestRouteKickInUnloggedChannelIgnored(t *testing.T) {
	r, hooks, sink, _ := newTestRouter()
	r.Route(ircproto.Kick{Source: src("op"), Channel: "#other", Target: "bot"})
	if len(sink.lines) != 0 || len(hooks.calls) != 0 {
		t.Fatalf("lines=%v hooks=%v", sink.lines, hooks.calls)
	}
}

func TestRouteConnectionLifecycle(t *testing.T) {
	r, _, sink, tracker := newTestRouter(WithSystemChannel("server"))
	r.Route(ircproto.Connected{Host: "irc.test", Port: 6667})
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Error{Kind: ircproto.ErrorKindReset, Detail: "reset"})
	if users, channels := tracker.Len(); users != 0 || channels != 0 {
		t.Fatalf("roster not reset on disconnect: %d users %d channels", users, channels)
	}
	r.Route(ircproto.Disconnected{})
	want := []string{"*** Connected to irc.test:6667", "*** Disconnected (reset)", "*** Disconnected (eof)"}
	if got := sink.texts("server"); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("system lines = %v", got)
	}
}

func TestRouteSinkFailureDoesNotStopRouting(t *testing.T) {
	r, _, sink, tracker := newTestRouter()
	sink.fail = map[string]error{"#test": chatlog.ErrChannelDisabled}
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#test"})
	r.Route(ircproto.Join{Source: src("alice"), Channel: "#go"})
	if !tracker.Contains("alice", "#test") {
		t.Fatal("roster update skipped after a sink failure")
	}
	if got := sink.texts("#go"); len(got) != 1 {
		t.Fatalf("#go lines = %v", got)
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &memSink{}, &memSink{fail: map[string]error{"#x": errors.New("down")}}
	m := MultiSink{a, b}
	if err := m.Append("#x", time.Now(), "hi"); err == nil {
		t.Fatal("expected joined error")
	}
	if len(a.lines) != 1 {
		t.Fatal("first sink skipped after second failed")
	}
}
