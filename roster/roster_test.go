package roster

import (
	"reflect"
	"testing"
)

func TestJoinIsSymmetric(t *testing.T) {
	tr := New()
	tr.OnJoin("alice", "#go")
	tr.OnJoin("alice", "#test")
	tr.OnJoin("bob", "#go")

	if got := tr.Occupants("#go"); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("occupants(#go) = %v", got)
	}
	if got := tr.Channels("alice"); !reflect.DeepEqual(got, []string{"#go", "#test"}) {
		t.Fatalf("channels(alice) = %v", got)
	}
	if !tr.Contains("ALICE", "#GO") {
		t.Errorf("expected case-insensitive membership lookup")
	}
}

func TestPartRemovesBothSides(t *testing.T) {
	tr := New()
	tr.OnJoin("alice", "#go")
	tr.OnJoin("bob", "#go")

	if !tr.OnPart("alice", "#go", "bye") {
		t.Fatalf("expected known membership")
	}
	if tr.Contains("alice", "#go") {
		t.Errorf("alice still in #go")
	}
	if got := tr.Channels("alice"); len(got) != 0 {
		t.Errorf("alice still has channels %v", got)
	}
	users, channels := tr.Len()
	if users != 1 || channels != 1 {
		t.Errorf("Len() = %d users %d channels, want 1/1", users, channels)
	}
}

func TestPartUnknownIsNoop(t *testing.T) {
	tr := New()
	if tr.OnPart("ghost", "#nowhere", "") {
		t.Fatalf("unknown membership reported as known")
	}
	tr.OnJoin("alice", "#go")
	if tr.OnPart("ghost", "#go", "") {
		t.Fatalf("unknown user reported as known")
	}
	users, channels := tr.Len()
	if users != 1 || channels != 1 {
		t.Fatalf("no-op part changed the roster: %d users %d channels", users, channels)
	}
}

func TestQuitReturnsOccupiedChannelsAndRemovesUser(t *testing.T) {
	tr := New()
	tr.OnJoin("alice", "#a")
	tr.OnJoin("alice", "#b")
	tr.OnJoin("bob", "#a")

	got := tr.OnQuit("alice", "gone")
	if !reflect.DeepEqual(got, []string{"#a", "#b"}) {
		t.Fatalf("OnQuit = %v", got)
	}
	for _, c := range []string{"#a", "#b"} {
		if tr.Contains("alice", c) {
			t.Errorf("alice still in %s", c)
		}
	}
	if got := tr.Occupants("#b"); len(got) != 0 {
		t.Errorf("#b should be empty, got %v", got)
	}
	users, channels := tr.Len()
	if users != 1 || channels != 1 {
		t.Errorf("empty entries leaked: %d users %d channels", users, channels)
	}
	if again := tr.OnQuit("alice", ""); again != nil {
		t.Errorf("second quit = %v, want nil", again)
	}
}

func TestQueriesDoNotAutovivify(t *testing.T) {
	tr := New()
	_ = tr.Occupants("#x")
	_ = tr.Channels("nobody")
	_ = tr.Contains("nobody", "#x")
	tr.OnPart("nobody", "#x", "")
	tr.OnQuit("nobody", "")
	tr.OnNick("nobody", "somebody")
	if users, channels := tr.Len(); users != 0 || channels != 0 {
		t.Fatalf("lookups created entries: %d users %d channels", users, channels)
	}
}

func TestNickRename(t *testing.T) {
	tr := New()
	tr.OnJoin("alice", "#a")
	tr.OnJoin("alice", "#b")

	got := tr.OnNick("alice", "Alice2")
	if !reflect.DeepEqual(got, []string{"#a", "#b"}) {
		t.Fatalf("OnNick = %v", got)
	}
	if tr.Contains("alice", "#a") || !tr.Contains("alice2", "#a") {
		t.Fatalf("rename not applied: %v", tr.Occupants("#a"))
	}

	// Case-only change keeps the membership.
	tr.OnNick("Alice2", "ALICE2")
	if got := tr.Channels("alice2"); len(got) != 2 {
		t.Fatalf("case change lost channels: %v", got)
	}
}

func TestDropChannelAndReset(t *testing.T) {
	tr := New()
	tr.OnJoin("alice", "#a")
	tr.OnJoin("bob", "#a")
	tr.OnJoin("bob", "#b")

	tr.DropChannel("#A")
	if got := tr.Occupants("#a"); len(got) != 0 {
		t.Fatalf("#a not dropped: %v", got)
	}
	if got := tr.Channels("bob"); !reflect.DeepEqual(got, []string{"#b"}) {
		t.Fatalf("bob channels = %v", got)
	}

	tr.Reset()
	if users, channels := tr.Len(); users != 0 || channels != 0 {
		t.Fatalf("Reset left %d users %d channels", users, channels)
	}
}

func TestCountsAreFolded(t *testing.T) {
	tr := New()
	tr.OnJoin("alice", "#Go")
	tr.OnJoin("bob", "#go")
	if got := tr.Counts(); got["#go"] != 2 {
		t.Fatalf("Counts = %v", got)
	}
}
