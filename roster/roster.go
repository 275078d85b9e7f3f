// Package roster tracks which users occupy which channels.
//
// The roster is advisory: it is rebuilt from JOIN/NAMES traffic after every
// connection and events for users or channels it does not know about are
// silently ignored. Entries are created only by joins and are removed as
// soon as they become empty, so long uptimes do not accumulate empty sets.
package roster

import (
	"sort"
	"sync"

	"github.com/onnwee/irclogger/ircproto"
)

// Tracker holds symmetric channel->users and user->channels maps keyed by
// case-folded names. Display names are kept as first seen.
type Tracker struct {
	mu sync.RWMutex
	// folded channel -> folded nick -> display nick
	channels map[string]map[string]string
	// folded nick -> folded channel -> display channel
	users map[string]map[string]string
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		channels: make(map[string]map[string]string),
		users:    make(map[string]map[string]string),
	}
}

// OnJoin records that user is present in channel.
func (t *Tracker) OnJoin(user, channel string) {
	if user == "" || channel == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(user, channel)
}

func (t *Tracker) add(user, channel string) {
	u, c := ircproto.Fold(user), ircproto.Fold(channel)
	occupants, ok := t.channels[c]
	if !ok {
		occupants = make(map[string]string)
		t.channels[c] = occupants
	}
	occupants[u] = user
	joined, ok := t.users[u]
	if !ok {
		joined = make(map[string]string)
		t.users[u] = joined
	}
	joined[c] = channel
}

// OnPart removes user from channel. The reason is informational only.
// It reports whether the membership was known.
func (t *Tracker) OnPart(user, channel, reason string) bool {
	_ = reason
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(ircproto.Fold(user), ircproto.Fold(channel))
}

func (t *Tracker) remove(u, c string) bool {
	occupants, ok := t.channels[c]
	if !ok {
		return false
	}
	if _, ok := occupants[u]; !ok {
		return false
	}
	delete(occupants, u)
	if len(occupants) == 0 {
		delete(t.channels, c)
	}
	if joined, ok := t.users[u]; ok {
		delete(joined, c)
		if len(joined) == 0 {
			delete(t.users, u)
		}
	}
	return true
}

// OnQuit removes user from every channel and returns the display names of
// the channels the user occupied, sorted. Unknown users yield nil.
func (t *Tracker) OnQuit(user, reason string) []string {
	_ = reason
	t.mu.Lock()
	defer t.mu.Unlock()
	u := ircproto.Fold(user)
	joined, ok := t.users[u]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(joined))
	for c, display := range joined {
		out = append(out, display)
		if occupants, ok := t.channels[c]; ok {
			delete(occupants, u)
			if len(occupants) == 0 {
				delete(t.channels, c)
			}
		}
	}
	delete(t.users, u)
	sort.Strings(out)
	return out
}

// OnNick renames a user and returns the channels the user shares with the
// roster, sorted. A rename of an unknown user is a no-op.
func (t *Tracker) OnNick(oldNick, newNick string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := ircproto.Fold(oldNick)
	joined, ok := t.users[u]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(joined))
	for _, display := range joined {
		out = append(out, display)
	}
	for _, display := range out {
		t.remove(u, ircproto.Fold(display))
		t.add(newNick, display)
	}
	sort.Strings(out)
	return out
}

// DropChannel forgets every occupant of channel.
func (t *Tracker) DropChannel(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := ircproto.Fold(channel)
	for u := range t.channels[c] {
		t.remove(u, c)
	}
}

// Reset forgets all membership.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = make(map[string]map[string]string)
	t.users = make(map[string]map[string]string)
}

// Occupants returns the display names of the users in channel, sorted.
func (t *Tracker) Occupants(channel string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	occupants := t.channels[ircproto.Fold(channel)]
	out := make([]string, 0, len(occupants))
	for _, display := range occupants {
		out = append(out, display)
	}
	sort.Strings(out)
	return out
}

// Channels returns the display names of the channels user occupies, sorted.
func (t *Tracker) Channels(user string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	joined := t.users[ircproto.Fold(user)]
	out := make([]string, 0, len(joined))
	for _, display := range joined {
		out = append(out, display)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether user is recorded in channel.
func (t *Tracker) Contains(user, channel string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.channels[ircproto.Fold(channel)][ircproto.Fold(user)]
	return ok
}

// Counts returns the number of occupants per tracked channel, keyed by
// folded channel name.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.channels))
	for c, occupants := range t.channels {
		out[c] = len(occupants)
	}
	return out
}

// Len returns the number of tracked users and channels.
func (t *Tracker) Len() (users, channels int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users), len(t.channels)
}
