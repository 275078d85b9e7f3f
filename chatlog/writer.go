// Package chatlog persists channel activity to per-channel, append-only log
// files that rotate at local midnight.
//
// Each configured channel is served by its own goroutine which exclusively
// owns the channel's file handle. Appends, rotations and the rotation timer
// are all processed by that goroutine in submission order, so a rotation can
// never race an in-flight append and lines written around a midnight
// boundary land, in order, in the old and new files respectively.
//
// Layout on disk:
//
//	<root>/<channel>/<YYYY-MM-DD>.log            (LayoutDate, default)
//	<root>/<channel>/<channel>.<YYYY-MM-DD>.log  (LayoutChannelDate)
//
// and each line is "[HH:MM:SS] text\n", UTF-8.
package chatlog

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/irclogger/ircproto"
)

var (
	// ErrUnknownChannel is returned for channels the writer was not opened with.
	ErrUnknownChannel = errors.New("chatlog: unknown channel")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chatlog: writer closed")
	// ErrChannelDisabled is returned by Rotate and Sync while a channel has no usable file.
	ErrChannelDisabled = errors.New("chatlog: channel log unavailable")
)

const defaultQueueSize = 256

// Clock supplies the current time. Tests replace it to cross midnight.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option customizes a Writer.
type Option func(*Writer)

// WithClock overrides the clock used to name files and schedule rotation.
func WithClock(c Clock) Option { return func(w *Writer) { w.clock = c } }

// WithLayout selects the file naming layout.
func WithLayout(l Layout) Option { return func(w *Writer) { w.layout = l } }

// WithQueueSize sets the per-channel append queue length. Appends block
// when the queue is full; nothing is dropped.
func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithLogger sets the diagnostic logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.logger = l } }

// WithReopenInterval sets how often a disabled channel retries opening its file.
func WithReopenInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.reopenEvery = d
		}
	}
}

// Writer routes lines to per-channel log files by channel name.
type Writer struct {
	root        string
	layout      Layout
	clock       Clock
	logger      *slog.Logger
	queueSize   int
	reopenEvery time.Duration

	mu       sync.RWMutex
	closed   bool
	channels map[string]*channelLog // folded name -> log
}

// ChannelStatus is a point-in-time view of one channel's log.
type ChannelStatus struct {
	Channel   string `json:"channel"`
	Path      string `json:"path,omitempty"`
	Healthy   bool   `json:"healthy"`
	LastError string `json:"last_error,omitempty"`
}

// Open creates the channel directories, opens today's file for every
// channel and starts the per-channel goroutines. A channel whose file cannot
// be opened is reported and started disabled; it does not fail Open.
func Open(root string, channels []string, opts ...Option) (*Writer, error) {
	if root == "" {
		return nil, fmt.Errorf("chatlog: empty output root")
	}
	w := &Writer{
		root:        root,
		layout:      LayoutDate,
		clock:       systemClock{},
		logger:      slog.Default(),
		queueSize:   defaultQueueSize,
		reopenEvery: time.Minute,
		channels:    make(map[string]*channelLog),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "chatlog"))

	for _, name := range ircproto.SplitChannels(channels) {
		key := ircproto.Fold(name)
		if _, dup := w.channels[key]; dup {
			continue
		}
		c := newChannelLog(w, name, filepath.Join(root, name))
		w.channels[key] = c
		c.start()
	}
	return w, nil
}

func (w *Writer) lookup(channel string) (*channelLog, error) {
	if w.closed {
		return nil, ErrClosed
	}
	c, ok := w.channels[ircproto.Fold(channel)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return c, nil
}

// Append queues "[HH:MM:SS] text" for channel. It returns once the line is
// queued; lines for one channel are written in the order Append was called.
func (w *Writer) Append(channel string, ts time.Time, text string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, err := w.lookup(channel)
	if err != nil {
		return err
	}
	c.ops <- op{kind: opAppend, ts: ts, text: text}
	return nil
}

// Rotate closes channel's current file and opens the file for the current
// date, rescheduling the midnight timer. It waits for the rotation to finish.
func (w *Writer) Rotate(channel string) error {
	return w.call(channel, opRotate)
}

// Sync waits until every line queued for channel before the call has been
// written, then fsyncs the file.
func (w *Writer) Sync(channel string) error {
	return w.call(channel, opSync)
}

func (w *Writer) call(channel string, kind opKind) error {
	w.mu.RLock()
	c, err := w.lookup(channel)
	if err != nil {
		w.mu.RUnlock()
		return err
	}
	done := make(chan error, 1)
	c.ops <- op{kind: kind, done: done}
	w.mu.RUnlock()
	return <-done
}

// Has reports whether channel is logged by w.
func (w *Writer) Has(channel string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.channels[ircproto.Fold(channel)]
	return ok
}

// Channels returns the configured channel names, sorted.
func (w *Writer) Channels() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.channels))
	for _, c := range w.channels {
		out = append(out, c.name)
	}
	sort.Strings(out)
	return out
}

// Status reports the health of every channel log, sorted by channel.
func (w *Writer) Status() []ChannelStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ChannelStatus, 0, len(w.channels))
	for _, c := range w.channels {
		out = append(out, c.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Close stops the rotation timers, drains every queue, and flushes and
// closes all files. Further calls return ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	for _, c := range w.channels {
		close(c.ops)
	}
	w.mu.Unlock()

	var errs []error
	for _, c := range w.channels {
		if err := <-c.done; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
