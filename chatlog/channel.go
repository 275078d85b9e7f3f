package chatlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/irclogger/telemetry"
)

type opKind int

const (
	opAppend opKind = iota
	opRotate
	opSync
)

type op struct {
	kind opKind
	ts   time.Time
	text string
	done chan error
}

// channelLog owns one channel's file. Everything below the mutex is touched
// only by run.
type channelLog struct {
	w    *Writer
	name string
	dir  string
	ops  chan op
	done chan error

	mu      sync.Mutex // guards path, lastErr for Status
	path    string
	lastErr error

	file  *os.File
	timer *time.Timer

	reopen   rate.Sometimes
	dropWarn rate.Sometimes
	log      *slog.Logger
}

func newChannelLog(w *Writer, name, dir string) *channelLog {
	return &channelLog{
		w:        w,
		name:     name,
		dir:      dir,
		ops:      make(chan op, w.queueSize),
		done:     make(chan error, 1),
		reopen:   rate.Sometimes{Interval: w.reopenEvery},
		dropWarn: rate.Sometimes{First: 1, Interval: w.reopenEvery},
		log:      w.logger.With(slog.String("channel", name)),
	}
}

func (c *channelLog) start() {
	now := c.w.clock.Now()
	if err := c.open(now); err != nil {
		c.log.Error("log file unavailable; channel disabled until it can be opened", slog.Any("err", err))
	}
	c.schedule(now)
	go c.run()
}

func (c *channelLog) run() {
	for {
		var fire <-chan time.Time
		if c.timer != nil {
			fire = c.timer.C
		}
		select {
		case o, ok := <-c.ops:
			if !ok {
				c.done <- c.shutdown()
				return
			}
			c.handle(o)
		case <-fire:
			c.timer = nil
			// Lines queued before midnight belong to the old file.
			if !c.drainQueued() {
				c.done <- c.shutdown()
				return
			}
			_ = c.rotate()
		}
	}
}

// drainQueued handles every op already queued. It returns false once the
// queue has been closed.
func (c *channelLog) drainQueued() bool {
	for {
		select {
		case o, ok := <-c.ops:
			if !ok {
				return false
			}
			c.handle(o)
		default:
			return true
		}
	}
}

func (c *channelLog) handle(o op) {
	switch o.kind {
	case opAppend:
		c.write(o.ts, o.text)
	case opRotate:
		o.done <- c.rotate()
	case opSync:
		if c.file == nil {
			o.done <- ErrChannelDisabled
			return
		}
		o.done <- c.file.Sync()
	}
}

// rotate always closes before it opens, then replaces the pending timer.
func (c *channelLog) rotate() error {
	now := c.w.clock.Now()
	_, span := telemetry.StartSpan(context.Background(), "chatlog", "chatlog.rotate", telemetry.ChannelAttr(c.name))
	defer span.End()

	c.closeFile()
	err := c.open(now)
	c.schedule(now)
	if err != nil {
		telemetry.RecordError(span, err)
		c.log.Error("log rotation failed; channel disabled", slog.Any("err", err))
		return fmt.Errorf("%w: %v", ErrChannelDisabled, err)
	}
	telemetry.Inc(telemetry.Rotations)
	telemetry.SetSpanSuccess(span)
	c.log.Info("log rotated", slog.String("path", c.currentPath()))
	return nil
}

func (c *channelLog) schedule(now time.Time) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.NewTimer(untilRotation(now))
}

func (c *channelLog) open(now time.Time) error {
	path := filepath.Join(c.dir, c.w.layout.FileName(c.name, now))
	err := os.MkdirAll(c.dir, 0o755)
	if err == nil {
		var f *os.File
		//nolint:gosec // G304: path is built from the configured output root and channel name
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			c.file = f
		}
	}
	c.mu.Lock()
	c.path = path
	c.lastErr = err
	c.mu.Unlock()
	if err != nil {
		telemetry.Inc(telemetry.RotationFailures)
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}

func (c *channelLog) closeFile() {
	if c.file == nil {
		return
	}
	if err := c.file.Close(); err != nil {
		c.log.Warn("close log file", slog.Any("err", err))
	}
	c.file = nil
}

func (c *channelLog) write(ts time.Time, text string) {
	if c.file == nil {
		c.reopen.Do(func() {
			if err := c.open(c.w.clock.Now()); err == nil {
				c.log.Info("log file reopened", slog.String("path", c.currentPath()))
			}
		})
	}
	if c.file == nil {
		c.drop("log file unavailable", c.currentErr())
		return
	}
	if _, err := c.file.WriteString(FormatLine(ts, text)); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.drop("log write failed", err)
		return
	}
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	telemetry.IncLabel(telemetry.LogLines, c.name)
}

func (c *channelLog) drop(msg string, err error) {
	telemetry.IncLabel(telemetry.LogLinesDropped, c.name)
	c.dropWarn.Do(func() {
		c.log.Warn(msg+"; dropping lines", slog.Any("err", err))
	})
}

func (c *channelLog) shutdown() error {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.file == nil {
		return nil
	}
	syncErr := c.file.Sync()
	closeErr := c.file.Close()
	c.file = nil
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", c.currentPath(), closeErr)
	}
	if syncErr != nil {
		c.log.Warn("sync log file on shutdown", slog.Any("err", syncErr))
	}
	return nil
}

func (c *channelLog) currentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

func (c *channelLog) currentErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *channelLog) status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ChannelStatus{Channel: c.name, Path: c.path, Healthy: c.lastErr == nil}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
