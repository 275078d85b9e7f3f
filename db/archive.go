package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/irclogger/telemetry"
)

// ErrArchiveFull is returned by Append when the queue is full; the line is dropped.
var ErrArchiveFull = errors.New("archive queue full")

const (
	defaultArchiveQueue = 1024
	defaultArchiveBatch = 100
	defaultFlushEvery   = time.Second
)

// Inserter persists a batch of lines.
type Inserter func(ctx context.Context, lines []Line) error

// Archive mirrors log lines into Postgres from a background worker. Append
// never blocks: when the queue is full the line is dropped and counted.
type Archive struct {
	insert     Inserter
	queue      chan Line
	batch      int
	flushEvery time.Duration
	warn       rate.Sometimes
	log        *slog.Logger
}

// NewArchive returns an archive writing to db.
func NewArchive(db *sql.DB) *Archive {
	return NewArchiveWith(func(ctx context.Context, lines []Line) error {
		return InsertLines(ctx, db, lines)
	}, defaultArchiveQueue)
}

// NewArchiveWith returns an archive using insert and a queue of size n.
func NewArchiveWith(insert Inserter, n int) *Archive {
	if n <= 0 {
		n = defaultArchiveQueue
	}
	return &Archive{
		insert:     insert,
		queue:      make(chan Line, n),
		batch:      defaultArchiveBatch,
		flushEvery: defaultFlushEvery,
		warn:       rate.Sometimes{First: 1, Interval: time.Minute},
		log:        slog.Default().With(slog.String("component", "archive")),
	}
}

// Append queues one line.
func (a *Archive) Append(channel string, ts time.Time, text string) error {
	select {
	case a.queue <- Line{Channel: channel, LoggedAt: ts, Text: text}:
		return nil
	default:
		telemetry.Inc(telemetry.ArchiveDropped)
		a.warn.Do(func() { a.log.Warn("archive queue full; dropping lines") })
		return ErrArchiveFull
	}
}

// Serve batches queued lines into the database until ctx is done, then
// flushes what is left.
func (a *Archive) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.flushEvery)
	defer ticker.Stop()
	pending := make([]Line, 0, a.batch)
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case l := <-a.queue:
					pending = append(pending, l)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.flush(flushCtx, pending)
			cancel()
			return ctx.Err()
		case l := <-a.queue:
			pending = append(pending, l)
			if len(pending) >= a.batch {
				a.flush(ctx, pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				a.flush(ctx, pending)
				pending = pending[:0]
			}
		}
	}
}

// String names the service in supervisor logs.
func (a *Archive) String() string { return "archive" }

func (a *Archive) flush(ctx context.Context, lines []Line) {
	if len(lines) == 0 {
		return
	}
	ctx, span := telemetry.StartSpan(ctx, "db", "archive.insert")
	defer span.End()
	if err := a.insert(ctx, lines); err != nil {
		telemetry.RecordError(span, err)
		for range lines {
			telemetry.Inc(telemetry.ArchiveDropped)
		}
		a.warn.Do(func() {
			a.log.Warn("archive insert failed; lines dropped", slog.Int("count", len(lines)), slog.Any("err", err))
		})
		return
	}
	telemetry.SetSpanSuccess(span)
}
