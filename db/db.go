// Package db provides the optional Postgres archive: connection helpers,
// schema migration and a buffered writer that mirrors channel log lines.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Line is one archived log line.
type Line struct {
	Channel  string
	LoggedAt time.Time
	Text     string
}

// Connect opens a Postgres connection for dsn and verifies it is reachable.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DB_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies idempotent schema changes. It is the fallback when
// versioned migrations cannot run.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channel_log_lines (
			id BIGSERIAL PRIMARY KEY,
			channel TEXT NOT NULL,
			logged_at TIMESTAMPTZ NOT NULL,
			line TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_log_lines_channel_logged_at ON channel_log_lines(channel, logged_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// InsertLines writes lines in a single multi-row INSERT.
func InsertLines(ctx context.Context, db *sql.DB, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO channel_log_lines (channel, logged_at, line) VALUES `)
	args := make([]any, 0, len(lines)*3)
	for i, l := range lines {
		if i > 0 {
			b.WriteString(",")
		}
		n := i * 3
		fmt.Fprintf(&b, "($%d,$%d,$%d)", n+1, n+2, n+3)
		args = append(args, l.Channel, l.LoggedAt, l.Text)
	}
	_, err := db.ExecContext(ctx, b.String(), args...)
	return err
}

// CountLines returns the number of archived lines for channel.
func CountLines(ctx context.Context, db *sql.DB, channel string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_log_lines WHERE channel = $1`, channel).Scan(&n)
	return n, err
}
