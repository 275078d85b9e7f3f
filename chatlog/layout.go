package chatlog

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Layout selects how dated log files are named inside a channel directory.
type Layout int

const (
	// LayoutDate names files "<YYYY-MM-DD>.log".
	LayoutDate Layout = iota
	// LayoutChannelDate names files "<channel>.<YYYY-MM-DD>.log".
	LayoutChannelDate
)

const dateFormat = "2006-01-02"

// ParseLayout maps a configuration value to a Layout. The empty string
// selects LayoutDate.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "date":
		return LayoutDate, nil
	case "channel-date", "channel.date":
		return LayoutChannelDate, nil
	default:
		return LayoutDate, fmt.Errorf("unknown log file layout %q (want date or channel-date)", s)
	}
}

// String returns the configuration name of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutChannelDate:
		return "channel-date"
	default:
		return "date"
	}
}

// FileName returns the base name of the log file for channel on day.
func (l Layout) FileName(channel string, day time.Time) string {
	date := day.Format(dateFormat)
	if l == LayoutChannelDate {
		return channel + "." + date + ".log"
	}
	return date + ".log"
}

// FormatLine renders one log line: "[HH:MM:SS] text\n". Embedded line
// breaks are flattened so every append stays a single line, and text that
// is not UTF-8 is decoded as Latin-1.
func FormatLine(ts time.Time, text string) string {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(toUTF8(text))
	return ts.Format("[15:04:05] ") + text + "\n"
}

// toUTF8 returns text unchanged when it is valid UTF-8. Otherwise it is
// most likely from a Latin-1 client; anything still invalid is replaced.
func toUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	if s, err := charmap.ISO8859_1.NewDecoder().String(text); err == nil {
		return s
	}
	return strings.ToValidUTF8(text, "\uFFFD")
}

// nextMidnight returns the first instant of the day after now, in now's location.
func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// untilRotation returns how long to wait before the next rotation. Short
// waits are stretched so a clock step right before midnight cannot spin.
func untilRotation(now time.Time) time.Duration {
	d := nextMidnight(now).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}
