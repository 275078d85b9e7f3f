// Package config loads environment variables and provides a typed Config used across the daemon.
// It applies sensible defaults so the logger can run with only a host and a channel;
// command-line flags override the environment in main. Use Validate before starting.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoChannels is returned by Validate when no channel is configured.
	ErrNoChannels = errors.New("no channels specified")
	// ErrNoHost is returned by Validate when no server host is configured.
	ErrNoHost = errors.New("no host specified")
)

// DefaultPort is the plain-text IRC port.
const DefaultPort = 6667

type Config struct {
	// IRC
	Host     string
	Port     int
	Nick     string
	RealName string
	Channels []string
	TLS      bool

	// Logs
	OutputDir     string
	FileLayout    string
	SystemChannel string

	// Session
	ReconnectDelay       time.Duration
	ReconnectMinInterval time.Duration
	ReconnectBackoff     string // fixed | exponential
	ReconnectMaxDelay    time.Duration
	KeepAlive            time.Duration
	ReadTimeout          time.Duration
	ConnectTimeout       time.Duration

	// HTTP status server; "off" disables it.
	HTTPAddr string

	// Database archive; empty disables it.
	DBDsn string

	// Process
	PIDFile string
	Daemon  bool
	Verbose bool
}

// Load reads environment variables and applies defaults. Malformed numbers and
// durations are errors; missing values never are (see Validate).
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Host = os.Getenv("IRC_HOST")
	if cfg.Port, err = intEnv("IRC_PORT", DefaultPort); err != nil {
		return nil, err
	}
	cfg.Nick = os.Getenv("IRC_NICK")
	if cfg.Nick == "" {
		// fall back to the login name
		cfg.Nick = os.Getenv("USER")
	}
	cfg.RealName = os.Getenv("IRC_REALNAME")
	cfg.Channels = SplitList(os.Getenv("IRC_CHANNELS"))
	if cfg.TLS, err = boolEnv("IRC_TLS"); err != nil {
		return nil, err
	}

	if cfg.OutputDir, err = ResolvePath(os.Getenv("LOG_OUTPUT_DIR")); err != nil {
		return nil, err
	}
	cfg.FileLayout = os.Getenv("LOG_FILE_LAYOUT")
	if cfg.FileLayout == "" {
		cfg.FileLayout = "date"
	}
	cfg.SystemChannel = os.Getenv("LOG_SYSTEM_CHANNEL")

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"RECONNECT_DELAY", 5 * time.Second, &cfg.ReconnectDelay},
		{"RECONNECT_MIN_INTERVAL", 5 * time.Second, &cfg.ReconnectMinInterval},
		{"RECONNECT_MAX_DELAY", 5 * time.Minute, &cfg.ReconnectMaxDelay},
		{"KEEPALIVE_INTERVAL", 60 * time.Second, &cfg.KeepAlive},
		{"READ_TIMEOUT", 4 * time.Minute, &cfg.ReadTimeout},
		{"CONNECT_TIMEOUT", 30 * time.Second, &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}
	cfg.ReconnectBackoff = strings.ToLower(os.Getenv("RECONNECT_BACKOFF"))
	if cfg.ReconnectBackoff == "" {
		cfg.ReconnectBackoff = "fixed"
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = "127.0.0.1:8080"
	}
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.PIDFile = os.Getenv("PID_FILE")
	if cfg.Daemon, err = boolEnv("DAEMON"); err != nil {
		return nil, err
	}
	if cfg.Verbose, err = boolEnv("VERBOSE"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the daemon cannot start without.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return ErrNoChannels
	}
	if c.Host == "" {
		return ErrNoHost
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Nick == "" {
		return fmt.Errorf("no nickname specified and USER is unset")
	}
	if c.ReconnectMinInterval <= 0 {
		return fmt.Errorf("RECONNECT_MIN_INTERVAL must be positive, got %v", c.ReconnectMinInterval)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("RECONNECT_DELAY must not be negative, got %v", c.ReconnectDelay)
	}
	switch c.ReconnectBackoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("invalid RECONNECT_BACKOFF %q (want fixed or exponential)", c.ReconnectBackoff)
	}
	return nil
}

// HTTPEnabled reports whether the status server should run.
func (c *Config) HTTPEnabled() bool {
	return c.HTTPAddr != "" && !strings.EqualFold(c.HTTPAddr, "off")
}

// ResolvePath expands a leading "~" and makes p absolute. The empty string
// resolves to the working directory.
func ResolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", p, err)
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	return abs, nil
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return d, nil
}
