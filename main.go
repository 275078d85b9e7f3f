// Command irclogger connects to an IRC server, joins the configured channels
// and appends their traffic to per-channel, per-day log files.
// It:
//   - Loads configuration from the environment (and an optional .env file);
//     command-line flags override it.
//   - Runs the chat recorder (connection, session, routing, log files) under a
//     suture supervisor, optionally mirroring lines into Postgres.
//   - Exposes a small HTTP server with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: QUIT is sent and every file is
// flushed and closed.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/irclogger/chat"
	"github.com/onnwee/irclogger/chatlog"
	"github.com/onnwee/irclogger/config"
	"github.com/onnwee/irclogger/db"
	"github.com/onnwee/irclogger/ircproto"
	"github.com/onnwee/irclogger/server"
	"github.com/onnwee/irclogger/session"
	"github.com/onnwee/irclogger/supervisor"
	"github.com/onnwee/irclogger/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// usageError marks failures that should exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "irclogger: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, cmd.UsageString())
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type flags struct {
	channels []string
	nick     string
	output   string
	pidfile  string
	daemon   bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "irclogger [flags] <host> [<port>]",
		Short:         "Log IRC channels to per-day files",
		Args:          cobra.MaximumNArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if err := applyFlags(cmd, cfg, f, args); err != nil {
				return usageError{err}
			}
			if err := cfg.Validate(); err != nil {
				if errors.Is(err, config.ErrNoChannels) || errors.Is(err, config.ErrNoHost) {
					return usageError{err}
				}
				return err
			}
			if cfg.Daemon && !isDaemonChild() {
				pid, err := daemonize()
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "irclogger running in background (pid %d)\n", pid)
				return nil
			}
			setupLogging(cfg.Verbose)
			return run(cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.channels, "channel", "c", nil, "channel to log (repeatable, comma separated lists allowed)")
	fl.StringVarP(&f.nick, "nick", "n", "", "nickname (default $USER)")
	fl.StringVarP(&f.output, "output", "o", "", "log output directory (default current directory)")
	fl.StringVarP(&f.pidfile, "pidfile", "p", "", "write the process id to this file")
	fl.BoolVarP(&f.daemon, "daemon", "d", false, "detach and run in the background")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log raw protocol traffic")
	return cmd
}

// applyFlags overrides env values with the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f flags, args []string) error {
	fl := cmd.Flags()
	if fl.Changed("channel") {
		cfg.Channels = ircproto.SplitChannels(f.channels)
	}
	if fl.Changed("nick") {
		cfg.Nick = f.nick
	}
	if fl.Changed("output") {
		dir, err := config.ResolvePath(f.output)
		if err != nil {
			return err
		}
		cfg.OutputDir = dir
	}
	if fl.Changed("pidfile") {
		cfg.PIDFile = f.pidfile
	}
	if fl.Changed("daemon") {
		cfg.Daemon = f.daemon
	}
	if fl.Changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if len(args) > 0 {
		cfg.Host = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Port = port
	}
	return nil
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT; verbose forces debug.
func setupLogging(verbose bool) {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

func run(cfg *config.Config) error {
	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("irclogger", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := chatlog.ParseLayout(cfg.FileLayout)
	if err != nil {
		return err
	}
	logChannels := append([]string(nil), cfg.Channels...)
	if cfg.SystemChannel != "" {
		logChannels = append(logChannels, cfg.SystemChannel)
	}
	writer, err := chatlog.Open(cfg.OutputDir, ircproto.SplitChannels(logChannels), chatlog.WithLayout(layout))
	if err != nil {
		return fmt.Errorf("open log files: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("failed to close log files", slog.Any("err", err))
		}
	}()
	sinks := chat.MultiSink{writer}

	var archive *db.Archive
	if cfg.DBDsn != "" {
		database, err := openArchiveDB(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		archive = db.NewArchive(database)
		sinks = append(sinks, archive)
	}

	client := ircproto.NewClient(ircproto.Config{
		TLS:            cfg.TLS,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		Verbose:        cfg.Verbose,
	})
	defer func() { _ = client.Shutdown() }()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	realname := cfg.RealName
	if realname == "" {
		realname = fmt.Sprintf("%s on %s using irclogger/%s", cfg.Nick, hostname, version)
	}
	rec := chat.NewRecorder(client, sinks, session.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Nick:        cfg.Nick,
		Channels:    cfg.Channels,
		Hostname:    hostname,
		RealName:    realname,
		KeepAlive:   cfg.KeepAlive,
		QuitMessage: "irclogger/" + version,
	}, chat.RecorderOptions{
		Policy:        newPolicy(cfg),
		SystemChannel: cfg.SystemChannel,
	})
	defer rec.Close()

	tree := supervisor.New(slog.Default(), supervisor.TreeConfig{})
	tree.AddSessionService(rec)
	if archive != nil {
		tree.AddSessionService(archive)
	}
	if cfg.HTTPEnabled() {
		mux := server.NewMux(ctx, server.Sources{Session: rec.Session(), Roster: rec.Roster(), Logs: writer})
		tree.AddAPIService(server.NewService(cfg.HTTPAddr, mux))
	}

	if cfg.PIDFile != "" {
		if err := writePIDFile(cfg.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := os.Remove(cfg.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove pid file", slog.String("path", cfg.PIDFile), slog.Any("err", err))
			}
		}()
	}

	slog.Info("irclogger starting",
		slog.String("version", version),
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("nick", cfg.Nick),
		slog.Any("channels", writer.Channels()),
		slog.String("output", cfg.OutputDir))

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		slog.Warn("services did not stop in time", slog.Int("count", len(report)))
	}
	slog.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openArchiveDB connects and migrates the archive database: versioned
// migrations first, the embedded statements as a fallback.
func openArchiveDB(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
	}
	return database, nil
}

func newPolicy(cfg *config.Config) *session.Policy {
	if cfg.ReconnectBackoff == "exponential" {
		return session.NewExponentialPolicy(cfg.ReconnectDelay, cfg.ReconnectMaxDelay, cfg.ReconnectMinInterval)
	}
	return session.NewFixedPolicy(cfg.ReconnectDelay, cfg.ReconnectMinInterval)
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}
