package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/irclogger/ircproto"
	"github.com/onnwee/irclogger/roster"
	"github.com/onnwee/irclogger/session"
)

// Recorder runs the dispatcher loop: connection events, session timers and
// routing all happen on the goroutine executing Serve.
type Recorder struct {
	client   *ircproto.Client
	session  *session.Controller
	router   *Router
	roster   *roster.Tracker
	deferred chan func()
	closed   chan struct{}
	once     sync.Once
	log      *slog.Logger
}

// RecorderOptions carries the optional collaborators of a Recorder.
type RecorderOptions struct {
	Policy        *session.Policy
	SystemChannel string
	Logger        *slog.Logger
}

// NewRecorder wires a session, a roster and a router around client. Lines
// for the configured channels (and the system channel, if any) go to sink.
func NewRecorder(client *ircproto.Client, sink Sink, cfg session.Config, opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		client:   client,
		roster:   roster.New(),
		deferred: make(chan func(), 16),
		closed:   make(chan struct{}),
		log:      logger.With(slog.String("component", "recorder")),
	}
	sessOpts := []session.Option{session.WithLogger(logger)}
	if opts.Policy != nil {
		sessOpts = append(sessOpts, session.WithPolicy(opts.Policy))
	}
	r.session = session.New(cfg, client, client, loopScheduler{r}, sessOpts...)
	r.router = NewRouter(r.session, r.roster, sink, r.session.Channels(),
		WithSystemChannel(opts.SystemChannel), WithRouterLogger(logger))
	return r
}

// Session exposes the controller for status reporting.
func (r *Recorder) Session() *session.Controller { return r.session }

// Roster exposes the membership tracker for status reporting.
func (r *Recorder) Roster() *roster.Tracker { return r.roster }

// Serve starts the session and dispatches until ctx is done, then closes
// the connection gracefully.
func (r *Recorder) Serve(ctx context.Context) error {
	r.session.Start()
	defer r.session.Stop()
	r.log.Info("recorder started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("recorder stopping")
			return ctx.Err()
		case in := <-r.client.Events():
			r.dispatch(in)
		case f := <-r.deferred:
			f()
		}
	}
}

// String names the service in supervisor logs.
func (r *Recorder) String() string { return "chat-recorder" }

// Close releases timers that fire after Serve has returned.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.closed) })
}

func (r *Recorder) dispatch(in ircproto.Inbound) {
	if r.client.Stale(in) {
		r.log.Debug("stale event dropped", slog.String("event", ircproto.Name(in.Event)))
		return
	}
	switch ev := in.Event.(type) {
	case ircproto.Ready:
		r.session.HandleReady()
	case ircproto.Connected:
		r.session.HandleConnected(ev.Host, ev.Port)
	case ircproto.Disconnected:
		r.session.HandleDisconnected()
	case ircproto.Error:
		r.session.HandleError(ev.Kind, ev.Detail)
	}
	r.router.Route(in.Event)
}

// loopScheduler hands timer callbacks to the dispatcher loop.
type loopScheduler struct{ r *Recorder }

func (s loopScheduler) Now() time.Time { return time.Now() }

func (s loopScheduler) AfterFunc(d time.Duration, f func()) session.Timer {
	return time.AfterFunc(d, func() {
		select {
		case s.r.deferred <- f:
		case <-s.r.closed:
		}
	})
}
