// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ConnectAttempts     prometheus.Counter
	ReconnectsScheduled prometheus.Counter
	NickCollisions      prometheus.Counter
	Rotations           prometheus.Counter
	RotationFailures    prometheus.Counter
	ArchiveDropped      prometheus.Counter

	TransportErrors *prometheus.CounterVec // kind
	LogLines        *prometheus.CounterVec // channel
	LogLinesDropped *prometheus.CounterVec // channel

	// Histograms (seconds)
	ConnectDuration prometheus.Observer

	// Gauges
	SessionStateGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "irclogger_connect_attempts_total", Help: "Number of connection attempts issued to the transport"})
		ReconnectsScheduled = promauto.NewCounter(prometheus.CounterOpts{Name: "irclogger_reconnects_scheduled_total", Help: "Number of reconnect attempts scheduled after a disconnect"})
		NickCollisions = promauto.NewCounter(prometheus.CounterOpts{Name: "irclogger_nick_collisions_total", Help: "Number of nickname-in-use replies received"})
		Rotations = promauto.NewCounter(prometheus.CounterOpts{Name: "irclogger_rotations_total", Help: "Number of log file rotations performed"})
		RotationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "irclogger_rotation_failures_total", Help: "Number of log file opens that failed"})
		ArchiveDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "irclogger_archive_dropped_total", Help: "Number of log lines not mirrored to the archive database"})
		TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "irclogger_transport_errors_total", Help: "Transport failures by kind"}, []string{"kind"})
		LogLines = promauto.NewCounterVec(prometheus.CounterOpts{Name: "irclogger_log_lines_total", Help: "Log lines written per channel"}, []string{"channel"})
		LogLinesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "irclogger_log_lines_dropped_total", Help: "Log lines dropped per channel because its file is unavailable"}, []string{"channel"})
		ConnectDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "irclogger_connect_duration_seconds", Help: "Time from connect request to registered session", Buckets: prometheus.DefBuckets})
		SessionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "irclogger_session_state", Help: "Session state: 0=disconnected 1=connecting 2=authenticating 3=joining 4=active"})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncLabel increments the labelled counter if metrics are initialized.
func IncLabel(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

// SetSessionState records the numeric session state.
func SetSessionState(n int) {
	if SessionStateGauge != nil {
		SessionStateGauge.Set(float64(n))
	}
}

// Observe records d in obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
