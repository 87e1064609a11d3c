package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Poll cycle metrics
	PollTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kscreen_poll_ticks_total",
			Help: "Total number of poll cycles executed",
		},
	)

	PollTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kscreen_poll_tick_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	PollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_poll_errors_total",
			Help: "Poll cycle errors by stage",
		},
		[]string{"stage"},
	)

	PollWindowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kscreen_poll_windows_total",
			Help: "Total replay windows fed to the session tracker",
		},
	)

	Watermark = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kscreen_watermark_milliseconds",
			Help: "Timestamp of the most recently consumed usage event",
		},
	)

	// Event metrics
	UsageEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_usage_events_total",
			Help: "Usage events consumed by kind",
		},
		[]string{"kind"},
	)

	UsageEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_usage_events_dropped_total",
			Help: "Usage events discarded before session tracking",
		},
		[]string{"reason"},
	)

	// Session metrics
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_session_transitions_total",
			Help: "Session open/close transitions",
		},
		[]string{"transition"},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kscreen_open_sessions",
			Help: "Number of currently open app sessions",
		},
	)

	UsageSecondsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kscreen_usage_seconds_consumed_total",
			Help: "Foreground seconds accounted to closed sessions",
		},
	)

	// Policy metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_decisions_total",
			Help: "Rule engine decisions dispatched",
		},
		[]string{"decision", "reason"},
	)

	RuleSetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kscreen_rules",
			Help: "Number of rules in the active snapshot",
		},
	)

	// History metrics
	HistoryRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_history_records_total",
			Help: "History records offered for append by kind and result",
		},
		[]string{"kind", "result"},
	)

	HistoryPrunedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kscreen_history_pruned_total",
			Help: "History records removed by retention",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		PollTicksTotal,
		PollTickDuration,
		PollErrorsTotal,
		PollWindowsTotal,
		Watermark,
		UsageEventsTotal,
		UsageEventsDropped,
		SessionTransitions,
		OpenSessions,
		UsageSecondsConsumed,
		DecisionsTotal,
		RuleSetSize,
		HistoryRecordsTotal,
		HistoryPrunedTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
