package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Cycle metrics
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchpulse_cycles_total",
			Help: "Total update cycles executed",
		},
	)

	CyclesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchpulse_cycles_skipped_total",
			Help: "Update cycles skipped",
		},
		[]string{"reason"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchpulse_cycle_duration_seconds",
			Help:    "Update cycle duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchpulse_upstream_errors_total",
			Help: "Upstream provider fetch errors",
		},
		[]string{"endpoint"},
	)

	// Push metrics
	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchpulse_pushes_total",
			Help: "Total push dispatch attempts by event and result",
		},
		[]string{"event", "result"},
	)

	NotablePushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchpulse_notable_pushes_total",
			Help: "Pushes escalated for a notable scoring swing",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchpulse_sessions_active",
			Help: "Number of live widget sessions",
		},
	)

	SessionRetirements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchpulse_session_retirements_total",
			Help: "Session retirements by reason",
		},
		[]string{"reason"},
	)

	DevicesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchpulse_devices_registered",
			Help: "Number of registered devices",
		},
	)

	// Aggregation metrics
	UniquePlayersTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchpulse_unique_players_tracked",
			Help: "Unique starters covered by the last consolidated stats fetch",
		},
	)

	DirectoryRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchpulse_directory_refreshes_total",
			Help: "Reference data refresh runs by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		CyclesTotal,
		CyclesSkipped,
		CycleDuration,
		UpstreamErrors,
		PushesTotal,
		NotablePushes,
		SessionsActive,
		SessionRetirements,
		DevicesRegistered,
		UniquePlayersTracked,
		DirectoryRefreshes,
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
