// Package api exposes the client-facing HTTP surface: device registration,
// heartbeats, session control, and reference-data reads.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/matchpulse/matchpulse/internal/session"
	"github.com/matchpulse/matchpulse/internal/sleeper"
)

// Lifecycle is the engine surface the API drives.
type Lifecycle interface {
	StopSession(ctx context.Context, sessionID string) (session.Session, bool)
	StopDevice(ctx context.Context, deviceID string) (session.Session, bool)
	RefreshReferenceData(ctx context.Context) error
	Games() []sleeper.Game
	Week() int
}

// StatsGateway serves the player-stats passthrough.
type StatsGateway interface {
	GetConsolidatedPlayerStats(ctx context.Context, week int, playerIDs map[string]struct{}) (map[string]sleeper.PlayerStat, error)
}

// Server is the client-facing HTTP server.
type Server struct {
	registry  *session.Registry
	lifecycle Lifecycle
	stats     StatsGateway
	server    *http.Server
	router    *mux.Router
	logger    zerolog.Logger
	listener  net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the API server.
func NewServer(addr string, registry *session.Registry, lifecycle Lifecycle, stats StatsGateway, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		registry:  registry,
		lifecycle: lifecycle,
		stats:     stats,
		router:    router,
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(loggingMiddleware(s.logger))

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	v1.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/token", s.handleSupplyToken).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/stop", s.handleStopSession).Methods(http.MethodPost)
	v1.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/stop", s.handleStopDevice).Methods(http.MethodPost)
	v1.HandleFunc("/games", s.handleGames).Methods(http.MethodGet)
	v1.HandleFunc("/games/refresh", s.handleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/players/stats", s.handlePlayerStats).Methods(http.MethodGet)
	v1.HandleFunc("/players/refresh", s.handleRefresh).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the API server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs each request at debug level.
func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("Request handled")
		})
	}
}
