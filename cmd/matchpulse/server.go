package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/matchpulse/matchpulse/internal/api"
	"github.com/matchpulse/matchpulse/internal/apns"
	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/engine"
	"github.com/matchpulse/matchpulse/internal/metrics"
	"github.com/matchpulse/matchpulse/internal/push"
	"github.com/matchpulse/matchpulse/internal/scoring"
	"github.com/matchpulse/matchpulse/internal/session"
	"github.com/matchpulse/matchpulse/internal/sleeper"
	"github.com/matchpulse/matchpulse/internal/store"
	"github.com/matchpulse/matchpulse/internal/store/redis"
	"github.com/matchpulse/matchpulse/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start MatchPulse server",
	Long:  `Start the MatchPulse server with the client API, lifecycle engine, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting MatchPulse")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	st, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close storage")
			}
		}()
		logger.Info().
			Str("type", cfg.Storage.Type).
			Str("redis_host", cfg.Storage.Redis.Host).
			Int("redis_port", cfg.Storage.Redis.Port).
			Msg("Storage initialized")
	} else {
		logger.Warn().Msg("Running without reference-data storage, names resolve after the first refresh only")
	}

	// Initialize session registry
	registry := session.NewRegistry(buildWindows(cfg.TTL), session.RealClock{}, logger)
	logger.Info().Msg("Session registry initialized")

	// Initialize upstream provider client
	provider, err := sleeper.NewClient(cfg.Sleeper, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize provider client: %w", err)
	}

	logger.Info().
		Str("base_url", cfg.Sleeper.BaseURL).
		Str("season", cfg.Sleeper.Season).
		Msg("Provider client initialized")

	// Initialize scoring
	directory := engine.NewDirectory()
	aggregator := scoring.NewAggregator(provider, directory.Resolve, logger)
	detector := scoring.Detector{
		Epsilon:      cfg.Detector.ScoreEpsilon,
		NotableDelta: cfg.Detector.NotableDelta,
	}

	// Initialize push transport
	transport, err := apns.NewClient(cfg.APNS, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize APNS client: %w", err)
	}
	dispatcher := push.NewDispatcher(transport, cfg.Engine.DispatchRetries, logger)

	logger.Info().
		Str("topic", cfg.APNS.Topic).
		Bool("sandbox", cfg.APNS.UseSandbox).
		Msg("Push dispatcher initialized")

	// Initialize lifecycle engine
	eng, err := engine.New(cfg.Engine, engine.Deps{
		Registry:   registry,
		Provider:   provider,
		Aggregator: aggregator,
		Detector:   detector,
		Dispatcher: dispatcher,
		Store:      st,
		Directory:  directory,
		Clock:      session.RealClock{},
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize lifecycle engine: %w", err)
	}

	eng.Start()

	// Initialize API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, registry, eng, provider, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	logger.Info().Msg("MatchPulse startup complete")
	logger.Info().Msgf("API: http://%s/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, refreshing reference data...")
			if err := eng.RefreshReferenceData(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Failed to refresh reference data")
			} else {
				logger.Info().Msg("Reference data refreshed successfully")
			}
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers
	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("MatchPulse stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (store.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (use 'redis' or 'none')", storageType)
	}
}

// buildWindows maps TTL configuration onto the registry's window table.
func buildWindows(cfg config.TTLConfig) session.Windows {
	w := session.DefaultWindows()

	if day, err := config.ParseWeekday(cfg.PrimaryDay); err == nil {
		w.Primary = day
	}
	if len(cfg.SecondaryDays) > 0 {
		secondary := make(map[time.Weekday]bool, len(cfg.SecondaryDays))
		for _, name := range cfg.SecondaryDays {
			if day, err := config.ParseWeekday(name); err == nil {
				secondary[day] = true
			}
		}
		w.Secondary = secondary
	}

	w.PrimaryWindow = config.ParseDuration(cfg.PrimaryWindow, w.PrimaryWindow)
	w.SecondaryWindow = config.ParseDuration(cfg.SecondaryWin, w.SecondaryWindow)
	w.DefaultWindow = config.ParseDuration(cfg.DefaultWindow, w.DefaultWindow)
	return w
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
