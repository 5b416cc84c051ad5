// Package engine drives the activity lifecycle: the periodic update cycle,
// heartbeat-expiry sweeps, the daily reference refresh, and game auto-start.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/metrics"
	"github.com/matchpulse/matchpulse/internal/push"
	"github.com/matchpulse/matchpulse/internal/scoring"
	"github.com/matchpulse/matchpulse/internal/session"
	"github.com/matchpulse/matchpulse/internal/sleeper"
	"github.com/matchpulse/matchpulse/internal/store"
)

// Scoreboard feed timestamps carry minute precision.
const gameTimeLayout = "2006-01-02T15:04Z07:00"

// Provider supplies reference data from the upstream platform.
type Provider interface {
	RefreshState(ctx context.Context) (sleeper.LeagueState, error)
	CurrentWeek(ctx context.Context) (int, error)
	GetPlayerDirectory(ctx context.Context) (map[string]sleeper.Player, error)
	GetGameSlate(ctx context.Context) ([]sleeper.Game, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Registry   *session.Registry
	Provider   Provider
	Aggregator *scoring.Aggregator
	Detector   scoring.Detector
	Dispatcher *push.Dispatcher
	Store      store.Store
	Directory  *Directory
	Clock      session.Clock
	Logger     zerolog.Logger
}

// Engine is the lifecycle scheduler.
type Engine struct {
	registry   *session.Registry
	provider   Provider
	aggregator *scoring.Aggregator
	detector   scoring.Detector
	dispatcher *push.Dispatcher
	store      store.Store
	directory  *Directory
	clock      session.Clock
	logger     zerolog.Logger

	updateInterval    time.Duration
	sweepInterval     time.Duration
	autoStartInterval time.Duration
	refreshTime       time.Time
	workers           int

	// cycleRunning guards against overlapping update cycles. A slow
	// cycle makes the next tick a no-op instead of a pile-up.
	cycleRunning atomic.Bool

	mu    sync.RWMutex
	week  int
	games []sleeper.Game

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates the engine. Cadences come from configuration with sane
// fallbacks.
func New(cfg config.EngineConfig, deps Deps) (*Engine, error) {
	refreshTime, err := time.Parse("15:04", cfg.DailyRefreshTime)
	if err != nil {
		return nil, fmt.Errorf("invalid daily_refresh_time %q: %w", cfg.DailyRefreshTime, err)
	}

	workers := cfg.DispatchWorkers
	if workers <= 0 {
		workers = 8
	}

	return &Engine{
		registry:          deps.Registry,
		provider:          deps.Provider,
		aggregator:        deps.Aggregator,
		detector:          deps.Detector,
		dispatcher:        deps.Dispatcher,
		store:             deps.Store,
		directory:         deps.Directory,
		clock:             deps.Clock,
		logger:            deps.Logger.With().Str("component", "engine").Logger(),
		updateInterval:    config.ParseDuration(cfg.UpdateInterval, 30*time.Second),
		sweepInterval:     config.ParseDuration(cfg.SweepInterval, 30*time.Minute),
		autoStartInterval: config.ParseDuration(cfg.AutoStartInterval, 5*time.Minute),
		refreshTime:       refreshTime,
		workers:           workers,
		stopChan:          make(chan struct{}),
	}, nil
}

// Start launches the scheduler loops. Reference data is warmed from
// storage first so the process can resolve names before its first
// upstream refresh completes.
func (e *Engine) Start() {
	e.warmFromStore()

	e.wg.Add(5)
	go e.updateLoop()
	go e.sweepLoop()
	go e.refreshLoop()
	go e.autoStartLoop()
	go func() {
		defer e.wg.Done()
		if err := e.RefreshReferenceData(context.Background()); err != nil {
			e.logger.Error().Err(err).Msg("Initial reference refresh failed")
		}
	}()

	e.logger.Info().
		Dur("update_interval", e.updateInterval).
		Dur("sweep_interval", e.sweepInterval).
		Dur("auto_start_interval", e.autoStartInterval).
		Str("refresh_time", e.refreshTime.Format("15:04")).
		Msg("Lifecycle engine started")
}

// Stop halts all scheduler loops and waits for them to drain.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
	e.logger.Info().Msg("Lifecycle engine stopped")
}

func (e *Engine) updateLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.RunCycle(context.Background())
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.SweepExpired()
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) autoStartLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.autoStartInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.CheckAutoStart(context.Background())
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) refreshLoop() {
	defer e.wg.Done()
	for {
		next := e.calculateNextRefresh()
		wait := next.Sub(e.clock.Now())

		e.logger.Info().
			Time("next_refresh", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next reference refresh")

		select {
		case <-time.After(wait):
			if err := e.RefreshReferenceData(context.Background()); err != nil {
				e.logger.Error().Err(err).Msg("Daily reference refresh failed")
			}
		case <-e.stopChan:
			return
		}
	}
}

// calculateNextRefresh returns the next daily refresh time.
func (e *Engine) calculateNextRefresh() time.Time {
	now := e.clock.Now()

	todayRefresh := time.Date(
		now.Year(), now.Month(), now.Day(),
		e.refreshTime.Hour(), e.refreshTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todayRefresh) {
		return todayRefresh.AddDate(0, 0, 1)
	}
	return todayRefresh
}

// RunCycle executes one update cycle: aggregate every active session's
// matchup, detect changes, and fan out pushes. If the previous cycle is
// still running the tick is skipped.
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.cycleRunning.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.WithLabelValues("overlap").Inc()
		e.logger.Warn().Msg("Previous update cycle still running, skipping tick")
		return
	}
	defer e.cycleRunning.Store(false)

	activeCount, _ := e.registry.Counts()
	metrics.SessionsActive.Set(float64(activeCount))
	metrics.DevicesRegistered.Set(float64(len(e.registry.ListDevices())))

	active := e.registry.ListActive()
	if len(active) == 0 {
		metrics.CyclesSkipped.WithLabelValues("no_sessions").Inc()
		return
	}

	week := e.Week()
	if week == 0 {
		w, err := e.provider.CurrentWeek(ctx)
		if err != nil {
			metrics.UpstreamErrors.WithLabelValues("state").Inc()
			e.logger.Error().Err(err).Msg("Cannot resolve current week, skipping cycle")
			return
		}
		e.setWeek(w)
		week = w
	}

	start := time.Now()
	metrics.CyclesTotal.Inc()

	refs := make([]scoring.MatchupRef, 0, len(active))
	for _, s := range active {
		refs = append(refs, scoring.MatchupRef{
			SessionID: s.ID,
			UserID:    s.UserID,
			LeagueID:  s.LeagueID,
		})
	}

	views, err := e.aggregator.Aggregate(ctx, week, refs)
	if err != nil {
		// Partial results are still usable; sessions in failed leagues
		// simply have no view this cycle.
		metrics.UpstreamErrors.WithLabelValues("aggregate").Inc()
		e.logger.Error().Err(err).Msg("Aggregation reported upstream errors")
	}

	pushed := e.dispatchViews(ctx, active, views)

	elapsed := time.Since(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	e.logger.Debug().
		Int("sessions", len(active)).
		Int("pushed", pushed).
		Dur("elapsed", elapsed).
		Msg("Update cycle complete")
}

// dispatchViews fans pushes out over a bounded worker pool and returns
// how many sessions were pushed to.
func (e *Engine) dispatchViews(ctx context.Context, active []session.Session, views map[string]session.View) int {
	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	var pushed atomic.Int64
	for _, s := range active {
		view, ok := views[s.ID]
		if !ok {
			continue
		}
		send, class := e.detector.ShouldPush(s.LastPushed, view)
		if !send {
			continue
		}
		s := s
		g.Go(func() error {
			e.pushUpdate(ctx, s, view, class)
			pushed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(pushed.Load())
}

func (e *Engine) pushUpdate(ctx context.Context, s session.Session, view session.View, class scoring.AlertClass) {
	result, err := e.dispatcher.Dispatch(ctx, s, view, class)
	metrics.PushesTotal.WithLabelValues(string(push.EventUpdate), result.String()).Inc()
	if class == scoring.AlertNotable {
		metrics.NotablePushes.Inc()
	}

	switch result {
	case push.Delivered:
		e.registry.CompletePush(s.ID, view, e.clock.Now())
	case push.PermanentlyInvalid:
		if _, ok := e.registry.MarkRetired(s.ID, session.RetireCredential); ok {
			metrics.SessionRetirements.WithLabelValues(string(session.RetireCredential)).Inc()
			e.logger.Info().
				Str("session_id", s.ID).
				Str("device_id", s.DeviceID).
				Msg("Session retired, push credential rejected")
		}
	case push.RetriesExhausted:
		// The session stays live; the next cycle tries again from the
		// last acknowledged view.
		e.logger.Warn().
			Err(err).
			Str("session_id", s.ID).
			Msg("Push retries exhausted")
	}
}

// SweepExpired retires sessions whose heartbeat went silent for longer
// than their expiry window. This is the backstop; heartbeats are the
// primary cleanup path.
func (e *Engine) SweepExpired() {
	expired := e.registry.Sweep(e.clock.Now())
	for range expired {
		metrics.SessionRetirements.WithLabelValues(string(session.RetireTTL)).Inc()
	}
	if len(expired) > 0 {
		e.logger.Info().Int("expired", len(expired)).Msg("Swept expired sessions")
	}
}

// CheckAutoStart looks for real-world games kicking off within the lead
// window. Devices without a live session get a start push naming the
// games; devices already live get a content update carrying the message.
func (e *Engine) CheckAutoStart(ctx context.Context) {
	now := e.clock.Now()
	starting := e.gamesStartingSoon(now)
	if len(starting) == 0 {
		return
	}
	message := strings.Join(starting, ", ")

	for _, d := range e.registry.ListDevices() {
		if s, live := e.registry.ForDevice(d.ID); live {
			e.notifyGames(ctx, s, message)
			continue
		}
		if d.PushToStartToken == "" {
			continue
		}

		view := session.View{StatusLabel: "Pregame", ComputedAt: now}
		result, err := e.dispatcher.DispatchStart(ctx, d, view, message)
		metrics.PushesTotal.WithLabelValues(string(push.EventStart), result.String()).Inc()
		if result != push.Delivered {
			e.logger.Warn().
				Err(err).
				Str("device_id", d.ID).
				Msg("Start push not delivered")
			continue
		}

		if _, err := e.registry.StartSession(d.ID, "", d.PushToken); err != nil {
			e.logger.Error().Err(err).Str("device_id", d.ID).Msg("Failed to start session after start push")
		}
	}
}

// notifyGames pushes the game-names message onto an already-live session,
// reusing its last delivered view.
func (e *Engine) notifyGames(ctx context.Context, s session.Session, message string) {
	if s.PushToken == "" {
		return
	}

	view := session.View{StatusLabel: "Pregame", ComputedAt: e.clock.Now()}
	if s.LastPushed != nil {
		view = *s.LastPushed
	}

	result, err := e.dispatcher.DispatchMessage(ctx, s, view, message)
	metrics.PushesTotal.WithLabelValues(string(push.EventUpdate), result.String()).Inc()
	if result != push.Delivered {
		e.logger.Warn().
			Err(err).
			Str("session_id", s.ID).
			Msg("Game-start message not delivered")
	}
}

// gamesStartingSoon returns the names of slate games kicking off within
// one auto-start interval of now.
func (e *Engine) gamesStartingSoon(now time.Time) []string {
	var names []string
	for _, g := range e.Games() {
		start, err := time.Parse(gameTimeLayout, g.Date)
		if err != nil {
			continue
		}
		lead := start.Sub(now)
		if lead > 0 && lead <= e.autoStartInterval {
			names = append(names, g.Name)
		}
	}
	return names
}

// StopSession sends the terminal push and retires the session.
func (e *Engine) StopSession(ctx context.Context, sessionID string) (session.Session, bool) {
	s, ok := e.registry.Get(sessionID)
	if !ok {
		return session.Session{}, false
	}

	e.sendEnd(ctx, s)

	retired, ok := e.registry.MarkRetired(sessionID, session.RetireStopped)
	if ok {
		metrics.SessionRetirements.WithLabelValues(string(session.RetireStopped)).Inc()
	}
	return retired, ok
}

// StopDevice retires whatever live session the device has.
func (e *Engine) StopDevice(ctx context.Context, deviceID string) (session.Session, bool) {
	s, ok := e.registry.ForDevice(deviceID)
	if !ok {
		return session.Session{}, false
	}
	return e.StopSession(ctx, s.ID)
}

func (e *Engine) sendEnd(ctx context.Context, s session.Session) {
	if s.PushToken == "" {
		return
	}

	final := session.View{ComputedAt: e.clock.Now()}
	if s.LastPushed != nil {
		final = *s.LastPushed
	}

	result, err := e.dispatcher.DispatchEnd(ctx, s, final)
	metrics.PushesTotal.WithLabelValues(string(push.EventEnd), result.String()).Inc()
	if result != push.Delivered {
		e.logger.Warn().
			Err(err).
			Str("session_id", s.ID).
			Msg("End push not delivered")
	}
}

// RefreshReferenceData refreshes league state, the player directory, and
// the game slate from the upstream provider, persisting what it can.
// Each piece fails independently.
func (e *Engine) RefreshReferenceData(ctx context.Context) error {
	var errs []error

	state, err := e.provider.RefreshState(ctx)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("state").Inc()
		errs = append(errs, err)
	} else {
		e.setWeek(state.Week)
		if e.store != nil {
			if err := e.store.State().PutLeagueState(ctx, state); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to persist league state")
			}
		}
	}

	players, err := e.provider.GetPlayerDirectory(ctx)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("players").Inc()
		errs = append(errs, err)
	} else {
		now := e.clock.Now()
		e.directory.Replace(players, now)
		if e.store != nil {
			if err := e.store.Players().PutDirectory(ctx, players, now); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to persist player directory")
			}
		}
	}

	games, err := e.provider.GetGameSlate(ctx)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("games").Inc()
		errs = append(errs, err)
	} else {
		e.setGames(games)
	}

	if len(errs) > 0 {
		metrics.DirectoryRefreshes.WithLabelValues("error").Inc()
		return errors.Join(errs...)
	}

	metrics.DirectoryRefreshes.WithLabelValues("ok").Inc()
	e.logger.Info().
		Int("players", e.directory.Count()).
		Int("games", len(games)).
		Int("week", e.Week()).
		Msg("Reference data refreshed")
	return nil
}

// warmFromStore loads persisted reference data so names and the week
// number survive a restart.
func (e *Engine) warmFromStore() {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if players, err := e.store.Players().GetDirectory(ctx); err == nil {
		refreshedAt, _ := e.store.Players().RefreshedAt(ctx)
		e.directory.Replace(players, refreshedAt)
		e.logger.Info().Int("players", len(players)).Msg("Player directory warmed from storage")
	} else if !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn().Err(err).Msg("Failed to warm player directory from storage")
	}

	if state, err := e.store.State().GetLeagueState(ctx); err == nil {
		e.setWeek(state.Week)
	} else if !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn().Err(err).Msg("Failed to warm league state from storage")
	}
}

// Week returns the cached current week, 0 if unknown.
func (e *Engine) Week() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.week
}

func (e *Engine) setWeek(week int) {
	if week <= 0 {
		return
	}
	e.mu.Lock()
	e.week = week
	e.mu.Unlock()
}

// Games returns the cached game slate.
func (e *Engine) Games() []sleeper.Game {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]sleeper.Game, len(e.games))
	copy(out, e.games)
	return out
}

func (e *Engine) setGames(games []sleeper.Game) {
	e.mu.Lock()
	e.games = games
	e.mu.Unlock()
}
