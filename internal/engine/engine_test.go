package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/push"
	"github.com/matchpulse/matchpulse/internal/scoring"
	"github.com/matchpulse/matchpulse/internal/session"
	"github.com/matchpulse/matchpulse/internal/sleeper"
	"github.com/matchpulse/matchpulse/internal/store"
	"github.com/matchpulse/matchpulse/internal/store/redis"
)

var sundayNoon = time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu        sync.Mutex
	state     sleeper.LeagueState
	players   map[string]sleeper.Player
	games     []sleeper.Game
	stateErr  error
	playerErr error
	gamesErr  error
	weekCalls int
}

func (p *fakeProvider) RefreshState(ctx context.Context) (sleeper.LeagueState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateErr != nil {
		return sleeper.LeagueState{}, p.stateErr
	}
	return p.state, nil
}

func (p *fakeProvider) CurrentWeek(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weekCalls++
	if p.stateErr != nil {
		return 0, p.stateErr
	}
	return p.state.Week, nil
}

func (p *fakeProvider) GetPlayerDirectory(ctx context.Context) (map[string]sleeper.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playerErr != nil {
		return nil, p.playerErr
	}
	return p.players, nil
}

func (p *fakeProvider) GetGameSlate(ctx context.Context) ([]sleeper.Game, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gamesErr != nil {
		return nil, p.gamesErr
	}
	return p.games, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	rosters  map[string][]sleeper.Roster
	matchups map[string][]sleeper.Matchup
	stats    map[string]sleeper.PlayerStat
	users    map[string]sleeper.User
}

func (g *fakeGateway) GetMatchups(ctx context.Context, leagueID string, week int) ([]sleeper.Matchup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.matchups[leagueID], nil
}

func (g *fakeGateway) GetRosters(ctx context.Context, leagueID string) ([]sleeper.Roster, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rosters[leagueID], nil
}

func (g *fakeGateway) GetConsolidatedPlayerStats(ctx context.Context, week int, playerIDs map[string]struct{}) (map[string]sleeper.PlayerStat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]sleeper.PlayerStat, len(playerIDs))
	for id := range playerIDs {
		out[id] = g.stats[id]
	}
	return out, nil
}

func (g *fakeGateway) GetUser(ctx context.Context, userID string) (sleeper.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u, ok := g.users[userID]; ok {
		return u, nil
	}
	return sleeper.User{}, fmt.Errorf("no such user %s", userID)
}

func (g *fakeGateway) setPoints(playerID string, points float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats[playerID]
	s.Points = points
	g.stats[playerID] = s
}

type fakeTransport struct {
	mu   sync.Mutex
	errs []error
	sent []push.Notification
}

func (f *fakeTransport) Send(ctx context.Context, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) last() push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type testHarness struct {
	engine    *Engine
	registry  *session.Registry
	clock     *session.TestClock
	transport *fakeTransport
	gateway   *fakeGateway
	provider  *fakeProvider
	directory *Directory
}

func newTestHarness(t *testing.T, st store.Store) *testHarness {
	t.Helper()

	clock := &session.TestClock{CurrentTime: sundayNoon}
	registry := session.NewRegistry(session.DefaultWindows(), clock, zerolog.Nop())

	gateway := &fakeGateway{
		rosters: map[string][]sleeper.Roster{
			"l1": {
				{RosterID: 1, OwnerID: "u1", Starters: []string{"p1", "p2"}},
				{RosterID: 2, OwnerID: "u2", Starters: []string{"p3"}},
			},
		},
		matchups: map[string][]sleeper.Matchup{
			"l1": {
				{RosterID: 1, MatchupID: 7, Points: 15.0, Starters: []string{"p1", "p2"}},
				{RosterID: 2, MatchupID: 7, Points: 20.0, Starters: []string{"p3"}},
			},
		},
		stats: map[string]sleeper.PlayerStat{
			"p1": {Points: 10, Projected: 12},
			"p2": {Points: 5, Projected: 8},
			"p3": {Points: 20, Projected: 18},
		},
		users: map[string]sleeper.User{
			"u1": {UserID: "u1", DisplayName: "Alpha Squad"},
			"u2": {UserID: "u2", DisplayName: "Beta Bunch"},
		},
	}

	provider := &fakeProvider{
		state: sleeper.LeagueState{Week: 5, SeasonType: "regular", Season: "2025"},
		players: map[string]sleeper.Player{
			"p1": {ID: "p1", FullName: "Sample Quarterback"},
			"p2": {ID: "p2", FullName: "Sample Receiver"},
		},
		games: []sleeper.Game{},
	}

	directory := NewDirectory()
	transport := &fakeTransport{}

	eng, err := New(config.EngineConfig{
		UpdateInterval:    "30s",
		SweepInterval:     "30m",
		AutoStartInterval: "5m",
		DailyRefreshTime:  "08:00",
		DispatchWorkers:   4,
		DispatchRetries:   3,
	}, Deps{
		Registry:   registry,
		Provider:   provider,
		Aggregator: scoring.NewAggregator(gateway, directory.Resolve, zerolog.Nop()),
		Detector:   scoring.Detector{Epsilon: 0.01, NotableDelta: 3.0},
		Dispatcher: push.NewDispatcher(transport, 3, zerolog.Nop()),
		Store:      st,
		Directory:  directory,
		Clock:      clock,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	eng.setWeek(5)

	return &testHarness{
		engine:    eng,
		registry:  registry,
		clock:     clock,
		transport: transport,
		gateway:   gateway,
		provider:  provider,
		directory: directory,
	}
}

// startActiveSession registers a device and starts a push-capable session.
func (h *testHarness) startActiveSession(t *testing.T, deviceID string) session.Session {
	t.Helper()
	h.registry.RegisterDevice(session.Device{
		ID:               deviceID,
		UserID:           "u1",
		LeagueID:         "l1",
		PushToken:        "token-" + deviceID,
		PushToStartToken: "start-" + deviceID,
	})
	s, err := h.registry.StartSession(deviceID, "", "token-"+deviceID)
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	return s
}

func TestRunCycle_PushesOnFirstObservation(t *testing.T) {
	h := newTestHarness(t, nil)
	s := h.startActiveSession(t, "d1")

	h.engine.RunCycle(context.Background())

	if got := h.transport.sentCount(); got != 1 {
		t.Fatalf("Expected 1 push, got %d", got)
	}
	n := h.transport.last()
	if n.Event != push.EventUpdate {
		t.Errorf("Expected update event, got %s", n.Event)
	}
	if n.ContentState.TotalPoints != 15.0 || n.ContentState.OpponentPoints != 20.0 {
		t.Errorf("Unexpected totals: %+v", n.ContentState)
	}
	if n.ContentState.TeamName != "Alpha Squad" || n.ContentState.OpponentTeamName != "Beta Bunch" {
		t.Errorf("Unexpected team names: %+v", n.ContentState)
	}

	updated, ok := h.registry.Get(s.ID)
	if !ok {
		t.Fatal("Session disappeared after successful push")
	}
	if updated.LastPushed == nil {
		t.Error("Expected LastPushed to be recorded")
	}
	if !updated.LastPushAt.Equal(sundayNoon) {
		t.Errorf("Expected LastPushAt %v, got %v", sundayNoon, updated.LastPushAt)
	}
}

func TestRunCycle_UnchangedStateStaysSilent(t *testing.T) {
	h := newTestHarness(t, nil)
	h.startActiveSession(t, "d1")

	h.engine.RunCycle(context.Background())
	h.engine.RunCycle(context.Background())

	if got := h.transport.sentCount(); got != 1 {
		t.Errorf("Expected no second push on identical state, got %d total", got)
	}
}

func TestRunCycle_NotableDeltaEscalates(t *testing.T) {
	h := newTestHarness(t, nil)
	h.startActiveSession(t, "d1")

	h.engine.RunCycle(context.Background())

	// A 7-point jump by one starter crosses the notable threshold.
	h.gateway.setPoints("p2", 12)
	h.engine.RunCycle(context.Background())

	if got := h.transport.sentCount(); got != 2 {
		t.Fatalf("Expected 2 pushes, got %d", got)
	}
	n := h.transport.last()
	if n.Priority != push.PriorityImmediate {
		t.Errorf("Expected immediate priority, got %d", n.Priority)
	}
	if n.Alert == nil {
		t.Fatal("Expected an alert on a notable push")
	}
	if n.ContentState.TopPerformer == nil || n.ContentState.TopPerformer.PlayerID != "p2" {
		t.Errorf("Unexpected top performer: %+v", n.ContentState.TopPerformer)
	}
}

func TestRunCycle_NoSessions(t *testing.T) {
	h := newTestHarness(t, nil)

	h.engine.RunCycle(context.Background())

	if got := h.transport.sentCount(); got != 0 {
		t.Errorf("Expected no pushes without sessions, got %d", got)
	}
}

func TestRunCycle_ResolvesWeekWhenUnknown(t *testing.T) {
	h := newTestHarness(t, nil)
	h.startActiveSession(t, "d1")
	h.engine.week = 0

	h.engine.RunCycle(context.Background())

	if got := h.engine.Week(); got != 5 {
		t.Errorf("Expected week 5 resolved from provider, got %d", got)
	}
	if h.provider.weekCalls != 1 {
		t.Errorf("Expected 1 provider week lookup, got %d", h.provider.weekCalls)
	}
}

func TestRunCycle_CredentialRejectionRetiresSession(t *testing.T) {
	h := newTestHarness(t, nil)
	s := h.startActiveSession(t, "d1")
	h.transport.errs = []error{fmt.Errorf("%w: BadDeviceToken", push.ErrInvalidCredential)}

	h.engine.RunCycle(context.Background())

	if got := h.transport.sentCount(); got != 1 {
		t.Errorf("Expected a single attempt on a permanent rejection, got %d", got)
	}
	if _, ok := h.registry.Get(s.ID); ok {
		t.Error("Expected session to be retired after credential rejection")
	}
	if _, ok := h.registry.Device("d1"); !ok {
		t.Error("Expected the device registration to survive")
	}
}

func TestRunCycle_OverlapSkips(t *testing.T) {
	h := newTestHarness(t, nil)
	h.startActiveSession(t, "d1")

	h.engine.cycleRunning.Store(true)
	h.engine.RunCycle(context.Background())

	if got := h.transport.sentCount(); got != 0 {
		t.Errorf("Expected the overlapping tick to be a no-op, got %d pushes", got)
	}
	if !h.engine.cycleRunning.Load() {
		t.Error("Expected the running flag to be left untouched")
	}
}

func TestSweepExpired(t *testing.T) {
	h := newTestHarness(t, nil)
	s := h.startActiveSession(t, "d1")

	// Sunday sessions carry an 18 hour window.
	h.clock.Advance(19 * time.Hour)
	h.engine.SweepExpired()

	if _, ok := h.registry.Get(s.ID); ok {
		t.Error("Expected the session to be swept")
	}
	if got := h.transport.sentCount(); got != 0 {
		t.Errorf("Expected no end push on a TTL sweep, got %d", got)
	}
}

func TestStopSession_SendsEndPush(t *testing.T) {
	h := newTestHarness(t, nil)
	s := h.startActiveSession(t, "d1")
	h.engine.RunCycle(context.Background())

	retired, ok := h.engine.StopSession(context.Background(), s.ID)
	if !ok {
		t.Fatal("Expected stop to find the session")
	}
	if retired.RetireReason != session.RetireStopped {
		t.Errorf("Unexpected retire reason: %s", retired.RetireReason)
	}

	n := h.transport.last()
	if n.Event != push.EventEnd {
		t.Errorf("Expected end event, got %s", n.Event)
	}
	if n.DismissalDate != n.Timestamp+30*60 {
		t.Errorf("Expected dismissal 30 minutes out, got %d vs %d", n.DismissalDate, n.Timestamp)
	}
	if n.ContentState.TotalPoints != 15.0 {
		t.Errorf("Expected the final push to carry the last delivered view, got %+v", n.ContentState)
	}
	if _, ok := h.registry.Get(s.ID); ok {
		t.Error("Expected session to be removed")
	}
}

func TestStopDevice(t *testing.T) {
	h := newTestHarness(t, nil)
	s := h.startActiveSession(t, "d1")

	retired, ok := h.engine.StopDevice(context.Background(), "d1")
	if !ok || retired.ID != s.ID {
		t.Fatalf("Expected the device's live session to be stopped, got ok=%v id=%s", ok, retired.ID)
	}

	if _, ok := h.engine.StopDevice(context.Background(), "d1"); ok {
		t.Error("Expected a second stop to find nothing")
	}
	if _, ok := h.engine.StopDevice(context.Background(), "unknown"); ok {
		t.Error("Expected an unknown device to find nothing")
	}
}

func TestCheckAutoStart(t *testing.T) {
	h := newTestHarness(t, nil)
	h.registry.RegisterDevice(session.Device{
		ID:               "d1",
		UserID:           "u1",
		LeagueID:         "l1",
		PushToken:        "token-d1",
		PushToStartToken: "start-d1",
	})
	h.engine.setGames([]sleeper.Game{
		{Date: sundayNoon.Add(3 * time.Minute).Format(gameTimeLayout), Name: "KC at BUF"},
	})

	h.engine.CheckAutoStart(context.Background())

	if got := h.transport.sentCount(); got != 1 {
		t.Fatalf("Expected 1 start push, got %d", got)
	}
	n := h.transport.last()
	if n.Event != push.EventStart {
		t.Errorf("Expected start event, got %s", n.Event)
	}
	if n.Token != "start-d1" {
		t.Errorf("Expected the push-to-start token, got %q", n.Token)
	}
	if n.ContentState.Message != "KC at BUF" {
		t.Errorf("Expected the start push to name the game, got %q", n.ContentState.Message)
	}
	if _, live := h.registry.ForDevice("d1"); !live {
		t.Error("Expected a live session after the start push")
	}

	// A second check finds the device already live and updates the
	// running activity with the game names instead of restarting it.
	h.engine.CheckAutoStart(context.Background())
	if got := h.transport.sentCount(); got != 2 {
		t.Fatalf("Expected a message update on the second check, got %d total", got)
	}
	n = h.transport.last()
	if n.Event != push.EventUpdate {
		t.Errorf("Expected update event for a live device, got %s", n.Event)
	}
	if n.Token != "token-d1" {
		t.Errorf("Expected the activity token, got %q", n.Token)
	}
	if n.ContentState.Message != "KC at BUF" {
		t.Errorf("Expected the update to carry the game names, got %q", n.ContentState.Message)
	}
}

func TestCheckAutoStart_LiveSessionKeepsDeliveredView(t *testing.T) {
	h := newTestHarness(t, nil)
	s := h.startActiveSession(t, "d1")
	view := session.View{TeamTotal: 88.4, StatusLabel: "Q4", ComputedAt: h.clock.Now()}
	if !h.registry.CompletePush(s.ID, view, h.clock.Now()) {
		t.Fatal("CompletePush failed")
	}
	h.engine.setGames([]sleeper.Game{
		{Date: sundayNoon.Add(3 * time.Minute).Format(gameTimeLayout), Name: "DAL at PHI"},
		{Date: sundayNoon.Add(4 * time.Minute).Format(gameTimeLayout), Name: "SF at SEA"},
	})

	h.engine.CheckAutoStart(context.Background())

	if got := h.transport.sentCount(); got != 1 {
		t.Fatalf("Expected 1 message update, got %d", got)
	}
	n := h.transport.last()
	if n.Event != push.EventUpdate {
		t.Errorf("Expected update event, got %s", n.Event)
	}
	if n.ContentState.Message != "DAL at PHI, SF at SEA" {
		t.Errorf("Expected both game names joined, got %q", n.ContentState.Message)
	}
	if n.ContentState.TotalPoints != 88.4 {
		t.Errorf("Expected the last delivered view's score, got %v", n.ContentState.TotalPoints)
	}
}

func TestCheckAutoStart_NoUpcomingGame(t *testing.T) {
	h := newTestHarness(t, nil)
	h.registry.RegisterDevice(session.Device{
		ID: "d1", UserID: "u1", LeagueID: "l1", PushToStartToken: "start-d1",
	})
	h.engine.setGames([]sleeper.Game{
		{Date: sundayNoon.Add(2 * time.Hour).Format(gameTimeLayout), Name: "KC at BUF"},
	})

	h.engine.CheckAutoStart(context.Background())

	if got := h.transport.sentCount(); got != 0 {
		t.Errorf("Expected no start push for a distant kickoff, got %d", got)
	}
}

func TestCheckAutoStart_NoStartToken(t *testing.T) {
	h := newTestHarness(t, nil)
	h.registry.RegisterDevice(session.Device{
		ID: "d1", UserID: "u1", LeagueID: "l1", PushToken: "token-d1",
	})
	h.engine.setGames([]sleeper.Game{
		{Date: sundayNoon.Add(3 * time.Minute).Format(gameTimeLayout), Name: "KC at BUF"},
	})

	h.engine.CheckAutoStart(context.Background())

	if got := h.transport.sentCount(); got != 0 {
		t.Errorf("Expected no start push without a start token, got %d", got)
	}
}

func TestRefreshReferenceData(t *testing.T) {
	h := newTestHarness(t, nil)
	h.engine.week = 0

	if err := h.engine.RefreshReferenceData(context.Background()); err != nil {
		t.Fatalf("RefreshReferenceData failed: %v", err)
	}

	if got := h.engine.Week(); got != 5 {
		t.Errorf("Expected week 5, got %d", got)
	}
	if got := h.directory.Count(); got != 2 {
		t.Errorf("Expected 2 directory entries, got %d", got)
	}
	if name, ok := h.directory.Resolve("p2"); !ok || name != "Sample Receiver" {
		t.Errorf("Expected resolver to work after refresh, got %q %v", name, ok)
	}
}

func TestRefreshReferenceData_PartialFailure(t *testing.T) {
	h := newTestHarness(t, nil)
	h.engine.week = 0
	h.provider.playerErr = errors.New("upstream down")

	err := h.engine.RefreshReferenceData(context.Background())
	if err == nil {
		t.Fatal("Expected an error when the directory fetch fails")
	}
	if got := h.engine.Week(); got != 5 {
		t.Errorf("Expected the week to still be refreshed, got %d", got)
	}
	if got := h.directory.Count(); got != 0 {
		t.Errorf("Expected the directory to stay empty, got %d entries", got)
	}
}

func TestWarmFromStore(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	players := map[string]sleeper.Player{
		"p1": {ID: "p1", FullName: "Sample Quarterback"},
	}
	if err := st.Players().PutDirectory(ctx, players, sundayNoon); err != nil {
		t.Fatalf("Failed to seed directory: %v", err)
	}
	if err := st.State().PutLeagueState(ctx, sleeper.LeagueState{Week: 9, Season: "2025"}); err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	h := newTestHarness(t, st)
	h.engine.week = 0
	h.engine.warmFromStore()

	if got := h.engine.Week(); got != 9 {
		t.Errorf("Expected week 9 from storage, got %d", got)
	}
	if got := h.directory.Count(); got != 1 {
		t.Errorf("Expected 1 warmed directory entry, got %d", got)
	}
	if !h.directory.RefreshedAt().Equal(sundayNoon) {
		t.Errorf("Expected refreshed-at %v, got %v", sundayNoon, h.directory.RefreshedAt())
	}
}
