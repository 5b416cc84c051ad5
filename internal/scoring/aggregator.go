// Package scoring computes per-session matchup views from one consolidated
// upstream fetch per cycle and decides which changes warrant a push.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matchpulse/matchpulse/internal/metrics"
	"github.com/matchpulse/matchpulse/internal/session"
	"github.com/matchpulse/matchpulse/internal/sleeper"
)

// Gateway is the upstream surface the aggregator consumes.
type Gateway interface {
	GetMatchups(ctx context.Context, leagueID string, week int) ([]sleeper.Matchup, error)
	GetRosters(ctx context.Context, leagueID string) ([]sleeper.Roster, error)
	GetConsolidatedPlayerStats(ctx context.Context, week int, playerIDs map[string]struct{}) (map[string]sleeper.PlayerStat, error)
	GetUser(ctx context.Context, userID string) (sleeper.User, error)
}

// NameResolver maps a player ID to a display name.
type NameResolver func(playerID string) (string, bool)

// MatchupRef identifies the matchup a session tracks.
type MatchupRef struct {
	SessionID string
	UserID    string
	LeagueID  string
}

// Aggregator derives session views. It keeps the previous cycle's
// per-player point snapshot so per-player deltas can be observed; the
// snapshot is process-wide and refreshed once per cycle.
type Aggregator struct {
	gateway Gateway
	resolve NameResolver
	logger  zerolog.Logger

	mu         sync.Mutex
	prevPoints map[string]float64
}

// NewAggregator creates an aggregator. resolve may be nil, in which case
// top performers carry their raw player ID as a name.
func NewAggregator(gateway Gateway, resolve NameResolver, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		gateway:    gateway,
		resolve:    resolve,
		logger:     logger.With().Str("component", "aggregator").Logger(),
		prevPoints: make(map[string]float64),
	}
}

// leagueData is one league's fetched matchup context, shared by every
// session tracking that league this cycle.
type leagueData struct {
	rosters  []sleeper.Roster
	matchups []sleeper.Matchup
	err      error
}

// Aggregate computes a view per session. It issues exactly one
// consolidated player-stats call for the union of all sessions' rosters,
// so upstream cost is O(unique players), not O(sessions). A failed league
// fetch drops only that league's sessions from the result; the error is
// joined into the returned error while other sessions proceed.
func (a *Aggregator) Aggregate(ctx context.Context, week int, refs []MatchupRef) (map[string]session.View, error) {
	if len(refs) == 0 {
		return map[string]session.View{}, nil
	}

	leagues := make(map[string]*leagueData)
	var errs []error
	for _, ref := range refs {
		if _, ok := leagues[ref.LeagueID]; ok {
			continue
		}
		ld := &leagueData{}
		ld.rosters, ld.err = a.gateway.GetRosters(ctx, ref.LeagueID)
		if ld.err == nil {
			ld.matchups, ld.err = a.gateway.GetMatchups(ctx, ref.LeagueID, week)
		}
		if ld.err != nil {
			errs = append(errs, fmt.Errorf("league %s: %w", ref.LeagueID, ld.err))
		}
		leagues[ref.LeagueID] = ld
	}

	// Union of starters across every session's own and opposing rosters.
	playerIDs := make(map[string]struct{})
	for _, ref := range refs {
		ld := leagues[ref.LeagueID]
		if ld.err != nil {
			continue
		}
		own, opp := findPairing(ld, ref.UserID)
		collectStarters(playerIDs, own)
		collectStarters(playerIDs, opp)
	}

	metrics.UniquePlayersTracked.Set(float64(len(playerIDs)))

	var stats map[string]sleeper.PlayerStat
	if len(playerIDs) > 0 {
		var err error
		stats, err = a.gateway.GetConsolidatedPlayerStats(ctx, week, playerIDs)
		if err != nil {
			errs = append(errs, fmt.Errorf("player stats: %w", err))
			return map[string]session.View{}, errors.Join(errs...)
		}
	}

	a.mu.Lock()
	prev := a.prevPoints
	a.mu.Unlock()

	now := time.Now()
	views := make(map[string]session.View, len(refs))
	for _, ref := range refs {
		ld := leagues[ref.LeagueID]
		if ld.err != nil {
			continue
		}
		views[ref.SessionID] = a.buildView(ctx, ref, ld, stats, prev, now)
	}

	// Advance the process-wide snapshot only after every view observed
	// the same previous cycle. Rebuilt from this cycle's keys so players
	// who left every tracked roster age out instead of lingering.
	next := make(map[string]float64, len(stats))
	for id, stat := range stats {
		next[id] = stat.Points
	}
	a.mu.Lock()
	a.prevPoints = next
	a.mu.Unlock()

	a.logger.Debug().
		Int("sessions", len(refs)).
		Int("unique_players", len(playerIDs)).
		Int("views", len(views)).
		Msg("Aggregation cycle complete")

	return views, errors.Join(errs...)
}

// buildView derives one session's view from the shared cycle data.
func (a *Aggregator) buildView(ctx context.Context, ref MatchupRef, ld *leagueData, stats map[string]sleeper.PlayerStat, prev map[string]float64, now time.Time) session.View {
	view := session.View{
		TeamName:     "Your Team",
		OpponentName: "Opponent",
		StatusLabel:  "Live",
		ComputedAt:   now,
	}

	own, opp := findPairing(ld, ref.UserID)
	if own.matchup == nil {
		return view
	}

	view.TeamTotal = own.matchup.Points
	view.ActivePlayers = len(own.matchup.Starters)
	view.TeamProjected = sumProjected(own.matchup.Starters, stats)
	view.TeamName = a.displayName(ctx, ref.UserID, fmt.Sprintf("Team %d", own.roster.RosterID))

	if opp.matchup != nil {
		view.OpponentTotal = opp.matchup.Points
		view.OpponentProjected = sumProjected(opp.matchup.Starters, stats)
		if opp.roster != nil && opp.roster.OwnerID != "" {
			view.OpponentName = a.displayName(ctx, opp.roster.OwnerID, view.OpponentName)
		}
	}

	view.TopPerformer = a.topPerformer(own, opp, stats, prev)
	return view
}

// side is one half of a head-to-head pairing.
type side struct {
	roster  *sleeper.Roster
	matchup *sleeper.Matchup
}

// findPairing locates the user's roster, its matchup, and the opposing
// side within already-fetched league data.
func findPairing(ld *leagueData, userID string) (own, opp side) {
	for i := range ld.rosters {
		if ld.rosters[i].OwnerID == userID {
			own.roster = &ld.rosters[i]
			break
		}
	}
	if own.roster == nil {
		return own, opp
	}

	for i := range ld.matchups {
		if ld.matchups[i].RosterID == own.roster.RosterID {
			own.matchup = &ld.matchups[i]
			break
		}
	}
	if own.matchup == nil {
		return own, opp
	}

	for i := range ld.matchups {
		m := &ld.matchups[i]
		if m.MatchupID == own.matchup.MatchupID && m.RosterID != own.matchup.RosterID {
			opp.matchup = m
			break
		}
	}
	if opp.matchup != nil {
		for i := range ld.rosters {
			if ld.rosters[i].RosterID == opp.matchup.RosterID {
				opp.roster = &ld.rosters[i]
				break
			}
		}
	}

	return own, opp
}

// topPerformer returns the largest positive per-player point delta across
// both rosters this cycle. Ties prefer the session's own roster, then the
// lower player ID, so the pick is deterministic.
func (a *Aggregator) topPerformer(own, opp side, stats map[string]sleeper.PlayerStat, prev map[string]float64) *session.Performer {
	var best *session.Performer

	consider := func(playerID string, ownRoster bool) {
		stat, ok := stats[playerID]
		if !ok {
			return
		}
		last, seen := prev[playerID]
		if !seen {
			// First observation of this player; no delta to report yet.
			return
		}
		delta := stat.Points - last
		if delta <= 0 {
			return
		}

		if best != nil {
			if delta < best.Delta {
				return
			}
			if delta == best.Delta {
				if best.OwnRoster && !ownRoster {
					return
				}
				if best.OwnRoster == ownRoster && playerID >= best.PlayerID {
					return
				}
			}
		}

		name := playerID
		if a.resolve != nil {
			if n, ok := a.resolve(playerID); ok {
				name = n
			}
		}
		best = &session.Performer{
			PlayerID:  playerID,
			Name:      name,
			Points:    stat.Points,
			Delta:     delta,
			OwnRoster: ownRoster,
		}
	}

	if own.matchup != nil {
		for _, id := range own.matchup.Starters {
			consider(id, true)
		}
	}
	if opp.matchup != nil {
		for _, id := range opp.matchup.Starters {
			consider(id, false)
		}
	}

	return best
}

// displayName resolves a user's display name, falling back when the
// profile lookup fails. Lookups are cached by the gateway.
func (a *Aggregator) displayName(ctx context.Context, userID, fallback string) string {
	u, err := a.gateway.GetUser(ctx, userID)
	if err != nil {
		return fallback
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return fallback
}

// collectStarters adds a side's starters to the union set.
func collectStarters(ids map[string]struct{}, s side) {
	if s.matchup == nil {
		return
	}
	for _, id := range s.matchup.Starters {
		ids[id] = struct{}{}
	}
}

// sumProjected totals projected points for a starter list.
func sumProjected(starters []string, stats map[string]sleeper.PlayerStat) float64 {
	var total float64
	for _, id := range starters {
		total += stats[id].Projected
	}
	return total
}
