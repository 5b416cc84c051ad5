package sleeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/matchpulse/matchpulse/internal/config"
)

// ErrUnavailable marks a transient upstream failure. Callers keep their
// previous view and retry on the next cycle.
var ErrUnavailable = errors.New("sleeper: upstream unavailable")

// Client is a read-only client for the fantasy data provider plus the
// scoreboard feed for real-world game schedules.
type Client struct {
	baseURL       string
	statsBaseURL  string
	scoreboardURL string
	season        string
	httpClient    *http.Client
	logger        zerolog.Logger
	userCache     *lru.Cache[string, User]

	mu             sync.RWMutex
	state          LeagueState
	stateFetchedAt time.Time
}

// NewClient creates a provider client.
func NewClient(cfg config.SleeperConfig, logger zerolog.Logger) (*Client, error) {
	cacheSize := cfg.UserCacheSize
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[string, User](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		statsBaseURL:  cfg.StatsBaseURL,
		scoreboardURL: cfg.ScoreboardURL,
		season:        cfg.Season,
		httpClient: &http.Client{
			Timeout: config.ParseDuration(cfg.Timeout, 30*time.Second),
		},
		logger:    logger.With().Str("component", "sleeper").Logger(),
		userCache: cache,
	}, nil
}

// Season returns the configured season string.
func (c *Client) Season() string {
	return c.season
}

// RefreshState fetches the league state and caches it. The current week
// changes at most weekly, so this runs on the daily refresh schedule.
func (c *Client) RefreshState(ctx context.Context) (LeagueState, error) {
	var state LeagueState
	if err := c.getJSON(ctx, c.baseURL+"/state/nfl", &state); err != nil {
		return LeagueState{}, err
	}

	c.mu.Lock()
	c.state = state
	c.stateFetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info().
		Int("week", state.Week).
		Str("season", state.Season).
		Msg("League state refreshed")

	return state, nil
}

// CurrentWeek returns the cached current week, fetching once on a cold
// cache.
func (c *Client) CurrentWeek(ctx context.Context) (int, error) {
	c.mu.RLock()
	fetched := !c.stateFetchedAt.IsZero()
	week := c.state.Week
	c.mu.RUnlock()

	if fetched {
		return week, nil
	}

	state, err := c.RefreshState(ctx)
	if err != nil {
		return 0, err
	}
	return state.Week, nil
}

// GetUser fetches a league member profile, cached for the process lifetime.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	if u, ok := c.userCache.Get(userID); ok {
		return u, nil
	}

	var u User
	if err := c.getJSON(ctx, c.baseURL+"/user/"+userID, &u); err != nil {
		return User{}, err
	}

	c.userCache.Add(userID, u)
	return u, nil
}

// GetRosters fetches all rosters in a league.
func (c *Client) GetRosters(ctx context.Context, leagueID string) ([]Roster, error) {
	var rosters []Roster
	if err := c.getJSON(ctx, c.baseURL+"/league/"+leagueID+"/rosters", &rosters); err != nil {
		return nil, err
	}
	return rosters, nil
}

// GetMatchups fetches the head-to-head pairings for a league week.
func (c *Client) GetMatchups(ctx context.Context, leagueID string, week int) ([]Matchup, error) {
	var matchups []Matchup
	url := fmt.Sprintf("%s/league/%s/matchups/%d", c.baseURL, leagueID, week)
	if err := c.getJSON(ctx, url, &matchups); err != nil {
		return nil, err
	}
	return matchups, nil
}

// GetConsolidatedPlayerStats fetches scored and projected points for the
// requested player set in one consolidated call. The provider returns the
// full weekly stat sheet; the response is filtered to the requested IDs so
// callers pay O(unique players) regardless of how many sessions share them.
func (c *Client) GetConsolidatedPlayerStats(ctx context.Context, week int, playerIDs map[string]struct{}) (map[string]PlayerStat, error) {
	var scored map[string]map[string]float64
	url := fmt.Sprintf("%s/stats/nfl/regular/%s/%d", c.statsBaseURL, c.season, week)
	if err := c.getJSON(ctx, url, &scored); err != nil {
		return nil, err
	}

	var projected map[string]map[string]float64
	url = fmt.Sprintf("%s/projections/nfl/regular/%s/%d", c.statsBaseURL, c.season, week)
	if err := c.getJSON(ctx, url, &projected); err != nil {
		return nil, err
	}

	stats := make(map[string]PlayerStat, len(playerIDs))
	for id := range playerIDs {
		var stat PlayerStat
		if s, ok := scored[id]; ok {
			stat.Points = s["pts_ppr"]
		}
		if p, ok := projected[id]; ok {
			stat.Projected = p["pts_ppr"]
		}
		stats[id] = stat
	}

	return stats, nil
}

// GetPlayerDirectory fetches the full player catalog, filtered to the
// fields payloads need. The raw response is large; this runs on the daily
// refresh schedule, never per cycle.
func (c *Client) GetPlayerDirectory(ctx context.Context) (map[string]Player, error) {
	var raw map[string]Player
	if err := c.getJSON(ctx, c.baseURL+"/players/nfl", &raw); err != nil {
		return nil, err
	}

	for id, p := range raw {
		p.ID = id
		raw[id] = p
	}

	c.logger.Info().Int("players", len(raw)).Msg("Fetched player directory")
	return raw, nil
}

// GetGameSlate fetches the day's scheduled real-world games from the
// scoreboard feed.
func (c *Client) GetGameSlate(ctx context.Context) ([]Game, error) {
	var payload struct {
		Sports []struct {
			Leagues []struct {
				Events []Game `json:"events"`
			} `json:"leagues"`
		} `json:"sports"`
	}

	url := c.scoreboardURL + "?sport=football&league=nfl&region=us&lang=en&contentorigin=espn"
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	var games []Game
	for _, sport := range payload.Sports {
		for _, league := range sport.Leagues {
			games = append(games, league.Events...)
		}
	}

	c.logger.Info().Int("games", len(games)).Msg("Fetched game slate")
	return games, nil
}

// getJSON performs a GET and decodes the JSON response body.
func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrUnavailable, url, err)
	}

	return nil
}
