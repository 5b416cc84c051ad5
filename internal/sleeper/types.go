package sleeper

// LeagueState is the provider's slowly-changing season state.
type LeagueState struct {
	Week       int    `json:"week"`
	SeasonType string `json:"season_type"`
	Season     string `json:"season"`
}

// User is a league member profile.
type User struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// Roster is a team's player assignment within a league.
type Roster struct {
	RosterID int      `json:"roster_id"`
	OwnerID  string   `json:"owner_id"`
	Starters []string `json:"starters"`
	Players  []string `json:"players"`
}

// Matchup is one side of a head-to-head pairing for a week. Two entries
// share a MatchupID.
type Matchup struct {
	RosterID      int                `json:"roster_id"`
	MatchupID     int                `json:"matchup_id"`
	Points        float64            `json:"points"`
	Starters      []string           `json:"starters"`
	PlayersPoints map[string]float64 `json:"players_points"`
}

// PlayerStat is one player's scored and projected points for a week.
type PlayerStat struct {
	Points    float64 `json:"points"`
	Projected float64 `json:"projected"`
}

// Player is a directory entry from the provider's player catalog, filtered
// to the fields the push payloads need.
type Player struct {
	ID        string `json:"player_id"`
	FullName  string `json:"full_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Team      string `json:"team"`
	Position  string `json:"position"`
	Number    int    `json:"number"`
}

// Competitor is a real-world team in a scheduled game.
type Competitor struct {
	Abbreviation string `json:"abbreviation"`
}

// Game is a scheduled real-world game from the scoreboard feed.
type Game struct {
	Date        string       `json:"date"`
	Name        string       `json:"name"`
	Competitors []Competitor `json:"competitors"`
}
