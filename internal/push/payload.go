package push

import (
	"github.com/matchpulse/matchpulse/internal/session"
)

// Event is the activity lifecycle event carried by a push.
type Event string

const (
	EventStart  Event = "start"
	EventUpdate Event = "update"
	EventEnd    Event = "end"
)

// Priority values map to the transport's delivery urgency.
const (
	PriorityImmediate  = 10
	PriorityBackground = 5
)

// Notification is one payload handed to the transport.
type Notification struct {
	Token         string
	Event         Event
	Priority      int
	Timestamp     int64
	ContentState  ContentState
	Attributes    *Attributes
	Alert         *Alert
	DismissalDate int64
}

// Attributes identify the matchup for a transport-initiated start.
type Attributes struct {
	UserID   string `json:"userID"`
	LeagueID string `json:"leagueID"`
}

// Alert is the client-visible alert attached to Notable pushes.
type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

// ContentState is the view as rendered into the push payload. Field names
// match what the client widget decodes.
type ContentState struct {
	TotalPoints        float64       `json:"totalPoints"`
	OpponentPoints     float64       `json:"opponentPoints"`
	TeamProjected      float64       `json:"teamProjected"`
	OpponentProjected  float64       `json:"opponentProjected"`
	TeamName           string        `json:"teamName"`
	OpponentTeamName   string        `json:"opponentTeamName"`
	ActivePlayersCount int           `json:"activePlayersCount"`
	TopPerformer       *TopPerformer `json:"topPerformer,omitempty"`
	GameStatus         string        `json:"gameStatus"`
	LastUpdate         int64         `json:"lastUpdate"`
	Message            string        `json:"message"`
}

// TopPerformer is the payload rendering of the cycle's biggest mover.
type TopPerformer struct {
	PlayerID string  `json:"playerID"`
	Name     string  `json:"name"`
	Points   float64 `json:"points"`
	Delta    float64 `json:"delta"`
}

// NewContentState renders a view into payload form.
func NewContentState(view session.View, timestamp int64, message string) ContentState {
	cs := ContentState{
		TotalPoints:        view.TeamTotal,
		OpponentPoints:     view.OpponentTotal,
		TeamProjected:      view.TeamProjected,
		OpponentProjected:  view.OpponentProjected,
		TeamName:           view.TeamName,
		OpponentTeamName:   view.OpponentName,
		ActivePlayersCount: view.ActivePlayers,
		GameStatus:         view.StatusLabel,
		LastUpdate:         timestamp,
		Message:            message,
	}
	if view.TopPerformer != nil {
		cs.TopPerformer = &TopPerformer{
			PlayerID: view.TopPerformer.PlayerID,
			Name:     view.TopPerformer.Name,
			Points:   view.TopPerformer.Points,
			Delta:    view.TopPerformer.Delta,
		}
	}
	return cs
}
