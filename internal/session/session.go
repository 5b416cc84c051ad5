package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// State is the lifecycle state of a live-activity session.
type State string

const (
	// StatePending is a session created without a push credential.
	StatePending State = "PENDING"
	// StateActive is a push-capable session.
	StateActive State = "ACTIVE"
	// StateExpiring marks a session flagged by the TTL sweep. Transient,
	// never visible outside the sweep itself.
	StateExpiring State = "EXPIRING"
	// StateRetired is terminal. A retired session is removed from the
	// registry; resuming requires a fresh session.
	StateRetired State = "RETIRED"
)

// RetireReason records why a session left the registry.
type RetireReason string

const (
	RetireHeartbeat  RetireReason = "heartbeat"
	RetireTTL        RetireReason = "ttl"
	RetireCredential RetireReason = "credential"
	RetireStopped    RetireReason = "stopped"
	RetireReplaced   RetireReason = "replaced"
)

// Device is a registered installation. A device survives across sessions
// and carries the matchup configuration plus push credentials.
type Device struct {
	ID               string    `json:"device_id"`
	UserID           string    `json:"user_id"`
	LeagueID         string    `json:"league_id"`
	PushToken        string    `json:"push_token,omitempty"`
	PushToStartToken string    `json:"push_to_start_token,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// Session is one live client-side activity instance tracked server-side.
type Session struct {
	ID              string        `json:"session_id"`
	DeviceID        string        `json:"device_id"`
	UserID          string        `json:"user_id"`
	LeagueID        string        `json:"league_id"`
	OpponentUserID  string        `json:"opponent_user_id,omitempty"`
	PushToken       string        `json:"-"`
	State           State         `json:"state"`
	Window          time.Duration `json:"window"`
	CreatedAt       time.Time     `json:"created_at"`
	LastHeartbeatAt time.Time     `json:"last_heartbeat_at"`
	LastPushAt      time.Time     `json:"last_push_at,omitempty"`
	RetireReason    RetireReason  `json:"retire_reason,omitempty"`

	// LastPushed is the view last accepted by the push transport,
	// used for delta comparison. Nil until the first successful push.
	LastPushed *View `json:"-"`
}

// Pushable reports whether the session may receive content pushes.
func (s *Session) Pushable() bool {
	return s.State == StateActive && s.PushToken != ""
}

// Performer is the largest positive per-player point mover in a cycle.
type Performer struct {
	PlayerID  string  `json:"player_id"`
	Name      string  `json:"name"`
	Points    float64 `json:"points"`
	Delta     float64 `json:"delta"`
	OwnRoster bool    `json:"own_roster"`
}

// View is the per-cycle derived matchup state for one session.
type View struct {
	TeamName          string     `json:"team_name"`
	OpponentName      string     `json:"opponent_name"`
	TeamTotal         float64    `json:"team_total"`
	OpponentTotal     float64    `json:"opponent_total"`
	TeamProjected     float64    `json:"team_projected"`
	OpponentProjected float64    `json:"opponent_projected"`
	TopPerformer      *Performer `json:"top_performer,omitempty"`
	StatusLabel       string     `json:"status_label"`
	ActivePlayers     int        `json:"active_players"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// Windows maps the day a session is created on to its heartbeat expiry
// window. The long window belongs to the primary event day, a medium one
// to secondary event days, and a short one everywhere else.
type Windows struct {
	Primary         time.Weekday
	Secondary       map[time.Weekday]bool
	PrimaryWindow   time.Duration
	SecondaryWindow time.Duration
	DefaultWindow   time.Duration
}

// DefaultWindows returns the stock NFL-shaped window table.
func DefaultWindows() Windows {
	return Windows{
		Primary:         time.Sunday,
		Secondary:       map[time.Weekday]bool{time.Monday: true, time.Thursday: true},
		PrimaryWindow:   18 * time.Hour,
		SecondaryWindow: 8 * time.Hour,
		DefaultWindow:   4 * time.Hour,
	}
}

// For returns the expiry window for a session created on the given day.
func (w Windows) For(day time.Weekday) time.Duration {
	switch {
	case day == w.Primary:
		return w.PrimaryWindow
	case w.Secondary[day]:
		return w.SecondaryWindow
	default:
		return w.DefaultWindow
	}
}

// Clock provides time to the registry. Mockable in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides adjustable time for testing.
type TestClock struct {
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	return t.CurrentTime
}

// Advance moves the test clock forward.
func (t *TestClock) Advance(d time.Duration) {
	t.CurrentTime = t.CurrentTime.Add(d)
}

// NewID generates a session identifier for server-initiated sessions.
// Client-initiated sessions supply their own.
func NewID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// This should never happen with a working system RNG
		panic(fmt.Sprintf("failed to generate random session ID: %v", err))
	}
	return hex.EncodeToString(bytes)
}
