// Package store persists slowly-changing reference data so a restarted
// process can serve names and week numbers before its first daily refresh.
// Live-session state is deliberately not stored here; the heartbeat
// protocol rebuilds it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/matchpulse/matchpulse/internal/sleeper"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("store: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Players() PlayerStore
	State() StateStore
}

// PlayerStore manages the player directory snapshot.
type PlayerStore interface {
	PutDirectory(ctx context.Context, players map[string]sleeper.Player, refreshedAt time.Time) error
	GetDirectory(ctx context.Context) (map[string]sleeper.Player, error)
	GetPlayer(ctx context.Context, id string) (*sleeper.Player, error)
	Count(ctx context.Context) (int, error)
	RefreshedAt(ctx context.Context) (time.Time, error)
}

// StateStore manages the league state snapshot.
type StateStore interface {
	PutLeagueState(ctx context.Context, state sleeper.LeagueState) error
	GetLeagueState(ctx context.Context) (*sleeper.LeagueState, error)
}
