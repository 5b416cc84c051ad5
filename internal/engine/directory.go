package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/matchpulse/matchpulse/internal/sleeper"
)

// Directory is the in-memory player name index. It is replaced wholesale
// by the daily refresh and read on every cycle, so reads take the cheap
// lock path.
type Directory struct {
	mu          sync.RWMutex
	players     map[string]sleeper.Player
	refreshedAt time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		players: make(map[string]sleeper.Player),
	}
}

// Replace swaps in a full directory snapshot.
func (d *Directory) Replace(players map[string]sleeper.Player, refreshedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.players = players
	d.refreshedAt = refreshedAt
}

// Resolve returns a player's display name.
func (d *Directory) Resolve(playerID string) (string, bool) {
	d.mu.RLock()
	p, ok := d.players[playerID]
	d.mu.RUnlock()
	if !ok {
		return "", false
	}

	if p.FullName != "" {
		return p.FullName, true
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return "", false
	}
	return name, true
}

// Get returns the full player record.
func (d *Directory) Get(playerID string) (sleeper.Player, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.players[playerID]
	return p, ok
}

// Count returns the number of indexed players.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.players)
}

// RefreshedAt returns when the snapshot was last replaced.
func (d *Directory) RefreshedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshedAt
}
