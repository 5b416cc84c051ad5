package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchpulse/matchpulse/internal/sleeper"
	"github.com/matchpulse/matchpulse/internal/store"
)

const (
	playersKey            = "matchpulse:players"
	playersRefreshedAtKey = "matchpulse:players:refreshed_at"
	leagueStateKey        = "matchpulse:league_state"
)

// playerStore implements store.PlayerStore backed by one Redis hash.
type playerStore struct {
	client *redis.Client
}

// PutDirectory replaces the stored directory with the given snapshot.
func (s *playerStore) PutDirectory(ctx context.Context, players map[string]sleeper.Player, refreshedAt time.Time) error {
	fields := make(map[string]interface{}, len(players))
	for id, p := range players {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal player %s: %w", id, err)
		}
		fields[id] = data
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, playersKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, playersKey, fields)
	}
	pipe.Set(ctx, playersRefreshedAtKey, refreshedAt.Format(time.RFC3339), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store player directory: %w", err)
	}
	return nil
}

// GetDirectory returns the full stored directory.
func (s *playerStore) GetDirectory(ctx context.Context) (map[string]sleeper.Player, error) {
	raw, err := s.client.HGetAll(ctx, playersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read player directory: %w", err)
	}
	if len(raw) == 0 {
		return nil, store.ErrNotFound
	}

	players := make(map[string]sleeper.Player, len(raw))
	for id, data := range raw {
		var p sleeper.Player
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player %s: %w", id, err)
		}
		players[id] = p
	}
	return players, nil
}

// GetPlayer returns one directory entry.
func (s *playerStore) GetPlayer(ctx context.Context, id string) (*sleeper.Player, error) {
	data, err := s.client.HGet(ctx, playersKey, id).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read player %s: %w", id, err)
	}

	var p sleeper.Player
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player %s: %w", id, err)
	}
	return &p, nil
}

// Count returns the number of stored directory entries.
func (s *playerStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, playersKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return int(n), nil
}

// RefreshedAt returns when the directory snapshot was last written.
func (s *playerStore) RefreshedAt(ctx context.Context) (time.Time, error) {
	data, err := s.client.Get(ctx, playersRefreshedAtKey).Result()
	if err == redis.Nil {
		return time.Time{}, store.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read refresh timestamp: %w", err)
	}
	return time.Parse(time.RFC3339, data)
}

// stateStore implements store.StateStore.
type stateStore struct {
	client *redis.Client
}

// PutLeagueState stores the league state snapshot.
func (s *stateStore) PutLeagueState(ctx context.Context, state sleeper.LeagueState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal league state: %w", err)
	}
	if err := s.client.Set(ctx, leagueStateKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store league state: %w", err)
	}
	return nil
}

// GetLeagueState returns the stored league state snapshot.
func (s *stateStore) GetLeagueState(ctx context.Context) (*sleeper.LeagueState, error) {
	data, err := s.client.Get(ctx, leagueStateKey).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read league state: %w", err)
	}

	var state sleeper.LeagueState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal league state: %w", err)
	}
	return &state, nil
}
