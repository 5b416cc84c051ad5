package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchpulse/matchpulse/internal/config"
	"github.com/matchpulse/matchpulse/internal/store"
)

// Store implements the store.Store interface using Redis
type Store struct {
	client      *redis.Client
	playerStore *playerStore
	stateStore  *stateStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout := config.ParseDuration(cfg.DialTimeout, 5*time.Second)
	readTimeout := config.ParseDuration(cfg.ReadTimeout, 3*time.Second)
	writeTimeout := config.ParseDuration(cfg.WriteTimeout, 3*time.Second)

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:      client,
		playerStore: &playerStore{client: client},
		stateStore:  &stateStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Players returns the PlayerStore implementation
func (s *Store) Players() store.PlayerStore {
	return s.playerStore
}

// State returns the StateStore implementation
func (s *Store) State() store.StateStore {
	return s.stateStore
}
