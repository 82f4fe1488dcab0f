package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore suppresses repeat warn-tier alerts for the same
// actor/tenant/action key within a cooldown period.
type CooldownStore interface {
	// Allow reports whether an alert for the key may fire now. A true result
	// arms the cooldown for the given duration.
	Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error)
	Close() error
}

// CooldownKey builds the suppression key for an alert.
func CooldownKey(tenantID, actorID, action string) string {
	return fmt.Sprintf("warncd:%s:%s:%s", tenantID, actorID, action)
}

// MemoryCooldown is the default in-process cooldown store.
type MemoryCooldown struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryCooldown creates a new in-memory cooldown store.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{
		expires: make(map[string]time.Time),
	}
}

func (m *MemoryCooldown) Allow(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if until, ok := m.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	m.expires[key] = now.Add(cooldown)

	// Opportunistic sweep of expired entries.
	if len(m.expires) > 10000 {
		for k, until := range m.expires {
			if now.After(until) {
				delete(m.expires, k)
			}
		}
	}
	return true, nil
}

func (m *MemoryCooldown) Close() error {
	return nil
}

// RedisCooldown shares alert suppression state across replicas via Redis.
type RedisCooldown struct {
	client *redis.Client
}

// RedisCooldownConfig holds Redis connection settings.
type RedisCooldownConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisCooldown creates a Redis-backed cooldown store.
func NewRedisCooldown(cfg RedisCooldownConfig) (*RedisCooldown, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCooldown{client: client}, nil
}

func (r *RedisCooldown) Allow(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (r *RedisCooldown) Close() error {
	return r.client.Close()
}
