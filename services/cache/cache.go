// Package cache hosts the Redis-backed cache component.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/lifecycle"
)

// Kind identifies the cache component slot.
const Kind lifecycle.Kind = "cache"

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL is the default expiry applied by Set.
	TTL time.Duration
}

// DefaultConfig returns local-Redis defaults.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379", TTL: 5 * time.Minute}
}

// Service is a cache facade over a Redis client. The client is built during
// the construction phase; connectivity is only verified in the deferred
// start phase, once every component in the cohort has been constructed.
type Service struct {
	cfg    Config
	log    *logging.Logger
	client *redis.Client
}

var (
	_ lifecycle.Singleton     = (*Service)(nil)
	_ lifecycle.ConstructHook = (*Service)(nil)
	_ lifecycle.StartHook     = (*Service)(nil)
	_ lifecycle.ReleaseHook   = (*Service)(nil)
)

// New creates the cache component.
func New(cfg Config, log *logging.Logger) *Service {
	return &Service{cfg: cfg, log: log.WithField("component", string(Kind))}
}

// Kind implements lifecycle.Singleton.
func (s *Service) Kind() lifecycle.Kind { return Kind }

// AfterConstruct builds the Redis client without touching the network.
func (s *Service) AfterConstruct(ctx context.Context) error {
	s.client = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})
	s.log.Debug("redis client created", "addr", s.cfg.Addr, "db", s.cfg.DB)
	return nil
}

// AfterStart verifies connectivity once the whole cohort is constructed.
func (s *Service) AfterStart(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("cache ready", "addr", s.cfg.Addr)
	return nil
}

// OnReleased closes the client.
func (s *Service) OnReleased() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.Warn("close redis client", "error", err)
		}
		s.client = nil
	}
}

// Close disposes of the client when the instance lost its claim and never
// entered the lifecycle.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Set stores value under key with the configured default TTL.
func (s *Service) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, s.cfg.TTL).Err()
}

// Get returns the value under key. A miss returns ("", false, nil).
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Delete removes key.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
