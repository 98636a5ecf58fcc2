// Package redis opens the go-redis client that carries the job queue and the
// cancel channel between the dispatcher and its workers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/env"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	PingTimeout time.Duration
	// KeyPrefix namespaces the queue list and the cancel channel.
	KeyPrefix string
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("PIPELINE_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	poolSize, err := env.Int("PIPELINE_REDIS_POOL_SIZE", 10)
	if err != nil {
		return Config{}, err
	}
	dialTimeout, err := env.Duration("PIPELINE_REDIS_DIAL_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	pingTimeout, err := env.Duration("PIPELINE_REDIS_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:        env.String("PIPELINE_REDIS_ADDR", "localhost:6379"),
		Password:    env.String("PIPELINE_REDIS_PASSWORD", ""),
		DB:          db,
		PoolSize:    poolSize,
		DialTimeout: dialTimeout,
		PingTimeout: pingTimeout,
		KeyPrefix:   env.String("PIPELINE_REDIS_KEY_PREFIX", "pipelines"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("PIPELINE_REDIS_ADDR is required")
	}
	if c.DB < 0 {
		return errors.New("PIPELINE_REDIS_DB must be >= 0")
	}
	if c.PoolSize < 1 {
		return errors.New("PIPELINE_REDIS_POOL_SIZE must be >= 1")
	}
	if c.PingTimeout <= 0 {
		return errors.New("PIPELINE_REDIS_PING_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.KeyPrefix) == "" {
		return errors.New("PIPELINE_REDIS_KEY_PREFIX is required")
	}
	return nil
}

// Open connects and pings. The caller owns the returned client.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		// Blocking commands such as BRPOP extend this by their own timeout.
		ReadTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}
