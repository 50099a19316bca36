package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	RedisKeyPrefix      = "telecache:snapshot:"
	DefaultRedisChannel = "telecache:commits"
)

type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// Redis stores the latest snapshot of each tier under a key and announces commits on a channel.
type Redis struct {
	client  redisClient
	channel string
	ttl     func(tier string) time.Duration
}

// ConnectRedis creates a Redis client from URL or host:port input.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedis creates a Redis publisher.
// ttl gives the expiration of the snapshot key of a tier; zero means no expiration.
func NewRedis(redisURL, channel string, ttl func(tier string) time.Duration) (*Redis, error) {
	client, err := ConnectRedis(redisURL)
	if err != nil {
		return nil, err
	}
	return newRedis(client, channel, ttl), nil
}

func newRedis(client redisClient, channel string, ttl func(string) time.Duration) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if ttl == nil {
		ttl = func(string) time.Duration { return 0 }
	}
	return &Redis{client: client, channel: channel, ttl: ttl}
}

type commitNotice struct {
	Tier      string         `json:"tier"`
	SyncID    string         `json:"sync_id"`
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
	Key       string         `json:"key"`
}

func (p *Redis) Publish(ctx context.Context, e Event) error {
	payload, err := e.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := RedisKeyPrefix + string(e.Tier)
	if err := p.client.Set(ctx, key, payload, p.ttl(string(e.Tier))).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	notice, err := json.Marshal(commitNotice{
		Tier:      string(e.Tier),
		SyncID:    e.SyncID,
		Timestamp: e.Timestamp,
		Counts:    e.Counts,
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("failed to encode commit notice: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, notice).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *Redis) Close() error {
	return p.client.Close()
}
