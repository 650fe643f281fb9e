// Package cache implements imagepick.Cache on top of Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps search responses for a week.
const DefaultTTL = 7 * 24 * time.Hour

const keyNamespace = "imagepick"

// Redis stores JSON-encoded values under hashed keys with a fixed TTL.
// Cache errors are logged and treated as misses.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// Options configure NewRedis.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // default: DefaultTTL
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, opts.TTL), nil
}

// New wraps an existing client.
func New(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Key builds "imagepick:<prefix>:<sha256(value)>".
func (r *Redis) Key(prefix, value string) string {
	sum := sha256.Sum256([]byte(value))
	return keyNamespace + ":" + prefix + ":" + hex.EncodeToString(sum[:16])
}

// Get decodes the value stored at key into dest and reports whether it was found.
func (r *Redis) Get(ctx context.Context, key string, dest any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("imagepick: cache get failed", "key", key, "error", err.Error())
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		slog.Warn("imagepick: cache entry undecodable", "key", key, "error", err.Error())
		return false
	}
	return true
}

// Set stores value at key with the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("imagepick: cache encode failed", "key", key, "error", err.Error())
		return
	}
	if err := r.client.Set(ctx, key, string(data), r.ttl).Err(); err != nil {
		slog.Warn("imagepick: cache set failed", "key", key, "error", err.Error())
	}
}
