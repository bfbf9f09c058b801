package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/shared"
	red "github.com/redis/go-redis/v9"
)

const defaultSessionPrefix = "spotproxy:session"

// RedisTokenStore persists token pairs as JSON strings in Redis.
//
// Every Save resets the key's TTL, so idle sessions expire on their own.
type RedisTokenStore struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTokenStore constructs a store with the provided client, key prefix and TTL.
// A ttl of zero stores keys without expiry.
func NewRedisTokenStore(client *red.Client, keyPrefix string, ttl time.Duration) *RedisTokenStore {
	prefix := strings.TrimSuffix(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = defaultSessionPrefix
	}

	return &RedisTokenStore{client: client, prefix: prefix, ttl: ttl}
}

// Load returns the pair stored for id.
func (r *RedisTokenStore) Load(ctx context.Context, id string) (*auth.UserTokens, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}

	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, red.Nil) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var tokens auth.UserTokens
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode session tokens: %w", err)
	}

	return &tokens, nil
}

// Save writes the pair for id and refreshes its TTL.
func (r *RedisTokenStore) Save(ctx context.Context, id string, tokens *auth.UserTokens) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := requireTokens(tokens); err != nil {
		return err
	}

	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode session tokens: %w", err)
	}

	if err := r.client.Set(ctx, r.key(id), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}

	return nil
}

// Delete removes the pair stored for id.
func (r *RedisTokenStore) Delete(ctx context.Context, id string) error {
	removed, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	if removed == 0 {
		return shared.ErrSessionNotFound
	}
	return nil
}

func (r *RedisTokenStore) key(id string) string {
	return r.prefix + ":" + id
}
