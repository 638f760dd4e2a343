// Package session stores unlock-session tokens in Redis. A token is
// minted when the vault password is verified and expires on its own, so
// an abandoned browser tab cannot keep the stream reachable forever.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/laguz/internal/apperr"
)

// DefaultTTL is how long an unlock session stays valid without renewal.
const DefaultTTL = 24 * time.Hour

// Token is the metadata stored under each session token.
type Token struct {
	IssuedAt time.Time `json:"issued_at"`
	Client   string    `json:"client,omitempty"`
}

// RedisStore keeps unlock sessions in Redis under a "session:" prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client. Tests use this with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "session:", ttl: ttl}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Issue mints a fresh random token and stores it with the configured TTL.
func (s *RedisStore) Issue(ctx context.Context, client string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: token: %w", err)
	}
	token := hex.EncodeToString(raw)

	data, err := json.Marshal(Token{IssuedAt: time.Now().UTC(), Client: client})
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: store: %w", err)
	}
	return token, nil
}

// Validate looks a token up, renewing its TTL on success.
func (s *RedisStore) Validate(ctx context.Context, token string) (Token, error) {
	raw, err := s.client.Get(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return Token{}, fmt.Errorf("session: unknown or expired token: %w", apperr.ErrAuthenticationFailure)
	}
	if err != nil {
		return Token{}, fmt.Errorf("session: lookup: %w", err)
	}

	var data Token
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Token{}, fmt.Errorf("session: decode: %w", err)
	}

	// Sliding expiry: activity keeps the session alive.
	if err := s.client.Expire(ctx, s.key(token), s.ttl).Err(); err != nil {
		return Token{}, fmt.Errorf("session: renew: %w", err)
	}
	return data, nil
}

// Revoke removes a token. Revoking an unknown token is not an error.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// RevokeAll removes every session, as after a rekey.
func (s *RedisStore) RevokeAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("session: revoke all: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("session: scan: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
