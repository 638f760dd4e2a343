package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/starford/laguz/internal/apperr"
)

func setupStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, ttl)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestIssueAndValidate(t *testing.T) {
	store, _ := setupStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, "web")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	data, err := store.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if data.Client != "web" {
		t.Errorf("client = %q, want web", data.Client)
	}
	if data.IssuedAt.IsZero() {
		t.Error("issued-at not recorded")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	store, _ := setupStore(t, time.Hour)

	_, err := store.Validate(context.Background(), "nope")
	if !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestTokenExpires(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := context.Background()

	token, err := store.Issue(ctx, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Validate(ctx, token); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("expired token err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestValidateRenewsTTL(t *testing.T) {
	store, mr := setupStore(t, time.Minute)
	ctx := context.Background()

	token, err := store.Issue(ctx, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Activity just before expiry keeps the session alive past the
	// original deadline.
	mr.FastForward(50 * time.Second)
	if _, err := store.Validate(ctx, token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if _, err := store.Validate(ctx, token); err != nil {
		t.Errorf("renewed token rejected: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	store, _ := setupStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Validate(ctx, token); !errors.Is(err, apperr.ErrAuthenticationFailure) {
		t.Errorf("revoked token err = %v", err)
	}

	// Unknown tokens revoke without error.
	if err := store.Revoke(ctx, "never-issued"); err != nil {
		t.Errorf("Revoke unknown: %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	store, _ := setupStore(t, time.Hour)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		token, err := store.Issue(ctx, "")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		tokens = append(tokens, token)
	}

	if err := store.RevokeAll(ctx); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for _, token := range tokens {
		if _, err := store.Validate(ctx, token); !errors.Is(err, apperr.ErrAuthenticationFailure) {
			t.Errorf("token survived RevokeAll: %v", err)
		}
	}
}
