package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"harborview/api/internal/identity"
	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "test-token-hash"
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, tokenHash, "user-123", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", user.ID)
	}
	// Role is never persisted alongside the token; it comes from the live
	// user record at refresh time.
	if user.Role != "" || user.CustomerID != nil {
		t.Errorf("lookup must return only the id, got role %q customer %v", user.Role, user.CustomerID)
	}
}

func TestLookupExpiredRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(1 * time.Millisecond)
	if err := store.SaveRefreshSession(ctx, "expired-token", "user-456", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, "expired-token"); err == nil {
		t.Fatalf("expected lookup of expired token to fail")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "revoke-me", "user-789", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "revoke-me"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "revoke-me"); err == nil {
		t.Fatalf("expected lookup of revoked token to fail")
	}
}

func TestImpersonationFlagLifecycle(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if _, err := store.LookupImpersonation(ctx, "admin-1"); !errors.Is(err, identity.ErrNoFlag) {
		t.Fatalf("expected ErrNoFlag before save, got %v", err)
	}

	if err := store.SaveImpersonation(ctx, "admin-1", "cust-7", time.Minute); err != nil {
		t.Fatalf("SaveImpersonation failed: %v", err)
	}

	target, err := store.LookupImpersonation(ctx, "admin-1")
	if err != nil {
		t.Fatalf("LookupImpersonation failed: %v", err)
	}
	if target != "cust-7" {
		t.Fatalf("expected target cust-7, got %q", target)
	}

	if err := store.ClearImpersonation(ctx, "admin-1"); err != nil {
		t.Fatalf("ClearImpersonation failed: %v", err)
	}
	if _, err := store.LookupImpersonation(ctx, "admin-1"); !errors.Is(err, identity.ErrNoFlag) {
		t.Fatalf("expected ErrNoFlag after clear, got %v", err)
	}

	// Clearing again is a no-op.
	if err := store.ClearImpersonation(ctx, "admin-1"); err != nil {
		t.Fatalf("clearing an unset flag must not error: %v", err)
	}
}

func TestImpersonationFlagExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveImpersonation(ctx, "admin-1", "cust-7", 10*time.Millisecond); err != nil {
		t.Fatalf("SaveImpersonation failed: %v", err)
	}

	s.FastForward(20 * time.Millisecond)

	if _, err := store.LookupImpersonation(ctx, "admin-1"); !errors.Is(err, identity.ErrNoFlag) {
		t.Fatalf("expected flag to expire, got %v", err)
	}
}
