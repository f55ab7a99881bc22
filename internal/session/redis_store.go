// Package session provides Redis-backed storage for refresh tokens and the
// ephemeral admin impersonation flag.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"harborview/api/internal/identity"
	"harborview/api/internal/store"
)

// TokenData holds the data stored for each refresh token. Only the user id
// is persisted; role and customer scope are re-fetched from the live user
// record on refresh so a stale copy can never outlive a demotion.
type TokenData struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements refresh-token and impersonation-flag storage.
type RedisStore struct {
	client            *redis.Client
	refreshPrefix     string
	impersonatePrefix string
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:            client,
		refreshPrefix:     "refresh:",
		impersonatePrefix: "impersonate:",
	}
}

func (s *RedisStore) refreshKey(tokenHash string) string {
	return s.refreshPrefix + tokenHash
}

func (s *RedisStore) impersonateKey(adminUserID string) string {
	return s.impersonatePrefix + adminUserID
}

// SaveRefreshSession stores a refresh token with expiration.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	data := TokenData{
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.refreshKey(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession retrieves a refresh token and returns the user it was
// issued to. Only the id is meaningful; callers load the live record for
// everything else.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	jsonData, err := s.client.Get(ctx, s.refreshKey(tokenHash)).Result()
	if err == redis.Nil {
		return store.User{}, fmt.Errorf("token not found or expired")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}

	return store.User{ID: data.UserID}, nil
}

// RevokeRefreshSession deletes a refresh token.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.refreshKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// SaveImpersonation stores the impersonation target for an admin with a TTL
// so a forgotten flag cannot outlive the session.
func (s *RedisStore) SaveImpersonation(ctx context.Context, adminUserID, targetCustomerID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := s.client.Set(ctx, s.impersonateKey(adminUserID), targetCustomerID, ttl).Err(); err != nil {
		return fmt.Errorf("save impersonation flag: %w", err)
	}
	return nil
}

// LookupImpersonation returns the target customer id for an admin, or
// identity.ErrNoFlag when nothing is set.
func (s *RedisStore) LookupImpersonation(ctx context.Context, adminUserID string) (string, error) {
	target, err := s.client.Get(ctx, s.impersonateKey(adminUserID)).Result()
	if err == redis.Nil {
		return "", identity.ErrNoFlag
	}
	if err != nil {
		return "", fmt.Errorf("lookup impersonation flag: %w", err)
	}
	return target, nil
}

// ClearImpersonation removes the impersonation flag. Clearing an unset flag
// is a no-op.
func (s *RedisStore) ClearImpersonation(ctx context.Context, adminUserID string) error {
	if err := s.client.Del(ctx, s.impersonateKey(adminUserID)).Err(); err != nil {
		return fmt.Errorf("clear impersonation flag: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
