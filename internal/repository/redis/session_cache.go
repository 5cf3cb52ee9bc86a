package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/util"
)

const (
	sessionDataPrefix  = "session:"
	userSessionsPrefix = "user_sessions:"
)

// ErrCacheMiss is returned when a token has no cached session. Callers
// fall through to the durable store.
var ErrCacheMiss = errors.New("session not in cache")

// SessionCache is a read-through cache in front of the session store,
// keyed by access token with a per-user token set for bulk
// invalidation.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) CacheSession(ctx context.Context, s *model.Session, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionDataPrefix+s.Token, string(data), ttl)
	userKey := userSessionsPrefix + s.UserID
	pipe.SAdd(ctx, userKey, s.Token)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to cache session",
			util.String("user_id", s.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

func (c *SessionCache) GetSession(ctx context.Context, token string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, sessionDataPrefix+token)
	if err != nil {
		if strings.HasPrefix(err.Error(), "key not found") {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cached session: %w", err)
	}

	s := &model.Session{}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached session: %w", err)
	}
	return s, nil
}

func (c *SessionCache) InvalidateSession(ctx context.Context, token, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, sessionDataPrefix+token)
	pipe.SRem(ctx, userSessionsPrefix+userID, token)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to invalidate cached session",
			util.String("user_id", userID),
			util.ErrorField(err))
		return fmt.Errorf("failed to invalidate cached session: %w", err)
	}
	return nil
}

func (c *SessionCache) InvalidateAllForUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	userKey := userSessionsPrefix + userID
	tokens, err := c.client.SMembers(ctx, userKey)
	if err != nil {
		return fmt.Errorf("failed to list cached sessions for user: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, token := range tokens {
		pipe.Del(ctx, sessionDataPrefix+token)
	}
	pipe.Del(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to invalidate all cached sessions",
			util.String("user_id", userID),
			util.Int("session_count", len(tokens)),
			util.ErrorField(err))
		return fmt.Errorf("failed to invalidate all cached sessions: %w", err)
	}

	util.Info("All cached sessions invalidated",
		util.String("user_id", userID),
		util.Int("session_count", len(tokens)))
	return nil
}
