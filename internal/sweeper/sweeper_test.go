package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository/memory"
)

func TestSweepOnce(t *testing.T) {
	challenges := memory.NewChallengeStore()
	sessions := memory.NewSessionStore()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Settled challenge past retention and a live pending one.
	require.NoError(t, challenges.Insert(ctx, &model.Challenge{
		ID:        uuid.New(),
		Phone:     "+237650000000",
		Purpose:   "login",
		Status:    model.StatusExpired,
		CreatedAt: now.Add(-3 * time.Hour),
		ExpiresAt: now.Add(-3 * time.Hour).Add(5 * time.Minute),
	}))
	require.NoError(t, challenges.Insert(ctx, &model.Challenge{
		ID:        uuid.New(),
		Phone:     "+237650000000",
		Purpose:   "login",
		Status:    model.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}))

	// One session far past its refresh lifetime, one live.
	require.NoError(t, sessions.Insert(ctx, &model.Session{
		Token:            "dead",
		RefreshToken:     "dead-refresh",
		UserID:           "user-1",
		RefreshExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, sessions.Insert(ctx, &model.Session{
		Token:            "live",
		RefreshToken:     "live-refresh",
		UserID:           "user-1",
		IsActive:         true,
		ExpiresAt:        now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}))

	s := New(challenges, sessions, config.SweepConfig{Interval: time.Minute}, time.Hour)
	s.now = func() time.Time { return now }

	s.SweepOnce(ctx)

	rows := challenges.History("+237650000000", "login")
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusPending, rows[0].Status)

	_, err := sessions.GetByToken(ctx, "dead")
	assert.Error(t, err)
	_, err = sessions.GetByToken(ctx, "live")
	assert.NoError(t, err)
}

func TestNewDefaults(t *testing.T) {
	s := New(memory.NewChallengeStore(), memory.NewSessionStore(), config.SweepConfig{}, 0)
	assert.Equal(t, 10*time.Minute, s.interval)
	assert.Equal(t, time.Hour, s.retention)
}
