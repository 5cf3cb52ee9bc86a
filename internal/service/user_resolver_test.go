package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository/memory"
)

func TestResolveCreatesUser(t *testing.T) {
	store := memory.NewUserStore()
	r := NewRepositoryUserResolver(store)
	ctx := context.Background()

	u, created, err := r.Resolve(ctx, "+237650000000")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, u.ID)
	assert.True(t, strings.HasPrefix(u.AccountID, "acc_"))
	assert.Equal(t, "User 0000", u.Name)
	assert.Equal(t, "+237650000000", u.Phone)
	assert.False(t, u.CreatedAt.IsZero())

	again, created, err := r.Resolve(ctx, "+237650000000")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
}

func TestResolveExistingUser(t *testing.T) {
	store := memory.NewUserStore()
	require.NoError(t, store.Create(context.Background(), &model.User{
		ID:    "user-1",
		Name:  "Ada",
		Phone: "+237650000000",
	}))

	r := NewRepositoryUserResolver(store)
	u, created, err := r.Resolve(context.Background(), "+237650000000")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "Ada", u.Name)
}

func TestRecordVerification(t *testing.T) {
	store := memory.NewUserStore()
	r := NewRepositoryUserResolver(store)
	ctx := context.Background()

	u, _, err := r.Resolve(ctx, "+237650000000")
	require.NoError(t, err)

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.RecordVerification(ctx, u.ID, first))

	stored, err := store.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PhoneVerifiedAt)
	assert.Equal(t, first, *stored.PhoneVerifiedAt)
	require.NotNil(t, stored.LastLogin)

	// Both stamps move on every successful verification.
	second := first.Add(24 * time.Hour)
	require.NoError(t, r.RecordVerification(ctx, u.ID, second))

	stored, err = store.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second, *stored.PhoneVerifiedAt)
	assert.Equal(t, second, *stored.LastLogin)
}
