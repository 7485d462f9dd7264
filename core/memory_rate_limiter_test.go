package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter_Limit(t *testing.T) {
	r := NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.CheckAndIncrement(ctx, "user-1", 3, time.Minute))
	}
	assert.ErrorIs(t, r.CheckAndIncrement(ctx, "user-1", 3, time.Minute), ErrRateLimitExceeded)

	// Budgets are per user.
	assert.NoError(t, r.CheckAndIncrement(ctx, "user-2", 3, time.Minute))
}

func TestMemoryRateLimiter_WindowReset(t *testing.T) {
	r := NewMemoryRateLimiter()
	ctx := context.Background()

	require.NoError(t, r.CheckAndIncrement(ctx, "user-1", 1, 10*time.Millisecond))
	assert.ErrorIs(t, r.CheckAndIncrement(ctx, "user-1", 1, 10*time.Millisecond), ErrRateLimitExceeded)

	time.Sleep(15 * time.Millisecond)
	assert.NoError(t, r.CheckAndIncrement(ctx, "user-1", 1, 10*time.Millisecond))
}
