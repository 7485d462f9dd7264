package core

import (
	"context"
	"time"
)

// RateLimiter bounds how often a single user may be granted a fresh
// redemption token within a window.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, userID string, limit int, window time.Duration) error
}
