package core

import (
	"context"
	"sync"
	"time"
)

// MemoryRateLimiter is a per-user fixed-window counter for single-process
// deployments. Windows reset lazily on the first check after expiry.
type MemoryRateLimiter struct {
	mu    sync.Mutex
	users map[string]*issueWindow
}

type issueWindow struct {
	count     int
	windowEnd time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		users: make(map[string]*issueWindow),
	}
}

func (r *MemoryRateLimiter) CheckAndIncrement(_ context.Context, userID string, limit int, window time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, exists := r.users[userID]

	if !exists || now.After(w.windowEnd) {
		r.users[userID] = &issueWindow{
			count:     1,
			windowEnd: now.Add(window),
		}
		return nil
	}

	if w.count >= limit {
		return ErrRateLimitExceeded
	}

	w.count++
	return nil
}
