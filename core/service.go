package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/groumap/stampcard/docstore"
)

// Service ties the token codec, permission gate, and points policy to
// the document store. It holds no mutable state of its own; every call
// is independent and concurrency control is the store's transaction
// contract.
type Service struct {
	store      docstore.Store
	codec      *Codec
	gate       *PermissionGate
	limiter    RateLimiter
	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type Config struct {
	Store docstore.Store
	Codec *Codec

	// RateLimiter bounds token issuance per user; nil disables limiting.
	RateLimiter RateLimiter
	RateLimit   int
	RateWindow  time.Duration

	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rateWindow := cfg.RateWindow
	if rateWindow == 0 && cfg.RateLimit > 0 {
		rateWindow = time.Hour
	}
	return &Service{
		store:      cfg.Store,
		codec:      cfg.Codec,
		gate:       NewPermissionGate(cfg.Store),
		limiter:    cfg.RateLimiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: rateWindow,
		now:        nowFn,
		logger:     logger,
	}, nil
}

// IssueToken mints a redemption token for userID. The caller supplies an
// already-authenticated identity; nothing beyond that is validated here.
func (s *Service) IssueToken(ctx context.Context, userID string) (IssuedToken, error) {
	if userID == "" {
		return IssuedToken{}, fmt.Errorf("userID is required")
	}

	if s.limiter != nil && s.rateLimit > 0 {
		if err := s.limiter.CheckAndIncrement(ctx, userID, s.rateLimit, s.rateWindow); err != nil {
			return IssuedToken{}, err
		}
	}

	token, expiresAt, err := s.codec.Mint(userID)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("mint token: %w", err)
	}
	tokensIssued.Inc()
	s.logger.Info("token issued", "user_id", userID, "expires_at", expiresAt)
	return IssuedToken{Token: token, ExpiresAt: expiresAt}, nil
}

func dateString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
