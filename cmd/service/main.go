package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/groumap/stampcard/core"
	"github.com/groumap/stampcard/docstore"
	"github.com/groumap/stampcard/notify"
)

type contextKey string

const userIDKey contextKey = "user_id"

var validate = validator.New()

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := loadConfig(logger)

	store, err := docstore.OpenBadger(cfg.BadgerPath, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	codec, err := core.NewCodec(cfg.TokenSecret, nil)
	if err != nil {
		logger.Error("init token codec", "error", err)
		os.Exit(1)
	}

	svc, err := core.NewService(core.Config{
		Store:       store,
		Codec:       codec,
		RateLimiter: buildRateLimiter(cfg, logger),
		RateLimit:   cfg.IssueRateLimit,
		RateWindow:  cfg.IssueRateWindow,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("init service", "error", err)
		os.Exit(1)
	}

	bus := notify.NewBus(logger)
	if cfg.ResendAPIURL != "" {
		emails := notify.NewEmailClient(cfg.ResendAPIURL, cfg.ResendAPIKey)
		handler := notify.NewReferralHandler(
			emails, cfg.EmailFrom, cfg.NotifyWebhookURL,
			notify.NewSigner(cfg.NotifySecret), logger,
		)
		bus.Subscribe(handler)
	}

	r := chi.NewRouter()
	r.Use(rateLimit(60, time.Minute))
	r.Use(requestLogger(logger))
	r.Group(func(api chi.Router) {
		api.Use(bearerAuth(cfg.AuthSecret))
		api.Post("/qr/issue", handleIssue(svc))
		api.Post("/redeem", handleRedeem(svc))
		api.Post("/referrals", handleCreateReferral(store, bus))
	})
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + strconv.Itoa(cfg.Port)
	logger.Info("listening", "addr", addr, "badger_path", cfg.BadgerPath, "redis", cfg.RedisAddr != "")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type issueResponse struct {
	Success   bool   `json:"success"`
	QRToken   string `json:"qrToken,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

func handleIssue(svc *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := r.Context().Value(userIDKey).(string)
		if !ok || uid == "" {
			writeJSON(w, http.StatusUnauthorized, issueResponse{Success: false, Error: "unauthenticated"})
			return
		}

		issued, err := svc.IssueToken(r.Context(), uid)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, core.ErrRateLimitExceeded) {
				status = http.StatusTooManyRequests
			}
			writeJSON(w, status, issueResponse{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, issueResponse{
			Success:   true,
			QRToken:   issued.Token,
			ExpiresAt: issued.ExpiresAt,
		})
	}
}

type redeemRequest struct {
	QRToken string `json:"qrToken" validate:"required"`
	StoreID string `json:"storeId" validate:"required"`
}

type redeemResponse struct {
	Success        bool     `json:"success"`
	PointsEarned   int      `json:"pointsEarned,omitempty"`
	NewTotalPoints int      `json:"newTotalPoints,omitempty"`
	GoldStamps     int      `json:"goldStamps,omitempty"`
	Badges         []string `json:"badges,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func handleRedeem(svc *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		staffID, ok := r.Context().Value(userIDKey).(string)
		if !ok || staffID == "" {
			writeJSON(w, http.StatusUnauthorized, redeemResponse{Success: false, Error: "unauthenticated"})
			return
		}

		var req redeemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, redeemResponse{Success: false, Error: "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, redeemResponse{Success: false, Error: "qrToken and storeId are required"})
			return
		}

		result, err := svc.Redeem(r.Context(), staffID, req.QRToken, req.StoreID)
		if err != nil {
			writeJSON(w, redeemErrStatus(err), redeemResponse{Success: false, Error: redeemErrMessage(err)})
			return
		}
		writeJSON(w, http.StatusOK, redeemResponse{
			Success:        true,
			PointsEarned:   result.PointsEarned,
			NewTotalPoints: result.NewTotalPoints,
			GoldStamps:     result.NewGoldStamps,
			Badges:         result.EarnedBadges,
		})
	}
}

func redeemErrStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrTokenUsed), errors.Is(err, core.ErrAlreadyStampedToday):
		return http.StatusConflict
	case errors.Is(err, core.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// redeemErrMessage keeps expected rejections verbatim but hides
// storage-level details behind a generic message.
func redeemErrMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrNotAuthorized),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenUsed),
		errors.Is(err, core.ErrAlreadyStampedToday),
		errors.Is(err, core.ErrUserNotFound):
		return err.Error()
	default:
		return "redemption failed"
	}
}

type referralRequest struct {
	ReferrerID    string `json:"referrerId" validate:"required"`
	ReferrerEmail string `json:"referrerEmail" validate:"omitempty,email"`
	ReferredID    string `json:"referredId" validate:"required"`
	ReferredEmail string `json:"referredEmail" validate:"omitempty,email"`
}

func handleCreateReferral(store docstore.Store, bus *notify.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req referralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "referrerId and referredId are required", http.StatusBadRequest)
			return
		}

		ref := notify.Referral{
			ID:            uuid.NewString(),
			ReferrerID:    req.ReferrerID,
			ReferrerEmail: req.ReferrerEmail,
			ReferredID:    req.ReferredID,
			ReferredEmail: req.ReferredEmail,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.Create(r.Context(), notify.ColReferrals, ref.ID, ref); err != nil {
			http.Error(w, "failed to record referral", http.StatusInternalServerError)
			return
		}

		doc, _ := json.Marshal(ref)
		// The side flow must not inherit this request's cancellation.
		bus.Publish(context.WithoutCancel(r.Context()), notify.RecordCreated{
			Collection: notify.ColReferrals,
			Key:        ref.ID,
			Doc:        doc,
			OccurredAt: ref.CreatedAt,
		})

		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": ref.ID})
	}
}

// --- middleware & helpers ---

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

// rateLimit is a simple in-process sliding window limiter per client address.
func rateLimit(max int, window time.Duration) func(http.Handler) http.Handler {
	type entry struct {
		count int
		ts    time.Time
	}
	var (
		mu      sync.Mutex
		buckets = make(map[string]entry)
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			now := time.Now()

			mu.Lock()
			e := buckets[key]
			if now.Sub(e.ts) > window {
				e = entry{count: 0, ts: now}
			}
			e.count++
			e.ts = now
			buckets[key] = e
			mu.Unlock()

			if e.count > max {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimSpace(auth[7:])
			userID, err := parseAndValidateJWT(raw, secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseAndValidateJWT(tokenStr, secret string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid jwt")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- config ---

type config struct {
	TokenSecret      string
	AuthSecret       string
	NotifySecret     string
	Port             int
	BadgerPath       string
	RedisAddr        string
	IssueRateLimit   int
	IssueRateWindow  time.Duration
	ResendAPIURL     string
	ResendAPIKey     string
	EmailFrom        string
	NotifyWebhookURL string
}

func loadConfig(logger *slog.Logger) config {
	// The redemption-token secret has no default on purpose: a known
	// fallback would let anyone mint valid stamps.
	tokenSecret := os.Getenv("REDEEM_TOKEN_SECRET")
	if tokenSecret == "" {
		logger.Error("REDEEM_TOKEN_SECRET is not set")
		os.Exit(1)
	}

	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	rateLimit := 30
	if l := os.Getenv("ISSUE_RATE_LIMIT"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			rateLimit = v
		}
	}
	rateWindow := time.Hour
	if s := os.Getenv("ISSUE_RATE_WINDOW_SECONDS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			rateWindow = time.Duration(v) * time.Second
		}
	}

	return config{
		TokenSecret:      tokenSecret,
		AuthSecret:       envOr("AUTH_JWT_SECRET", tokenSecret),
		NotifySecret:     envOr("NOTIFY_SIGNING_SECRET", tokenSecret),
		Port:             port,
		BadgerPath:       os.Getenv("BADGER_PATH"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		IssueRateLimit:   rateLimit,
		IssueRateWindow:  rateWindow,
		ResendAPIURL:     os.Getenv("RESEND_API_URL"),
		ResendAPIKey:     os.Getenv("RESEND_API_KEY"),
		EmailFrom:        envOr("EMAIL_FROM", "GrouMap <noreply@groumap.app>"),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
	}
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func buildRateLimiter(cfg config, logger *slog.Logger) core.RateLimiter {
	if cfg.IssueRateLimit <= 0 {
		return nil
	}
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory issuance rate limiter")
		return core.NewMemoryRateLimiter()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis ping failed", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("using redis issuance rate limiter", "addr", cfg.RedisAddr)
	return core.NewRedisRateLimiter(client, "stamp-issue-rate:")
}
