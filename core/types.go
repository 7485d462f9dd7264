package core

import (
	"errors"
	"time"
)

// Document store collections.
const (
	ColUsers        = "users"
	ColStores       = "stores"
	ColUserStamps   = "user_stamps"
	ColStampHistory = "stamp_history"
)

// UserAccount is a loyalty program member. Mutated only inside Redeem.
type UserAccount struct {
	ID         string `json:"id"`
	Points     int    `json:"points"`
	GoldStamps int    `json:"goldStamps"`
	// LastStampDate is a UTC calendar date (YYYY-MM-DD); empty until the
	// first redemption. Once equal to today it blocks further stamps for
	// the day.
	LastStampDate string    `json:"lastStampDate,omitempty"`
	Badges        []string  `json:"badges,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StoreAccount is a participating store. Read-only here; ownership and
// staff management live elsewhere.
type StoreAccount struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	StaffIDs []string `json:"staffIds"`
}

// UserStoreStamp tracks one user's stamps at one store, keyed by the
// (userID, storeID) pair.
type UserStoreStamp struct {
	UserID         string    `json:"userId"`
	StoreID        string    `json:"storeId"`
	Stamps         int       `json:"stamps"`
	FirstStampDate string    `json:"firstStampDate"`
	LastStampDate  string    `json:"lastStampDate"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HistoryEntry records one completed redemption. Append-only; the set of
// all TokenID values is the single-use ledger for minted tokens.
type HistoryEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	StoreID      string    `json:"storeId"`
	StaffID      string    `json:"staffId"`
	Timestamp    time.Time `json:"timestamp"`
	PointsEarned int       `json:"pointsEarned"`
	TokenID      string    `json:"jti"`
}

// RedeemResult is what a successful redemption reports back.
type RedeemResult struct {
	PointsEarned   int
	NewTotalPoints int
	NewGoldStamps  int
	// EarnedBadges holds only badges newly crossed by this redemption.
	EarnedBadges []string
}

// IssuedToken is a freshly minted redemption token and its expiry in
// epoch milliseconds.
type IssuedToken struct {
	Token     string
	ExpiresAt int64
}

var (
	ErrNotAuthorized       = errors.New("no stamp permission for this store")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrTokenUsed           = errors.New("token already used")
	ErrAlreadyStampedToday = errors.New("already redeemed today")
	ErrUserNotFound        = errors.New("user not found")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrMissingSecret       = errors.New("signing secret is required")
)
