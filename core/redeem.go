package core

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/groumap/stampcard/docstore"
)

// Redeem consumes a redemption token on behalf of a staff member and
// awards points, a gold stamp, and any newly crossed badges.
//
// Permission and token checks happen up front; everything touching
// persistent state runs as one store transaction so that the single-use
// guard, the one-stamp-per-day guard, and the corresponding writes stay
// consistent under concurrent attempts. Two racers over the same token
// both read and write the same user document, so the store's conflict
// detection serializes them and the loser re-runs against the committed
// state.
//
// All returned errors are business rejections (sentinels in types.go)
// except docstore.ErrTxnRetriesExhausted and genuine storage failures.
func (s *Service) Redeem(ctx context.Context, staffID, serializedToken, storeID string) (*RedeemResult, error) {
	if !s.gate.Authorize(ctx, staffID, storeID) {
		redemptions.WithLabelValues("unauthorized").Inc()
		return nil, ErrNotAuthorized
	}

	payload, ok := s.codec.Verify(serializedToken)
	if !ok {
		redemptions.WithLabelValues("invalid_token").Inc()
		return nil, ErrInvalidToken
	}
	userID := payload.Subject
	tokenID := payload.TokenID

	var result RedeemResult
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var user UserAccount
		if err := tx.Get(ColUsers, userID, &user); err != nil {
			if errors.Is(err, docstore.ErrNoDocument) {
				return ErrUserNotFound
			}
			return err
		}

		// Single-use check first: a replayed token reports "already
		// used" even when the day guard would also fire.
		spent, err := tx.Query(ColStampHistory, "jti", tokenID, 1)
		if err != nil {
			return err
		}
		if len(spent) > 0 {
			return ErrTokenUsed
		}

		today := dateString(s.now())
		if user.LastStampDate == today {
			return ErrAlreadyStampedToday
		}

		pointsEarned := PointsForRedemption()
		newPoints := user.Points + pointsEarned
		newGoldStamps := user.GoldStamps + 1

		// The stored badge set is always re-derived from the stamp
		// count; only the delta goes back to the caller.
		newBadges := BadgesForStampCount(newGoldStamps)
		earnedBadges := diffBadges(newBadges, user.Badges)

		now := s.now()
		user.Points = newPoints
		user.GoldStamps = newGoldStamps
		user.LastStampDate = today
		user.Badges = newBadges
		user.UpdatedAt = now
		if err := tx.Set(ColUsers, userID, user); err != nil {
			return err
		}

		stampKey := userID + "/" + storeID
		var stamp UserStoreStamp
		switch err := tx.Get(ColUserStamps, stampKey, &stamp); {
		case err == nil:
			stamp.Stamps++
			stamp.LastStampDate = today
			stamp.UpdatedAt = now
		case errors.Is(err, docstore.ErrNoDocument):
			stamp = UserStoreStamp{
				UserID:         userID,
				StoreID:        storeID,
				Stamps:         1,
				FirstStampDate: today,
				LastStampDate:  today,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
		default:
			return err
		}
		if err := tx.Set(ColUserStamps, stampKey, stamp); err != nil {
			return err
		}

		entry := HistoryEntry{
			ID:           uuid.NewString(),
			UserID:       userID,
			StoreID:      storeID,
			StaffID:      staffID,
			Timestamp:    now,
			PointsEarned: pointsEarned,
			TokenID:      tokenID,
		}
		if err := tx.Set(ColStampHistory, entry.ID, entry); err != nil {
			return err
		}

		result = RedeemResult{
			PointsEarned:   pointsEarned,
			NewTotalPoints: newPoints,
			NewGoldStamps:  newGoldStamps,
			EarnedBadges:   earnedBadges,
		}
		return nil
	})
	if err != nil {
		redemptions.WithLabelValues(redeemStatus(err)).Inc()
		return nil, err
	}

	redemptions.WithLabelValues("success").Inc()
	s.logger.Info("redemption complete",
		"user_id", userID,
		"store_id", storeID,
		"staff_id", staffID,
		"points_earned", result.PointsEarned,
		"new_total_points", result.NewTotalPoints,
		"gold_stamps", result.NewGoldStamps,
	)
	return &result, nil
}

func redeemStatus(err error) string {
	switch {
	case errors.Is(err, ErrTokenUsed):
		return "token_used"
	case errors.Is(err, ErrAlreadyStampedToday):
		return "already_stamped"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, docstore.ErrTxnRetriesExhausted):
		return "conflict_exhausted"
	default:
		return "error"
	}
}
