package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stampcard",
		Subsystem: "token",
		Name:      "issued_total",
		Help:      "Total redemption tokens minted",
	})

	// redemptions counts redemption attempts by outcome.
	// Labels: status (success, unauthorized, invalid_token, token_used,
	// already_stamped, user_not_found, conflict_exhausted, error)
	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stampcard",
		Subsystem: "redeem",
		Name:      "attempts_total",
		Help:      "Total redemption attempts by outcome",
	}, []string{"status"})
)
