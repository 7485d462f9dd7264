package core

// basePointsPerStamp is what one redemption is worth. Kept behind
// PointsForRedemption so tiered or promotional scoring has a seam.
const basePointsPerStamp = 10

// PointsForRedemption returns the points awarded for one redemption.
func PointsForRedemption() int {
	return basePointsPerStamp
}

// badgeThresholds maps cumulative gold stamp counts to badge
// identifiers, in ascending order.
var badgeThresholds = []struct {
	stamps int
	badge  string
}{
	{1, "first-stamp"},
	{5, "stamps-5"},
	{10, "stamps-10"},
	{20, "stamps-20"},
	{50, "stamps-50"},
	{100, "stamps-100"},
}

// BadgesForStampCount returns every badge whose threshold is at or below
// goldStamps, in ascending threshold order. Monotonic: a higher count
// never loses a badge.
func BadgesForStampCount(goldStamps int) []string {
	var badges []string
	for _, t := range badgeThresholds {
		if goldStamps >= t.stamps {
			badges = append(badges, t.badge)
		}
	}
	return badges
}

// diffBadges returns the members of newBadges not present in held,
// preserving newBadges order.
func diffBadges(newBadges, held []string) []string {
	heldSet := make(map[string]struct{}, len(held))
	for _, b := range held {
		heldSet[b] = struct{}{}
	}
	var earned []string
	for _, b := range newBadges {
		if _, ok := heldSet[b]; !ok {
			earned = append(earned, b)
		}
	}
	return earned
}
