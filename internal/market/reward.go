package market

// reputationDelta maps an average verification score to the reputation
// gain. There is no penalty tier: reputation is monotonically
// non-decreasing, low scores simply earn nothing.
func reputationDelta(average int) int {
	switch {
	case average >= 90:
		return 20
	case average >= 80:
		return 10
	case average >= 70:
		return 5
	case average >= 60:
		return 2
	default:
		return 0
	}
}

// clampReputation bounds a reputation score to [0, 1000]. Repeated
// high-score completions saturate at the cap instead of overflowing.
func clampReputation(v int) int {
	if v < reputationMin {
		return reputationMin
	}
	if v > reputationMax {
		return reputationMax
	}
	return v
}

// feeSplit divides a gross reward into the platform fee and the net payout.
// The fee is reward*percent/100 with integer truncation; the remainder
// always goes to the performer, so fee+net == reward exactly.
func feeSplit(reward, feePercent int64) (fee, net int64) {
	fee = reward * feePercent / 100
	net = reward - fee
	return fee, net
}
