package listing

// LoginQuorum is the fraction of independent login indicators that must agree.
const LoginQuorum = 0.6

// Agreement returns the fraction of true signals, 0 for no signals.
func Agreement(signals []bool) float64 {
	if len(signals) == 0 {
		return 0
	}
	agree := 0
	for _, ok := range signals {
		if ok {
			agree++
		}
	}
	return float64(agree) / float64(len(signals))
}

// QuorumReached never trusts a single indicator on its own.
func QuorumReached(signals []bool, threshold float64) bool {
	if len(signals) < 2 {
		return false
	}
	return Agreement(signals) >= threshold
}
