package risk

import "strings"

const maxRecommendations = 3

// Explanation is the default narrative used when the scoring service sent none.
func Explanation(b Bucket) string {
	switch b {
	case Critical:
		return "CRITICAL RISK: Multiple high-risk indicators detected"
	case High:
		return "HIGH RISK: Significant suspicious patterns identified"
	case Medium:
		return "MEDIUM RISK: Some suspicious indicators present"
	default:
		return "Transaction appears legitimate"
	}
}

// Recommendations returns up to three reviewer actions for a transaction in
// bucket b carrying the given risk factors.
func Recommendations(b Bucket, factors []string) []string {
	var recs []string
	switch b {
	case Critical:
		recs = append(recs,
			"Immediate account freeze recommended",
			"Contact account holder for verification",
			"Review all recent transactions from this account",
		)
	case High:
		recs = append(recs,
			"Flag account for enhanced monitoring",
			"Require additional authentication for future transactions",
			"Review transaction history for patterns",
		)
	case Medium:
		recs = append(recs,
			"Monitor account for unusual activity",
			"Consider sending security alert to account holder",
		)
	default:
		recs = append(recs, "Continue standard monitoring procedures")
	}

	if mentions(factors, "device") {
		recs = append(recs, "Verify device authentication")
	}
	if mentions(factors, "time") {
		recs = append(recs, "Check for automated/bot activity")
	}
	if mentions(factors, "amount") {
		recs = append(recs, "Verify transaction purpose with account holder")
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

func mentions(factors []string, word string) bool {
	for _, f := range factors {
		if strings.Contains(strings.ToLower(f), word) {
			return true
		}
	}
	return false
}
