// Package classifier scores inbound chat messages against static keyword
// buckets to estimate purchase intent. Classification is a pure function;
// applying the resulting delta to a lead is the lead service's job.
package classifier

import "strings"

// Status thresholds on the cumulative intent score. Status is sticky: the
// lead service never downgrades once a threshold has been crossed.
const (
	InterestedThreshold = 3
	HighIntentThreshold = 6
)

// Tier identifies the highest-weight bucket a message matched.
type Tier string

const (
	TierHighIntent Tier = "high_intent"
	TierInterested Tier = "interested"
	TierInfoOnly   Tier = "info_only"
	TierNone       Tier = "none"
)

// bucket is one keyword group with its per-keyword weight. The table is data
// so it can be inspected and swapped in tests without touching match logic.
type bucket struct {
	tier     Tier
	weight   int
	keywords []string
}

var buckets = []bucket{
	{
		tier:   TierHighIntent,
		weight: 3,
		keywords: []string{
			"join", "signup", "register", "price", "cost",
			"membership", "interested", "buy", "purchase",
			"contact", "quote", "demo",
		},
	},
	{
		tier:   TierInterested,
		weight: 2,
		keywords: []string{
			"more info", "learn", "tell me", "how does",
			"what is", "features", "benefits", "details",
		},
	},
	{
		// Zero weight: recorded for audit only.
		tier:   TierInfoOnly,
		weight: 0,
		keywords: []string{
			"just looking", "browsing", "thanks", "ok",
			"got it", "understand",
		},
	},
}

// Result is the outcome of classifying a single message.
type Result struct {
	ScoreDelta int
	Matched    []string
	Tier       Tier
}

// Classify matches the message against every bucket. Matching is
// case-insensitive substring containment; each distinct keyword counts once
// no matter how often it repeats, and a message may hit multiple buckets.
func Classify(message string) Result {
	lower := strings.ToLower(message)

	result := Result{Tier: TierNone}
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			result.ScoreDelta += b.weight
			result.Matched = append(result.Matched, kw)
			if tierRank(b.tier) > tierRank(result.Tier) {
				result.Tier = b.tier
			}
		}
	}
	return result
}

// StatusForScore maps a cumulative intent score to the status tier it
// qualifies for. Callers must keep the current status when it ranks higher.
func StatusForScore(score int) string {
	switch {
	case score >= HighIntentThreshold:
		return "high_intent"
	case score >= InterestedThreshold:
		return "interested"
	default:
		return "info_only"
	}
}

// StatusRank orders status tiers so sticky-status comparisons stay in one
// place. Unknown statuses (e.g. "converted", set outside the engine) rank
// above all classifier tiers and are never overwritten.
func StatusRank(status string) int {
	switch status {
	case "info_only":
		return 0
	case "interested":
		return 1
	case "high_intent":
		return 2
	default:
		return 3
	}
}

func tierRank(t Tier) int {
	switch t {
	case TierHighIntent:
		return 3
	case TierInterested:
		return 2
	case TierInfoOnly:
		return 1
	default:
		return 0
	}
}
