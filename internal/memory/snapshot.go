package memory

import (
	"context"
	"fmt"
)

// Snapshot is the point-in-time personalization view used to render a
// followup email. It is derived from current memory state on every call,
// never cached, because rendering happens days after the conversation.
type Snapshot struct {
	Greeting        string   `json:"greeting"`
	Interests       []string `json:"interests"`
	BusinessNeeds   []string `json:"business_needs"`
	Urgency         string   `json:"urgency"`
	Role            string   `json:"role"`
	PainPoints      []string `json:"pain_points"`
	Recommendations []string `json:"recommendations"`
	NextActions     []string `json:"next_actions"`
	Tone            string   `json:"tone"`
}

// recommendationsByNeed maps an identified business need to the directory
// feature worth highlighting in a followup.
var recommendationsByNeed = map[string]string{
	"suppliers":    "Browse verified suppliers across your sectors of interest",
	"partnerships": "Review partnership-ready companies open to collaboration",
	"funding":      "See which listed companies are actively raising",
	"technology":   "Compare technology providers side by side",
	"networking":   "Request introductions to companies in your focus areas",
}

// Snapshot builds the personalization view for a session.
// Returns database.ErrNotFound (wrapped) when no memory exists.
func (a *Aggregator) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	mem, err := a.store.GetMemory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot unavailable: %w", err)
	}

	snap := &Snapshot{
		Greeting:      "Hello",
		Interests:     firstN(mem.Sectors, 3),
		BusinessNeeds: mem.BusinessNeeds,
		Urgency:       mem.Urgency,
		Role:          mem.UserRole,
		PainPoints:    firstN(mem.PainPoints, 2),
		Tone:          mem.Tone,
	}

	for _, need := range mem.BusinessNeeds {
		if rec, ok := recommendationsByNeed[need]; ok {
			snap.Recommendations = append(snap.Recommendations, rec)
		}
	}

	if mem.Urgency == "high" {
		snap.NextActions = append(snap.NextActions, "Book an intro call this week")
	}
	if mem.EngagementLevel == EngagementHigh {
		snap.NextActions = append(snap.NextActions, "Shortlist the companies that match your needs")
	}
	if len(snap.NextActions) == 0 {
		snap.NextActions = append(snap.NextActions, "Continue exploring the directory")
	}

	return snap, nil
}

func firstN(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
