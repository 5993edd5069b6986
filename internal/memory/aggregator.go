// Package memory aggregates per-message analysis into durable conversation
// context and derives the personalization snapshot used to render followup
// emails. Set fields merge by union; the snapshot is always computed from
// current state because it feeds time-delayed rendering.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cleandir/leadengine/internal/analyzer"
	"github.com/cleandir/leadengine/internal/database"
)

// Engagement levels derived from message volume and recent sentiment.
const (
	EngagementLow    = "low"
	EngagementMedium = "medium"
	EngagementHigh   = "high"
)

const recentSentimentWindow = 3

// Aggregator folds message analyses into per-session conversation memory.
type Aggregator struct {
	store  database.Store
	logger *slog.Logger
}

// NewAggregator creates a conversation memory aggregator.
func NewAggregator(store database.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With("component", "memory_aggregator"),
	}
}

// Update merges one message and its analysis into the session's memory.
// The session's lead must already exist; database.ErrNotFound is returned
// otherwise. The memory record itself is provisioned on first use.
func (a *Aggregator) Update(ctx context.Context, sessionID, message, sender string, analysis *analyzer.Analysis) error {
	if analysis == nil {
		analysis = analyzer.Default()
	}

	lead, err := a.store.GetLeadBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("memory update requires a lead: %w", err)
	}

	mem, err := a.store.GetMemory(ctx, sessionID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		mem = newMemory(sessionID, lead.ID)
	case err != nil:
		return fmt.Errorf("failed to load memory: %w", err)
	}

	mem.Sectors = mem.Sectors.Union(analysis.Sectors)
	mem.Technologies = mem.Technologies.Union(analysis.Technologies)
	mem.BusinessNeeds = mem.BusinessNeeds.Union(analysis.BusinessNeeds)
	mem.PainPoints = mem.PainPoints.Union(analysis.PainPoints)

	if sender == "user" {
		mem.MainTopics = mem.MainTopics.Union(analysis.Topics)
		if strings.Contains(message, "?") {
			mem.QuestionsAsked = mem.QuestionsAsked.Union([]string{message})
		}
	}

	if analysis.Urgency != "" {
		mem.Urgency = analysis.Urgency
	}
	if analysis.Role != "" {
		mem.UserRole = analysis.Role
	}

	mem.MessageCount++
	mem.LastActiveAt = time.Now().UTC()
	mem.EngagementLevel = a.recomputeEngagement(ctx, mem, analysis.Sentiment)

	record := &database.MemoryMessage{
		Sender:    sender,
		Content:   message,
		Sentiment: analysis.Sentiment,
		Topics:    database.JSONList(analysis.Topics),
	}
	if err := a.store.SaveMemoryWithMessage(ctx, mem, record); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}

	a.logger.DebugContext(ctx, "Conversation memory updated",
		"session_id", sessionID, "message_count", mem.MessageCount,
		"engagement_level", mem.EngagementLevel)
	return nil
}

// recomputeEngagement applies the engagement rule over the post-append
// message count and the sentiments of the last three messages (the new one
// plus up to two stored ones). The level is left unchanged when neither
// the high nor the low rule fires.
func (a *Aggregator) recomputeEngagement(ctx context.Context, mem *database.ConversationMemory, newSentiment string) string {
	recent, err := a.store.GetRecentMemoryMessages(ctx, mem.SessionID, recentSentimentWindow-1)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to load recent messages for engagement recompute",
			"session_id", mem.SessionID, "error", err)
		return mem.EngagementLevel
	}

	positives := 0
	if newSentiment == analyzer.SentimentPositive {
		positives++
	}
	for _, m := range recent {
		if m.Sentiment == analyzer.SentimentPositive {
			positives++
		}
	}

	switch {
	case mem.MessageCount > 10 && positives >= 2:
		return EngagementHigh
	case mem.MessageCount < 3 || positives == 0:
		return EngagementLow
	default:
		return mem.EngagementLevel
	}
}

func newMemory(sessionID string, leadID int64) *database.ConversationMemory {
	return &database.ConversationMemory{
		SessionID:       sessionID,
		LeadID:          leadID,
		Tone:            "professional",
		Urgency:         "medium",
		EngagementLevel: EngagementMedium,
		LastActiveAt:    time.Now().UTC(),
	}
}
