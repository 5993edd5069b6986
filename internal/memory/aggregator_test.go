package memory_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/cleandir/leadengine/internal/analyzer"
	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/memory"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, discardLogger())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createLead(t *testing.T, store database.Store, sessionID string) *database.Lead {
	t.Helper()

	lead := &database.Lead{SessionID: sessionID}
	if err := store.CreateLead(context.Background(), lead); err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}
	return lead
}

func TestUpdateRequiresLead(t *testing.T) {
	store := newTestStore(t)
	agg := memory.NewAggregator(store, discardLogger())

	err := agg.Update(context.Background(), "ghost-session", "hello", "user", analyzer.Default())
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("Update without lead = %v, want ErrNotFound", err)
	}
}

func TestUpdateProvisionsAndMerges(t *testing.T) {
	store := newTestStore(t)
	agg := memory.NewAggregator(store, discardLogger())
	ctx := context.Background()
	createLead(t, store, "sess-1")

	first := &analyzer.Analysis{
		Sentiment:     analyzer.SentimentNeutral,
		Topics:        []string{"renewable energy"},
		Sectors:       []string{"renewable energy"},
		BusinessNeeds: []string{"suppliers"},
		Urgency:       "high",
		Role:          "CEO",
	}
	if err := agg.Update(ctx, "sess-1", "do you list solar suppliers?", "user", first); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}

	mem, err := store.GetMemory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if mem.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", mem.MessageCount)
	}
	if mem.EngagementLevel != memory.EngagementLow {
		t.Errorf("EngagementLevel = %q, want low after a single message", mem.EngagementLevel)
	}
	if mem.UserRole != "CEO" || mem.Urgency != "high" {
		t.Errorf("role/urgency = %q/%q, want CEO/high", mem.UserRole, mem.Urgency)
	}
	if len(mem.QuestionsAsked) != 1 {
		t.Errorf("QuestionsAsked = %v, want the question recorded", mem.QuestionsAsked)
	}

	// Overlapping analysis must not duplicate set entries.
	second := &analyzer.Analysis{
		Sentiment:     analyzer.SentimentPositive,
		Sectors:       []string{"renewable energy", "water treatment"},
		BusinessNeeds: []string{"suppliers"},
	}
	if err := agg.Update(ctx, "sess-1", "great, also water treatment", "user", second); err != nil {
		t.Fatalf("second Update failed: %v", err)
	}

	mem, err = store.GetMemory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if mem.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", mem.MessageCount)
	}
	if len(mem.Sectors) != 2 {
		t.Errorf("Sectors = %v, want exactly 2 distinct entries", mem.Sectors)
	}
	if len(mem.BusinessNeeds) != 1 {
		t.Errorf("BusinessNeeds = %v, want no duplicates", mem.BusinessNeeds)
	}
	// Urgency and role persist when the new analysis gives no signal.
	if mem.UserRole != "CEO" || mem.Urgency != "high" {
		t.Errorf("role/urgency lost on update: %q/%q", mem.UserRole, mem.Urgency)
	}
}

func TestEngagementBecomesHigh(t *testing.T) {
	store := newTestStore(t)
	agg := memory.NewAggregator(store, discardLogger())
	ctx := context.Background()
	createLead(t, store, "sess-2")

	positive := &analyzer.Analysis{Sentiment: analyzer.SentimentPositive}
	for i := 0; i < 11; i++ {
		msg := fmt.Sprintf("message %d, this is great", i)
		if err := agg.Update(ctx, "sess-2", msg, "user", positive); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	mem, err := store.GetMemory(ctx, "sess-2")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if mem.MessageCount != 11 {
		t.Errorf("MessageCount = %d, want 11", mem.MessageCount)
	}
	if mem.EngagementLevel != memory.EngagementHigh {
		t.Errorf("EngagementLevel = %q, want high after a long positive conversation", mem.EngagementLevel)
	}
}

func TestSnapshot(t *testing.T) {
	store := newTestStore(t)
	agg := memory.NewAggregator(store, discardLogger())
	ctx := context.Background()
	createLead(t, store, "sess-3")

	analysis := &analyzer.Analysis{
		Sentiment:     analyzer.SentimentPositive,
		Sectors:       []string{"renewable energy", "water treatment", "smart cities", "agriculture"},
		BusinessNeeds: []string{"suppliers", "funding"},
		PainPoints:    []string{"cost", "complexity", "time"},
		Urgency:       "high",
		Role:          "CTO",
	}
	if err := agg.Update(ctx, "sess-3", "looking for suppliers urgently", "user", analysis); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	snap, err := agg.Snapshot(ctx, "sess-3")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(snap.Interests) != 3 {
		t.Errorf("Interests = %v, want top 3 sectors", snap.Interests)
	}
	if len(snap.PainPoints) != 2 {
		t.Errorf("PainPoints = %v, want top 2", snap.PainPoints)
	}
	if snap.Role != "CTO" || snap.Urgency != "high" {
		t.Errorf("role/urgency = %q/%q, want CTO/high", snap.Role, snap.Urgency)
	}
	if len(snap.Recommendations) != 2 {
		t.Errorf("Recommendations = %v, want one per recognized need", snap.Recommendations)
	}
	if len(snap.NextActions) == 0 {
		t.Error("NextActions empty, want at least the urgency-driven action")
	}
	if snap.Tone != "professional" {
		t.Errorf("Tone = %q, want professional default", snap.Tone)
	}
}

func TestSnapshotNotFound(t *testing.T) {
	store := newTestStore(t)
	agg := memory.NewAggregator(store, discardLogger())

	_, err := agg.Snapshot(context.Background(), "no-such-session")
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("Snapshot for unknown session = %v, want ErrNotFound", err)
	}
}
