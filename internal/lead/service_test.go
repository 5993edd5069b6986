package lead_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cleandir/leadengine/internal/analyzer"
	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/lead"
	"github.com/cleandir/leadengine/internal/memory"
)

func newTestService(t *testing.T) (*lead.Service, database.Store) {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, logger)
	agg := memory.NewAggregator(store, logger)
	svc := lead.NewService(store, analyzer.NewKeywordAnalyzer(), agg, logger)
	return svc, store
}

func TestRecordMessageCreatesLead(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordMessage(ctx, "sess-1", "hello there", "user")
	if err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	if res.ScoreDelta != 0 {
		t.Errorf("ScoreDelta = %d, want 0 for a neutral message", res.ScoreDelta)
	}
	if res.Lead.Status != database.StatusInfoOnly {
		t.Errorf("Status = %q, want info_only", res.Lead.Status)
	}
	if res.Lead.TotalInteractions != 1 {
		t.Errorf("TotalInteractions = %d, want 1", res.Lead.TotalInteractions)
	}

	// Conversation memory is created as a side effect.
	if _, err := store.GetMemory(ctx, "sess-1"); err != nil {
		t.Errorf("expected memory for session, got %v", err)
	}

	interactions, err := store.GetInteractions(ctx, res.Lead.ID)
	if err != nil {
		t.Fatalf("GetInteractions failed: %v", err)
	}
	if len(interactions) != 1 || interactions[0].Message != "hello there" {
		t.Errorf("interaction log = %+v, want the recorded message", interactions)
	}
}

func TestRecordMessagePromotesAndPromptsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordMessage(ctx, "sess-2", "I want to join and get a price quote", "user")
	if err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	if res.ScoreDelta != 9 {
		t.Errorf("ScoreDelta = %d, want 9 (three high-intent keywords)", res.ScoreDelta)
	}
	if res.Lead.Status != database.StatusHighIntent {
		t.Errorf("Status = %q, want high_intent", res.Lead.Status)
	}
	if !res.MembershipPrompt {
		t.Error("MembershipPrompt = false, want true on first high-intent promotion")
	}

	// The prompt fires exactly once per lead.
	res, err = svc.RecordMessage(ctx, "sess-2", "yes, how do I sign up?", "user")
	if err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}
	if res.MembershipPrompt {
		t.Error("MembershipPrompt = true on second high-intent message, want false")
	}
}

func TestAssistantMessagesDoNotScore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordMessage(ctx, "sess-6", "hi, what can I help with?", "user"); err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	res, err := svc.RecordMessage(ctx, "sess-6", "You can join for a membership price of $99", "assistant")
	if err != nil {
		t.Fatalf("assistant RecordMessage failed: %v", err)
	}
	if res.ScoreDelta != 0 {
		t.Errorf("assistant ScoreDelta = %d, want 0", res.ScoreDelta)
	}

	got, err := store.GetLeadBySession(ctx, "sess-6")
	if err != nil {
		t.Fatalf("GetLeadBySession failed: %v", err)
	}
	if got.IntentScore != 0 {
		t.Errorf("IntentScore = %d, assistant messages must not score", got.IntentScore)
	}
	if got.TotalInteractions != 1 {
		t.Errorf("TotalInteractions = %d, want 1 (user message only)", got.TotalInteractions)
	}

	// The assistant message still lands in conversation memory.
	mem, err := store.GetMemory(ctx, "sess-6")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if mem.MessageCount != 2 {
		t.Errorf("memory MessageCount = %d, want 2", mem.MessageCount)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordMessage(ctx, "sess-3", "hello", "user")
	if err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	// A converted lead stays converted regardless of later messages.
	res.Lead.Status = database.StatusConverted
	if err := store.UpdateLead(ctx, res.Lead); err != nil {
		t.Fatalf("UpdateLead failed: %v", err)
	}

	res, err = svc.RecordMessage(ctx, "sess-3", "what is the price to join?", "user")
	if err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}
	if res.Lead.Status != database.StatusConverted {
		t.Errorf("Status = %q, want converted to stick", res.Lead.Status)
	}
	if res.Lead.IntentScore == 0 {
		t.Error("IntentScore not incremented, scoring must continue after conversion")
	}
}

func TestConcurrentMessagesDoNotLoseScore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordMessage(ctx, "sess-4", "I want to join", "user"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent RecordMessage failed: %v", err)
	}

	got, err := store.GetLeadBySession(ctx, "sess-4")
	if err != nil {
		t.Fatalf("GetLeadBySession failed: %v", err)
	}
	if got.IntentScore != n*3 {
		t.Errorf("IntentScore = %d, want %d (no lost updates)", got.IntentScore, n*3)
	}
	if got.TotalInteractions != n {
		t.Errorf("TotalInteractions = %d, want %d", got.TotalInteractions, n)
	}
}

func TestAttachEmail(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AttachEmail(ctx, "no-session", "a@b.co"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("AttachEmail without lead = %v, want ErrNotFound", err)
	}

	if _, err := svc.RecordMessage(ctx, "sess-5", "hello", "user"); err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	updated, err := svc.AttachEmail(ctx, "sess-5", "lead@example.com")
	if err != nil {
		t.Fatalf("AttachEmail failed: %v", err)
	}
	if updated.Email != "lead@example.com" {
		t.Errorf("Email = %q, want lead@example.com", updated.Email)
	}

	stored, err := store.GetLeadBySession(ctx, "sess-5")
	if err != nil {
		t.Fatalf("GetLeadBySession failed: %v", err)
	}
	if stored.Email != "lead@example.com" {
		t.Errorf("persisted Email = %q, want lead@example.com", stored.Email)
	}
}
