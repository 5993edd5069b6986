// Package lead implements the lead lifecycle: per-message intent scoring,
// sticky status promotion, interaction logging, and email capture.
package lead

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cleandir/leadengine/internal/analyzer"
	"github.com/cleandir/leadengine/internal/classifier"
	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/memory"
)

// MessageResult reports the outcome of recording one chat message.
type MessageResult struct {
	Lead             *database.Lead
	ScoreDelta       int
	MatchedKeywords  []string
	MembershipPrompt bool
}

// Service records chat messages against leads and keeps their intent
// score, status, and conversation memory current.
type Service struct {
	store    database.Store
	analyzer analyzer.Analyzer
	memory   *memory.Aggregator
	logger   *slog.Logger
	sessions *sessionLocks
}

// NewService creates the lead service.
func NewService(store database.Store, an analyzer.Analyzer, agg *memory.Aggregator, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		analyzer: an,
		memory:   agg,
		logger:   logger.With("component", "lead_service"),
		sessions: newSessionLocks(),
	}
}

// RecordMessage processes one chat message for a session. The lead is
// created on first contact. Messages for the same session are applied
// strictly one at a time so concurrent requests cannot lose score updates.
// Only user messages score; assistant messages just feed the conversation
// memory. An empty sender means "user".
func (s *Service) RecordMessage(ctx context.Context, sessionID, message, sender string) (*MessageResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id cannot be empty")
	}
	if message == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}
	if sender == "" {
		sender = "user"
	}

	unlock := s.sessions.lock(sessionID)
	defer unlock()

	lead, err := s.store.GetLeadBySession(ctx, sessionID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		lead = &database.Lead{SessionID: sessionID}
		if err := s.store.CreateLead(ctx, lead); err != nil {
			return nil, fmt.Errorf("failed to create lead: %w", err)
		}
		s.logger.InfoContext(ctx, "New lead created", "session_id", sessionID, "lead_id", lead.ID)
	case err != nil:
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}

	if sender != "user" {
		s.updateMemory(ctx, sessionID, message, sender)
		return &MessageResult{Lead: lead}, nil
	}

	res := classifier.Classify(message)
	lead.IntentScore += res.ScoreDelta

	// Status never regresses: a lead stays at its highest level even when
	// later messages alone would not reach it.
	candidate := classifier.StatusForScore(lead.IntentScore)
	if classifier.StatusRank(candidate) > classifier.StatusRank(lead.Status) {
		lead.Status = candidate
	}

	lead.TotalInteractions++
	lead.LastInteraction = time.Now().UTC()

	// Prompt for membership exactly once, the first time the lead crosses
	// into interested or better.
	membershipPrompt := false
	if !lead.MembershipPrompted &&
		classifier.StatusRank(lead.Status) >= classifier.StatusRank(database.StatusInterested) {
		lead.MembershipPrompted = true
		membershipPrompt = true
	}

	interaction := &database.LeadInteraction{
		Message:         message,
		MatchedKeywords: database.JSONList(res.Matched),
	}
	if err := s.store.SaveLeadWithInteraction(ctx, lead, interaction); err != nil {
		return nil, fmt.Errorf("failed to save lead interaction: %w", err)
	}

	s.updateMemory(ctx, sessionID, message, sender)

	s.logger.DebugContext(ctx, "Message recorded",
		"session_id", sessionID, "score_delta", res.ScoreDelta,
		"intent_score", lead.IntentScore, "status", lead.Status)

	return &MessageResult{
		Lead:             lead,
		ScoreDelta:       res.ScoreDelta,
		MatchedKeywords:  res.Matched,
		MembershipPrompt: membershipPrompt,
	}, nil
}

// updateMemory analyzes the message and folds it into conversation memory.
// Memory is best effort: a failure here must not reject the chat message.
func (s *Service) updateMemory(ctx context.Context, sessionID, message, sender string) {
	analysis, err := s.analyzer.Analyze(ctx, message)
	if err != nil {
		s.logger.WarnContext(ctx, "Message analysis failed, using defaults",
			"session_id", sessionID, "error", err)
		analysis = analyzer.Default()
	}

	if err := s.memory.Update(ctx, sessionID, message, sender, analysis); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update conversation memory",
			"session_id", sessionID, "error", err)
	}
}

// AttachEmail stores the lead's email address. Returns database.ErrNotFound
// when the session has no lead yet.
func (s *Service) AttachEmail(ctx context.Context, sessionID, email string) (*database.Lead, error) {
	if email == "" {
		return nil, fmt.Errorf("email cannot be empty")
	}

	unlock := s.sessions.lock(sessionID)
	defer unlock()

	lead, err := s.store.GetLeadBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}

	lead.Email = email
	lead.LastInteraction = time.Now().UTC()
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("failed to store email: %w", err)
	}

	s.logger.InfoContext(ctx, "Email attached to lead", "session_id", sessionID, "lead_id", lead.ID)
	return lead, nil
}

// Get returns the lead for a session.
func (s *Service) Get(ctx context.Context, sessionID string) (*database.Lead, error) {
	return s.store.GetLeadBySession(ctx, sessionID)
}

// sessionLocks hands out one mutex per session ID so message handling for
// a session is serialized without blocking other sessions.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (sl *sessionLocks) lock(sessionID string) func() {
	sl.mu.Lock()
	m, ok := sl.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		sl.locks[sessionID] = m
	}
	sl.mu.Unlock()

	m.Lock()
	return m.Unlock
}
