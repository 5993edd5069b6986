// Package drip schedules the followup email sequence for qualified leads
// and runs the dispatch worker that delivers due jobs.
package drip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleandir/leadengine/internal/database"
)

// MinScheduleScore is the intent score a lead must reach before the
// followup sequence is created. It is deliberately higher than the
// high-intent status threshold so only strongly engaged leads get email.
const MinScheduleScore = 30

// ErrNoEmail is returned when scheduling is requested for a lead that has
// not provided an email address.
var ErrNoEmail = errors.New("lead has no email address")

// Offsets of each drip stage relative to scheduling time.
var stageOffsets = []struct {
	scheduleType string
	offset       time.Duration
}{
	{database.ScheduleDay3, 3 * 24 * time.Hour},
	{database.ScheduleDay7, 7 * 24 * time.Hour},
	{database.ScheduleDay14, 14 * 24 * time.Hour},
}

// ScheduleResult reports what ScheduleFollowups did.
type ScheduleResult struct {
	Scheduled bool
	Reason    string
	Jobs      []database.EmailJob
}

// Scheduler creates and cancels followup sequences.
type Scheduler struct {
	store  database.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a drip scheduler.
func NewScheduler(store database.Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: logger.With("component", "drip_scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleFollowups creates the three-stage followup sequence for a
// session's lead. It is idempotent: a lead below the score gate or with an
// existing sequence yields a no-op result, never an error. The lead must
// exist and have an email address.
func (s *Scheduler) ScheduleFollowups(ctx context.Context, sessionID string) (*ScheduleResult, error) {
	lead, err := s.store.GetLeadBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	if lead.Email == "" {
		return nil, fmt.Errorf("lead %d: %w", lead.ID, ErrNoEmail)
	}

	if lead.IntentScore < MinScheduleScore {
		s.logger.InfoContext(ctx, "Lead below followup score gate, not scheduling",
			"lead_id", lead.ID, "intent_score", lead.IntentScore)
		return &ScheduleResult{Reason: "below_threshold"}, nil
	}

	count, err := s.store.CountJobsForLead(ctx, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing jobs: %w", err)
	}
	if count > 0 {
		return &ScheduleResult{Reason: "already_scheduled"}, nil
	}

	now := s.now()
	jobs := make([]database.EmailJob, 0, len(stageOffsets))
	for _, stage := range stageOffsets {
		jobs = append(jobs, database.EmailJob{
			Email:        lead.Email,
			ScheduleType: stage.scheduleType,
			ScheduledFor: now.Add(stage.offset),
			LeadStatus:   lead.Status,
			IntentScore:  lead.IntentScore,
		})
	}

	if err := s.store.CreateFollowupJobs(ctx, lead, jobs); err != nil {
		// Lost the race against a concurrent signup for the same lead.
		if errors.Is(err, database.ErrDuplicate) {
			return &ScheduleResult{Reason: "already_scheduled"}, nil
		}
		return nil, fmt.Errorf("failed to create followup jobs: %w", err)
	}

	s.logger.InfoContext(ctx, "Followup sequence scheduled",
		"lead_id", lead.ID, "email", lead.Email, "intent_score", lead.IntentScore)
	return &ScheduleResult{Scheduled: true, Reason: "scheduled", Jobs: jobs}, nil
}

// CancelFollowups cancels every pending job for the session's lead and
// clears the scheduled flag. Returns the number of jobs cancelled.
func (s *Scheduler) CancelFollowups(ctx context.Context, sessionID string) (int64, error) {
	lead, err := s.store.GetLeadBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load lead: %w", err)
	}

	cancelled, err := s.store.CancelPendingJobs(ctx, lead.ID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}

	lead.FollowupScheduled = false
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return cancelled, fmt.Errorf("failed to clear scheduled flag: %w", err)
	}

	s.logger.InfoContext(ctx, "Followup sequence cancelled",
		"lead_id", lead.ID, "cancelled", cancelled)
	return cancelled, nil
}

// JobsForSession returns the full job list for a session's lead, ordered
// by scheduled time.
func (s *Scheduler) JobsForSession(ctx context.Context, sessionID string) ([]database.EmailJob, error) {
	lead, err := s.store.GetLeadBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	return s.store.GetJobsForLead(ctx, lead.ID)
}
