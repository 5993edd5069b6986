package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// MaxSendAttempts is the retry budget for a single email job. Once the
// counter reaches this cap the job is terminally marked as sent with the
// last transport error recorded.
const MaxSendAttempts = 3

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. creating a second followup batch for the same lead.
var ErrDuplicate = errors.New("record already exists")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetLead retrieves a lead by ID. Returns ErrNotFound if absent.
	GetLead(ctx context.Context, id int64) (*Lead, error)

	// GetLeadBySession retrieves a lead by session ID. Returns ErrNotFound if absent.
	GetLeadBySession(ctx context.Context, sessionID string) (*Lead, error)

	// CreateLead inserts a new lead and sets its generated ID.
	CreateLead(ctx context.Context, lead *Lead) error

	// UpdateLead persists mutable lead fields (score, status, email, flags, counters).
	UpdateLead(ctx context.Context, lead *Lead) error

	// SaveLeadWithInteraction updates the lead and appends an interaction
	// record in a single transaction.
	SaveLeadWithInteraction(ctx context.Context, lead *Lead, interaction *LeadInteraction) error

	// GetInteractions returns a lead's interaction log, oldest first.
	GetInteractions(ctx context.Context, leadID int64) ([]LeadInteraction, error)

	// GetMemory retrieves the conversation memory for a session.
	// Returns ErrNotFound if absent.
	GetMemory(ctx context.Context, sessionID string) (*ConversationMemory, error)

	// SaveMemoryWithMessage upserts the conversation memory and appends a
	// raw message record in a single transaction.
	SaveMemoryWithMessage(ctx context.Context, memory *ConversationMemory, message *MemoryMessage) error

	// GetRecentMemoryMessages returns the most recent raw messages for a
	// session, newest first.
	GetRecentMemoryMessages(ctx context.Context, sessionID string, limit int) ([]MemoryMessage, error)

	// CreateFollowupJobs inserts a batch of email jobs and marks the lead
	// as scheduled in a single transaction. Returns ErrDuplicate if any job
	// for the lead already exists.
	CreateFollowupJobs(ctx context.Context, lead *Lead, jobs []EmailJob) error

	// GetJobsForLead returns all email jobs for a lead ordered by scheduled_for.
	GetJobsForLead(ctx context.Context, leadID int64) ([]EmailJob, error)

	// CountJobsForLead returns the number of email jobs for a lead, sent or not.
	CountJobsForLead(ctx context.Context, leadID int64) (int, error)

	// CancelPendingJobs soft-cancels every unsent job for a lead and
	// returns the number of rows changed.
	CancelPendingJobs(ctx context.Context, leadID int64, now time.Time) (int64, error)

	// DueJobs returns unsent jobs whose scheduled_for is at or before now.
	DueJobs(ctx context.Context, now time.Time) ([]EmailJob, error)

	// MarkJobSent atomically claims a pending job as sent. Returns false
	// when the job was already sent (claimed elsewhere or cancelled).
	MarkJobSent(ctx context.Context, jobID int64, now time.Time) (bool, error)

	// RecordJobFailure increments the job's retry counter; at the retry cap
	// the job is terminally marked sent with the error recorded. Returns
	// true when the job went terminal.
	RecordJobFailure(ctx context.Context, jobID int64, sendErr string, now time.Time) (bool, error)

	// PurgeSentJobsBefore permanently deletes sent jobs whose sent_at is
	// older than the cutoff. Returns the number of rows deleted.
	PurgeSentJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func (s *sqlxStore) GetLead(ctx context.Context, id int64) (*Lead, error) {
	var lead Lead
	query := `SELECT * FROM leads WHERE id = ?`

	err := s.db.GetContext(ctx, &lead, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lead %d: %w", id, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting lead by ID", "lead_id", id, "error", err)
		return nil, fmt.Errorf("failed to get lead %d: %w", id, err)
	}
	return &lead, nil
}

func (s *sqlxStore) GetLeadBySession(ctx context.Context, sessionID string) (*Lead, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id cannot be empty")
	}

	var lead Lead
	query := `SELECT * FROM leads WHERE session_id = ?`

	err := s.db.GetContext(ctx, &lead, query, sessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting lead by session", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to get lead for session %q: %w", sessionID, err)
	}
	return &lead, nil
}

func (s *sqlxStore) CreateLead(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return fmt.Errorf("cannot create nil lead")
	}
	if lead.SessionID == "" {
		return fmt.Errorf("lead must have a non-empty session_id")
	}

	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = StatusInfoOnly
	}
	if lead.LastInteraction.IsZero() {
		lead.LastInteraction = now
	}

	query := `
        INSERT INTO leads (session_id, intent_score, status, email, followup_scheduled,
                           membership_prompted, total_interactions, last_interaction,
                           created_at, updated_at)
        VALUES (:session_id, :intent_score, :status, :email, :followup_scheduled,
                :membership_prompted, :total_interactions, :last_interaction,
                :created_at, :updated_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, lead)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("lead for session %q: %w", lead.SessionID, ErrDuplicate)
		}
		s.logger.ErrorContext(ctx, "Error creating lead", "session_id", lead.SessionID, "error", err)
		return fmt.Errorf("failed to create lead for session %q: %w", lead.SessionID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		lead.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after creating lead",
			"session_id", lead.SessionID, "error", err)
	}

	s.logger.DebugContext(ctx, "Lead created", "session_id", lead.SessionID, "lead_id", lead.ID)
	return nil
}

func (s *sqlxStore) UpdateLead(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return fmt.Errorf("cannot update nil lead")
	}

	lead.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE leads SET
            intent_score = :intent_score,
            status = :status,
            email = :email,
            followup_scheduled = :followup_scheduled,
            membership_prompted = :membership_prompted,
            total_interactions = :total_interactions,
            last_interaction = :last_interaction,
            updated_at = :updated_at
        WHERE id = :id
    `
	result, err := s.db.NamedExecContext(ctx, query, lead)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating lead", "lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to update lead %d: %w", lead.ID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("lead %d: %w", lead.ID, ErrNotFound)
	}
	return nil
}

func (s *sqlxStore) SaveLeadWithInteraction(ctx context.Context, lead *Lead, interaction *LeadInteraction) error {
	if lead == nil || interaction == nil {
		return fmt.Errorf("cannot save nil lead or interaction")
	}

	now := time.Now().UTC()
	lead.UpdatedAt = now
	interaction.LeadID = lead.ID
	interaction.CreatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for lead interaction",
			"lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	leadQuery := `
        UPDATE leads SET
            intent_score = :intent_score,
            status = :status,
            email = :email,
            followup_scheduled = :followup_scheduled,
            membership_prompted = :membership_prompted,
            total_interactions = :total_interactions,
            last_interaction = :last_interaction,
            updated_at = :updated_at
        WHERE id = :id
    `
	if _, err := tx.NamedExecContext(ctx, leadQuery, lead); err != nil {
		s.logger.ErrorContext(ctx, "Error updating lead in interaction transaction",
			"lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to update lead %d: %w", lead.ID, err)
	}

	interactionQuery := `
        INSERT INTO lead_interactions (lead_id, message, matched_keywords, created_at)
        VALUES (:lead_id, :message, :matched_keywords, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, interactionQuery, interaction)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error appending lead interaction",
			"lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to append interaction for lead %d: %w", lead.ID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		interaction.ID = id
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit lead interaction transaction",
			"lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Lead and interaction saved",
		"lead_id", lead.ID, "intent_score", lead.IntentScore, "status", lead.Status)
	return nil
}

func (s *sqlxStore) GetInteractions(ctx context.Context, leadID int64) ([]LeadInteraction, error) {
	var interactions []LeadInteraction
	query := `SELECT * FROM lead_interactions WHERE lead_id = ? ORDER BY id ASC`

	if err := s.db.SelectContext(ctx, &interactions, query, leadID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting interactions", "lead_id", leadID, "error", err)
		return nil, fmt.Errorf("failed to get interactions for lead %d: %w", leadID, err)
	}
	return interactions, nil
}

func (s *sqlxStore) GetMemory(ctx context.Context, sessionID string) (*ConversationMemory, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id cannot be empty")
	}

	var memory ConversationMemory
	query := `SELECT * FROM conversation_memories WHERE session_id = ?`

	err := s.db.GetContext(ctx, &memory, query, sessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("memory for session %q: %w", sessionID, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting conversation memory", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to get memory for session %q: %w", sessionID, err)
	}
	return &memory, nil
}

func (s *sqlxStore) SaveMemoryWithMessage(ctx context.Context, memory *ConversationMemory, message *MemoryMessage) error {
	if memory == nil || message == nil {
		return fmt.Errorf("cannot save nil memory or message")
	}

	now := time.Now().UTC()
	memory.UpdatedAt = now
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	message.SessionID = memory.SessionID
	message.CreatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for memory update",
			"session_id", memory.SessionID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	if memory.ID == 0 {
		insertQuery := `
            INSERT INTO conversation_memories (session_id, lead_id, sectors, technologies,
                business_needs, main_topics, questions_asked, action_items, pain_points,
                user_role, tone, urgency, message_count, engagement_level, last_active_at,
                created_at, updated_at)
            VALUES (:session_id, :lead_id, :sectors, :technologies, :business_needs,
                :main_topics, :questions_asked, :action_items, :pain_points, :user_role,
                :tone, :urgency, :message_count, :engagement_level, :last_active_at,
                :created_at, :updated_at);
        `
		result, err := tx.NamedExecContext(ctx, insertQuery, memory)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("memory for session %q: %w", memory.SessionID, ErrDuplicate)
			}
			s.logger.ErrorContext(ctx, "Error creating conversation memory",
				"session_id", memory.SessionID, "error", err)
			return fmt.Errorf("failed to create memory for session %q: %w", memory.SessionID, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			memory.ID = id
		}
	} else {
		updateQuery := `
            UPDATE conversation_memories SET
                sectors = :sectors,
                technologies = :technologies,
                business_needs = :business_needs,
                main_topics = :main_topics,
                questions_asked = :questions_asked,
                action_items = :action_items,
                pain_points = :pain_points,
                user_role = :user_role,
                tone = :tone,
                urgency = :urgency,
                message_count = :message_count,
                engagement_level = :engagement_level,
                last_active_at = :last_active_at,
                updated_at = :updated_at
            WHERE id = :id
        `
		if _, err := tx.NamedExecContext(ctx, updateQuery, memory); err != nil {
			s.logger.ErrorContext(ctx, "Error updating conversation memory",
				"session_id", memory.SessionID, "error", err)
			return fmt.Errorf("failed to update memory for session %q: %w", memory.SessionID, err)
		}
	}

	messageQuery := `
        INSERT INTO memory_messages (session_id, sender, content, sentiment, topics, created_at)
        VALUES (:session_id, :sender, :content, :sentiment, :topics, :created_at);
    `
	if _, err := tx.NamedExecContext(ctx, messageQuery, message); err != nil {
		s.logger.ErrorContext(ctx, "Error appending raw memory message",
			"session_id", memory.SessionID, "error", err)
		return fmt.Errorf("failed to append raw message for session %q: %w", memory.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit memory transaction",
			"session_id", memory.SessionID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Conversation memory saved",
		"session_id", memory.SessionID, "message_count", memory.MessageCount)
	return nil
}

func (s *sqlxStore) GetRecentMemoryMessages(ctx context.Context, sessionID string, limit int) ([]MemoryMessage, error) {
	if limit <= 0 {
		limit = 3
	}

	var messages []MemoryMessage
	query := `
        SELECT * FROM memory_messages
        WHERE session_id = ?
        ORDER BY id DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, sessionID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent memory messages",
			"session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for session %q: %w", sessionID, err)
	}
	return messages, nil
}

func (s *sqlxStore) CreateFollowupJobs(ctx context.Context, lead *Lead, jobs []EmailJob) error {
	if lead == nil {
		return fmt.Errorf("cannot schedule jobs for nil lead")
	}
	if len(jobs) == 0 {
		return fmt.Errorf("cannot schedule an empty job batch")
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for job batch",
			"lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	jobQuery := `
        INSERT INTO email_jobs (lead_id, email, schedule_type, scheduled_for, sent,
                                retry_count, last_error, lead_status, intent_score,
                                created_at, updated_at)
        VALUES (:lead_id, :email, :schedule_type, :scheduled_for, :sent,
                :retry_count, :last_error, :lead_status, :intent_score,
                :created_at, :updated_at);
    `
	for i := range jobs {
		jobs[i].LeadID = lead.ID
		jobs[i].CreatedAt = now
		jobs[i].UpdatedAt = now

		result, err := tx.NamedExecContext(ctx, jobQuery, &jobs[i])
		if err != nil {
			if isUniqueViolation(err) {
				// Another request already created the batch; the whole
				// transaction rolls back and nothing is half-written.
				return fmt.Errorf("followup jobs for lead %d: %w", lead.ID, ErrDuplicate)
			}
			s.logger.ErrorContext(ctx, "Error inserting email job",
				"lead_id", lead.ID, "schedule_type", jobs[i].ScheduleType, "error", err)
			return fmt.Errorf("failed to insert %s job for lead %d: %w", jobs[i].ScheduleType, lead.ID, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			jobs[i].ID = id
		}
	}

	lead.FollowupScheduled = true
	lead.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET followup_scheduled = 1, updated_at = ? WHERE id = ?`,
		now, lead.ID); err != nil {
		s.logger.ErrorContext(ctx, "Error marking lead as scheduled", "lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to mark lead %d as scheduled: %w", lead.ID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit job batch transaction",
			"lead_id", lead.ID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Followup job batch created", "lead_id", lead.ID, "jobs", len(jobs))
	return nil
}

func (s *sqlxStore) GetJobsForLead(ctx context.Context, leadID int64) ([]EmailJob, error) {
	var jobs []EmailJob
	query := `SELECT * FROM email_jobs WHERE lead_id = ? ORDER BY scheduled_for ASC`

	if err := s.db.SelectContext(ctx, &jobs, query, leadID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting jobs for lead", "lead_id", leadID, "error", err)
		return nil, fmt.Errorf("failed to get jobs for lead %d: %w", leadID, err)
	}
	return jobs, nil
}

func (s *sqlxStore) CountJobsForLead(ctx context.Context, leadID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM email_jobs WHERE lead_id = ?`

	if err := s.db.GetContext(ctx, &count, query, leadID); err != nil {
		s.logger.ErrorContext(ctx, "Error counting jobs for lead", "lead_id", leadID, "error", err)
		return 0, fmt.Errorf("failed to count jobs for lead %d: %w", leadID, err)
	}
	return count, nil
}

func (s *sqlxStore) CancelPendingJobs(ctx context.Context, leadID int64, now time.Time) (int64, error) {
	query := `
        UPDATE email_jobs
        SET sent = 1, sent_at = ?, updated_at = ?
        WHERE lead_id = ? AND sent = 0;
    `
	result, err := s.db.ExecContext(ctx, query, now.UTC(), now.UTC(), leadID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error cancelling pending jobs", "lead_id", leadID, "error", err)
		return 0, fmt.Errorf("failed to cancel pending jobs for lead %d: %w", leadID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count for cancel", "lead_id", leadID, "error", err)
		return 0, nil
	}

	s.logger.InfoContext(ctx, "Cancelled pending followup jobs", "lead_id", leadID, "count", affected)
	return affected, nil
}

func (s *sqlxStore) DueJobs(ctx context.Context, now time.Time) ([]EmailJob, error) {
	var jobs []EmailJob
	query := `
        SELECT * FROM email_jobs
        WHERE scheduled_for <= ? AND sent = 0
        ORDER BY scheduled_for ASC;
    `
	if err := s.db.SelectContext(ctx, &jobs, query, now.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error getting due jobs", "error", err)
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}
	return jobs, nil
}

func (s *sqlxStore) MarkJobSent(ctx context.Context, jobID int64, now time.Time) (bool, error) {
	query := `
        UPDATE email_jobs
        SET sent = 1, sent_at = ?, updated_at = ?
        WHERE id = ? AND sent = 0;
    `
	result, err := s.db.ExecContext(ctx, query, now.UTC(), now.UTC(), jobID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking job as sent", "job_id", jobID, "error", err)
		return false, fmt.Errorf("failed to mark job %d as sent: %w", jobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count for job claim", "job_id", jobID, "error", err)
		return false, nil
	}
	return affected == 1, nil
}

func (s *sqlxStore) RecordJobFailure(ctx context.Context, jobID int64, sendErr string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for job failure", "job_id", jobID, "error", err)
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var retryCount int
	if err := tx.GetContext(ctx, &retryCount,
		`SELECT retry_count FROM email_jobs WHERE id = ?`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		return false, fmt.Errorf("failed to read retry count for job %d: %w", jobID, err)
	}

	retryCount++
	terminal := retryCount >= MaxSendAttempts

	if terminal {
		_, err = tx.ExecContext(ctx, `
            UPDATE email_jobs
            SET retry_count = ?, sent = 1, sent_at = ?, last_error = ?, updated_at = ?
            WHERE id = ?;
        `, retryCount, now.UTC(), sendErr, now.UTC(), jobID)
	} else {
		_, err = tx.ExecContext(ctx, `
            UPDATE email_jobs
            SET retry_count = ?, last_error = ?, updated_at = ?
            WHERE id = ?;
        `, retryCount, sendErr, now.UTC(), jobID)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recording job failure", "job_id", jobID, "error", err)
		return false, fmt.Errorf("failed to record failure for job %d: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit job failure transaction", "job_id", jobID, "error", err)
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	if terminal {
		s.logger.WarnContext(ctx, "Job reached retry cap, marked terminal",
			"job_id", jobID, "retry_count", retryCount, "last_error", sendErr)
	}
	return terminal, nil
}

func (s *sqlxStore) PurgeSentJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM email_jobs WHERE sent = 1 AND sent_at IS NOT NULL AND sent_at < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error purging old sent jobs", "error", err)
		return 0, fmt.Errorf("failed to purge sent jobs: %w", err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Purged old sent jobs", "count", count)
	return count, nil
}
