package drip

import (
	"context"
	"log/slog"
	"time"

	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/mailer"
	"github.com/cleandir/leadengine/internal/memory"
)

// StaleLeadAfter is how long a lead may sit without interaction before
// its pending followups are dropped instead of sent.
const StaleLeadAfter = 30 * 24 * time.Hour

// SentJobRetention is how long delivered jobs are kept before the purge
// pass removes them.
const SentJobRetention = 30 * 24 * time.Hour

// Snapshotter supplies the personalization view used to render an email.
type Snapshotter interface {
	Snapshot(ctx context.Context, sessionID string) (*memory.Snapshot, error)
}

// TickStats summarizes one dispatch pass.
type TickStats struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

// Worker delivers due followup jobs and purges delivered ones.
type Worker struct {
	store     database.Store
	mailer    mailer.Mailer
	snapshots Snapshotter
	logger    *slog.Logger
	sendDelay time.Duration
}

// NewWorker creates a dispatch worker. sendDelay spaces out consecutive
// sends to stay under provider rate limits.
func NewWorker(store database.Store, m mailer.Mailer, snapshots Snapshotter, sendDelay time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		store:     store,
		mailer:    m,
		snapshots: snapshots,
		logger:    logger.With("component", "dispatch_worker"),
		sendDelay: sendDelay,
	}
}

// Tick processes every job due at now, sequentially. Per-job failures are
// recorded against the job's retry budget and never abort the pass. The
// caller supplies now so ticks are reproducible in tests.
func (w *Worker) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	jobs, err := w.store.DueJobs(ctx, now)
	if err != nil {
		return TickStats{}, err
	}

	stats := TickStats{Due: len(jobs)}
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if i > 0 && w.sendDelay > 0 {
			if !sleepCtx(ctx, w.sendDelay) {
				return stats, ctx.Err()
			}
		}
		w.processJob(ctx, &job, now, &stats)
	}

	if stats.Due > 0 {
		w.logger.InfoContext(ctx, "Dispatch pass complete",
			"due", stats.Due, "sent", stats.Sent, "failed", stats.Failed, "skipped", stats.Skipped)
	}
	return stats, nil
}

func (w *Worker) processJob(ctx context.Context, job *database.EmailJob, now time.Time, stats *TickStats) {
	lead, err := w.store.GetLead(ctx, job.LeadID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to load lead for due job",
			"job_id", job.ID, "lead_id", job.LeadID, "error", err)
		stats.Failed++
		return
	}

	// Converted leads and leads gone cold no longer get followups. The job
	// is retired without sending so it never comes due again.
	if lead.Status == database.StatusConverted {
		w.retireJob(ctx, job.ID, now, "lead converted")
		stats.Skipped++
		return
	}
	if now.Sub(lead.LastInteraction) > StaleLeadAfter {
		w.retireJob(ctx, job.ID, now, "lead inactive too long")
		stats.Skipped++
		return
	}

	snap, err := w.snapshots.Snapshot(ctx, lead.SessionID)
	if err != nil {
		// No memory just means no personalization; the template falls back
		// to its generic copy.
		w.logger.WarnContext(ctx, "No personalization snapshot for job",
			"job_id", job.ID, "session_id", lead.SessionID, "error", err)
		snap = nil
	}

	subject, html, err := mailer.RenderFollowup(job.ScheduleType, snap)
	if err != nil {
		w.recordFailure(ctx, job.ID, err, now, stats)
		return
	}

	if err := w.mailer.Send(ctx, mailer.Email{To: job.Email, Subject: subject, HTML: html}); err != nil {
		w.recordFailure(ctx, job.ID, err, now, stats)
		return
	}

	claimed, err := w.store.MarkJobSent(ctx, job.ID, now)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark job as sent after delivery",
			"job_id", job.ID, "error", err)
		stats.Failed++
		return
	}
	if !claimed {
		// Cancelled between the due query and the claim; the email went
		// out but the job is already closed.
		w.logger.WarnContext(ctx, "Job was closed while sending", "job_id", job.ID)
	}

	stats.Sent++
	w.logger.InfoContext(ctx, "Followup email sent",
		"job_id", job.ID, "lead_id", job.LeadID, "schedule_type", job.ScheduleType)
}

func (w *Worker) retireJob(ctx context.Context, jobID int64, now time.Time, reason string) {
	if _, err := w.store.MarkJobSent(ctx, jobID, now); err != nil {
		w.logger.ErrorContext(ctx, "Failed to retire job", "job_id", jobID, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "Followup job skipped", "job_id", jobID, "reason", reason)
}

func (w *Worker) recordFailure(ctx context.Context, jobID int64, sendErr error, now time.Time, stats *TickStats) {
	stats.Failed++
	terminal, err := w.store.RecordJobFailure(ctx, jobID, sendErr.Error(), now)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to record job failure",
			"job_id", jobID, "error", err, "send_error", sendErr)
		return
	}
	w.logger.WarnContext(ctx, "Followup send failed",
		"job_id", jobID, "terminal", terminal, "error", sendErr)
}

// Purge deletes sent jobs older than the retention window.
func (w *Worker) Purge(ctx context.Context, now time.Time) (int64, error) {
	return w.store.PurgeSentJobsBefore(ctx, now.Add(-SentJobRetention))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
