package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cleandir/leadengine/internal/database"
)

type chatMessageRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Message   string `json:"message"    validate:"required"`
	Sender    string `json:"sender"     validate:"omitempty,oneof=user assistant"`
}

type chatMessageResponse struct {
	SessionID        string   `json:"session_id"`
	IntentScore      int      `json:"intent_score"`
	Status           string   `json:"status"`
	ScoreDelta       int      `json:"score_delta"`
	MatchedKeywords  []string `json:"matched_keywords"`
	MembershipPrompt bool     `json:"membership_prompt"`
}

func (h *Handler) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.leads.RecordMessage(r.Context(), req.SessionID, req.Message, req.Sender)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	h.respondJSON(r.Context(), w, http.StatusOK, chatMessageResponse{
		SessionID:        req.SessionID,
		IntentScore:      res.Lead.IntentScore,
		Status:           res.Lead.Status,
		ScoreDelta:       res.ScoreDelta,
		MatchedKeywords:  res.MatchedKeywords,
		MembershipPrompt: res.MembershipPrompt,
	})
}

type emailSignupRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Email     string `json:"email"      validate:"required,email"`
}

type emailSignupResponse struct {
	SessionID   string        `json:"session_id"`
	LeadStatus  string        `json:"lead_status"`
	IntentScore int           `json:"intent_score"`
	Scheduled   bool          `json:"scheduled"`
	Reason      string        `json:"reason"`
	Jobs        []jobResponse `json:"jobs,omitempty"`
}

func (h *Handler) handleEmailSignup(w http.ResponseWriter, r *http.Request) {
	var req emailSignupRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.leads.AttachEmail(r.Context(), req.SessionID, req.Email)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	res, err := h.scheduler.ScheduleFollowups(r.Context(), req.SessionID)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	h.respondJSON(r.Context(), w, http.StatusOK, emailSignupResponse{
		SessionID:   req.SessionID,
		LeadStatus:  updated.Status,
		IntentScore: updated.IntentScore,
		Scheduled:   res.Scheduled,
		Reason:      res.Reason,
		Jobs:        toJobResponses(res.Jobs),
	})
}

type jobResponse struct {
	ScheduleType string     `json:"schedule_type"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Sent         bool       `json:"sent"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	LastError    string     `json:"last_error,omitempty"`
}

func toJobResponses(jobs []database.EmailJob) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse{
			ScheduleType: j.ScheduleType,
			ScheduledFor: j.ScheduledFor,
			Sent:         j.Sent,
			SentAt:       nullTimePtr(j.SentAt),
			RetryCount:   j.RetryCount,
			LastError:    j.LastError,
		})
	}
	return out
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func (h *Handler) handleEmailSchedule(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	jobs, err := h.scheduler.JobsForSession(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	h.respondJSON(r.Context(), w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"jobs":       toJobResponses(jobs),
	})
}

func (h *Handler) handleCancelEmails(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	cancelled, err := h.scheduler.CancelFollowups(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	h.respondJSON(r.Context(), w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"cancelled":  cancelled,
	})
}

func (h *Handler) handlePersonalization(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := h.snapshots.Snapshot(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	h.respondJSON(r.Context(), w, http.StatusOK, snap)
}
