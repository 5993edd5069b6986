package database

import (
	"database/sql"
	"time"
)

// Lead status tiers. Transitions are forward-only: a lead never moves back
// to a lower tier once a threshold has been crossed. StatusConverted is set
// by systems outside this engine but is observed by the dispatch worker.
const (
	StatusInfoOnly   = "info_only"
	StatusInterested = "interested"
	StatusHighIntent = "high_intent"
	StatusConverted  = "converted"
)

// Email schedule types for the drip campaign.
const (
	ScheduleDay3  = "day3"
	ScheduleDay7  = "day7"
	ScheduleDay14 = "day14"
)

// Lead represents a tracked chat session with a cumulative intent score.
type Lead struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	SessionID          string    `db:"session_id"`
	IntentScore        int       `db:"intent_score"`
	Status             string    `db:"status"`
	Email              string    `db:"email"`
	FollowupScheduled  bool      `db:"followup_scheduled"`
	MembershipPrompted bool      `db:"membership_prompted"`
	TotalInteractions  int       `db:"total_interactions"`
	LastInteraction    time.Time `db:"last_interaction"`
}

// LeadInteraction is one append-only entry in a lead's interaction log.
type LeadInteraction struct {
	ID              int64     `db:"id"`
	LeadID          int64     `db:"lead_id"`
	Message         string    `db:"message"`
	MatchedKeywords JSONList  `db:"matched_keywords"`
	CreatedAt       time.Time `db:"created_at"`
}

// ConversationMemory holds the aggregated, deduplicated context for a
// session. Slice fields are sets: merged by union, insertion order kept.
type ConversationMemory struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	SessionID string `db:"session_id"`
	LeadID    int64  `db:"lead_id"`

	Sectors        JSONList `db:"sectors"`
	Technologies   JSONList `db:"technologies"`
	BusinessNeeds  JSONList `db:"business_needs"`
	MainTopics     JSONList `db:"main_topics"`
	QuestionsAsked JSONList `db:"questions_asked"`
	ActionItems    JSONList `db:"action_items"`
	PainPoints     JSONList `db:"pain_points"`

	UserRole string `db:"user_role"`
	Tone     string `db:"tone"`
	Urgency  string `db:"urgency"`

	MessageCount    int       `db:"message_count"`
	EngagementLevel string    `db:"engagement_level"`
	LastActiveAt    time.Time `db:"last_active_at"`
}

// MemoryMessage is one raw message in the append-only conversation log.
type MemoryMessage struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	Sender    string    `db:"sender"`
	Content   string    `db:"content"`
	Sentiment string    `db:"sentiment"`
	Topics    JSONList  `db:"topics"`
	CreatedAt time.Time `db:"created_at"`
}

// EmailJob is one pending or sent email in a lead's drip campaign.
// A job with Sent=true and a non-empty LastError exhausted its retry
// budget; it is otherwise indistinguishable from a delivered job.
type EmailJob struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	LeadID       int64        `db:"lead_id"`
	Email        string       `db:"email"`
	ScheduleType string       `db:"schedule_type"`
	ScheduledFor time.Time    `db:"scheduled_for"`
	Sent         bool         `db:"sent"`
	SentAt       sql.NullTime `db:"sent_at"`
	RetryCount   int          `db:"retry_count"`
	LastError    string       `db:"last_error"`

	// Snapshot of the lead at scheduling time.
	LeadStatus  string `db:"lead_status"`
	IntentScore int    `db:"intent_score"`
}
