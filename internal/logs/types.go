package logs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Outcome is the closed set of terminal states for a (event, rule) pipeline
// instance. Queued is the one non-terminal value; a row written as queued is
// later resolved to exactly one of the other five and never changes again.
type Outcome string

const (
	OutcomeSent            Outcome = "sent"
	OutcomeFailed          Outcome = "failed"
	OutcomeQueued          Outcome = "queued"
	OutcomeDeduped         Outcome = "deduped"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeKeywordFiltered Outcome = "keyword_filtered"
)

// Valid reports whether o is a member of the closed outcome set.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSent, OutcomeFailed, OutcomeQueued, OutcomeDeduped,
		OutcomeRateLimited, OutcomeKeywordFiltered:
		return true
	}
	return false
}

// Terminal reports whether o is a final state.
func (o Outcome) Terminal() bool {
	return o.Valid() && o != OutcomeQueued
}

var (
	ErrInvalidOutcome = errors.New("invalid log outcome")
	ErrNotQueued      = errors.New("log row is not in the queued state")
)

// Entry is the Go representation of an automation_logs row: one row per
// inbound comment evaluated against one rule, append-only.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	RuleID    uuid.UUID `json:"rule_id"`
	ChannelID uuid.UUID `json:"channel_id"`

	CommenterID       string    `json:"commenter_id"`
	CommenterUsername string    `json:"commenter_username"`
	CommentText       string    `json:"comment_text"`
	CommentedAt       time.Time `json:"commented_at"`

	Outcome Outcome `json:"outcome"`
	// FailureReason distinguishes transient from permanent causes for
	// failed rows without leaking raw transport internals.
	FailureReason string `json:"failure_reason,omitempty"`
	// ResponseMs is the send-to-acknowledgment latency for sent rows.
	ResponseMs int64 `json:"response_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Query selects log rows for the operator-facing activity view.
type Query struct {
	RuleID   uuid.UUID
	Outcome  Outcome // zero value means no status filter
	Page     int     // 1-based
	PageSize int
}

// Page is one page of log rows plus the unpaginated total.
type Page struct {
	Rows       []Entry `json:"rows"`
	TotalCount int     `json:"total_count"`
}
