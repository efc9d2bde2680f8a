package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an automation rule.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// TriggerType determines which comments fire a rule.
type TriggerType string

const (
	// TriggerNewComment fires on every comment in scope.
	TriggerNewComment TriggerType = "new_comment"
	// TriggerKeywordComment fires only when the comment text matches the
	// rule's keyword sets.
	TriggerKeywordComment TriggerType = "keyword_comment"
)

// Limits on user-configurable rule fields.
const (
	MaxDelaySeconds     = 300
	MinDedupWindowHours = 1
	MaxDedupWindowHours = 168
)

var (
	ErrEmptyTemplate    = errors.New("rule message template must not be empty")
	ErrInvalidDelay     = fmt.Errorf("rule delay must be between 0 and %d seconds", MaxDelaySeconds)
	ErrInvalidWindow    = fmt.Errorf("rule dedup window must be between %d and %d hours", MinDedupWindowHours, MaxDedupWindowHours)
	ErrInvalidLimit     = errors.New("rule daily limit must be a positive integer")
	ErrInvalidStatus    = errors.New("rule status must be draft, active, or paused")
	ErrInvalidTrigger   = errors.New("rule trigger type must be new_comment or keyword_comment")
	ErrNotFound         = errors.New("rule not found")
)

// Stats are the cumulative runtime counters for a rule. Updated atomically
// as pipeline outcomes settle; totalTriggered can run ahead of the terminal
// buckets while pipelines are still in flight.
type Stats struct {
	TotalTriggered int64 `json:"total_triggered"`
	TotalSent      int64 `json:"total_sent"`
	TotalFailed    int64 `json:"total_failed"`
	TotalDeduped   int64 `json:"total_deduped"`
}

// Rule is the Go representation of an automation_rules row.
type Rule struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
	// MediaID scopes the rule to one published post. Empty means the rule
	// applies to every media on the channel.
	MediaID string `json:"media_id,omitempty"`
	Name    string `json:"name"`
	Status  Status `json:"status"`

	TriggerType     TriggerType `json:"trigger_type"`
	Keywords        []string    `json:"keywords"`
	ExcludeKeywords []string    `json:"exclude_keywords"`

	Template     string   `json:"template"`
	Attachments  []string `json:"attachments"`
	DelaySeconds int      `json:"delay_seconds"`

	DedupEnabled     bool `json:"dedup_enabled"`
	DedupWindowHours int  `json:"dedup_window_hours"`

	DailyLimit int `json:"daily_limit"`

	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupWindow returns the dedup window as a duration.
func (r *Rule) DedupWindow() time.Duration {
	return time.Duration(r.DedupWindowHours) * time.Hour
}

// Delay returns the configured pre-send delay as a duration.
func (r *Rule) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// Validate rejects malformed rules at save time so the runtime path never
// sees them. A keyword_comment rule with an empty keyword set is valid to
// save; it simply never fires.
func (r *Rule) Validate() error {
	switch r.Status {
	case StatusDraft, StatusActive, StatusPaused:
	default:
		return ErrInvalidStatus
	}
	switch r.TriggerType {
	case TriggerNewComment, TriggerKeywordComment:
	default:
		return ErrInvalidTrigger
	}
	if r.Template == "" {
		return ErrEmptyTemplate
	}
	if r.DelaySeconds < 0 || r.DelaySeconds > MaxDelaySeconds {
		return ErrInvalidDelay
	}
	if r.DedupEnabled && (r.DedupWindowHours < MinDedupWindowHours || r.DedupWindowHours > MaxDedupWindowHours) {
		return ErrInvalidWindow
	}
	if r.DailyLimit <= 0 {
		return ErrInvalidLimit
	}
	return nil
}
