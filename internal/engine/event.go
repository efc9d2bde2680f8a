package engine

import (
	"time"

	"github.com/google/uuid"
)

// CommentEvent is one observed comment on a channel's published media,
// delivered by webhook or by the platform poller.
type CommentEvent struct {
	// EventID is the platform's delivery id, used to drop webhook
	// redeliveries. May be empty for sources that cannot provide one.
	EventID string `json:"event_id,omitempty"`

	ChannelID uuid.UUID `json:"channel_id"`
	MediaID   string    `json:"media_id"`

	CommenterID       string    `json:"commenter_id"`
	CommenterUsername string    `json:"commenter_username"`
	CommentText       string    `json:"comment_text"`
	CommentedAt       time.Time `json:"commented_at"`

	// Post context for template variables.
	PostLink    string `json:"post_link,omitempty"`
	PostCaption string `json:"post_caption,omitempty"`
}
