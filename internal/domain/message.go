package domain

import (
	"strings"
	"time"

	apperrors "learnhub-chat/pkg/errors"
)

// MediaKind classifies an attachment by its MIME family
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Status is the delivery state of a message for its receiving side.
// Transitions only ever move forward: sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses so monotonicity checks are a single comparison
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Attachment references an out-of-band uploaded media object
type Attachment struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Message is a single chat message. CreatedAt is assigned once by the
// authoritative sender timestamp and is the timeline sort key.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Text           string      `json:"text,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ReplyToID      string      `json:"reply_to_id,omitempty"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	IsGroup        bool        `json:"is_group"`
}

// HasContent reports whether the message carries text or an attachment
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || (m.Attachment != nil && m.Attachment.URL != "")
}

// Validate checks the message invariants before it enters a timeline
func (m Message) Validate() error {
	if m.ConversationID == "" {
		return apperrors.MissingFieldError("conversation_id")
	}
	if m.SenderID == "" {
		return apperrors.MissingFieldError("sender_id")
	}
	if !m.HasContent() {
		return apperrors.InvalidInputError("message must carry text or an attachment")
	}
	return nil
}

// Notice is a non-status-bearing system marker inserted into a timeline,
// e.g. "Alice left the group". Distinct from Message: it has no sender
// status lifecycle.
type Notice struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}
