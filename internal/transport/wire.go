package transport

import (
	"time"

	"learnhub-chat/internal/domain"
)

// Frame type names as they appear on the wire. Outbound types are sent by
// the client; inbound types arrive from the server.
const (
	// Outbound
	FrameJoin             = "join"
	FrameLeave            = "leave"
	FrameTyping           = "typing"
	FrameMessageRead      = "message_read"
	FrameMessageDelivered = "message_delivered"
	FrameDeleteMessage    = "delete_message"
	FrameGroupMessage     = "group_message"
	FrameAnnounce         = "announce"

	// Inbound
	FrameMessage        = "message"
	FrameMessageStatus  = "message_status"
	FrameMessageDeleted = "message_deleted"
	FrameUserStatus     = "user_status"
	FrameUserLeft       = "user_left"
)

// Frame is the single wire envelope for push-channel traffic. Only the
// fields relevant to Type are populated.
type Frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	GroupID        string          `json:"group_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	UserName       string          `json:"user_name,omitempty"`
	Email          string          `json:"email,omitempty"`
	Status         string          `json:"status,omitempty"`
	IsTyping       bool            `json:"is_typing,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
}

// decodeFrame maps an inbound wire frame onto the closed event set. Unknown
// frame types yield ok=false and are skipped, which keeps older clients
// tolerant of newer servers.
func decodeFrame(f Frame) (domain.Event, bool) {
	switch f.Type {
	case FrameMessage:
		if f.Message == nil {
			return domain.Event{}, false
		}
		return domain.Event{Kind: domain.EventMessage, Message: f.Message}, true

	case FrameMessageStatus:
		return domain.Event{Kind: domain.EventStatus, Status: &domain.StatusUpdate{
			MessageID:      f.MessageID,
			ConversationID: f.ConversationID,
			Status:         domain.Status(f.Status),
			UserID:         f.UserID,
		}}, true

	case FrameMessageDeleted:
		return domain.Event{Kind: domain.EventDelete, Delete: &domain.Deletion{
			MessageID:      f.MessageID,
			ConversationID: f.ConversationID,
		}}, true

	case FrameTyping:
		return domain.Event{Kind: domain.EventTyping, Typing: &domain.TypingSignal{
			ConversationID: f.ConversationID,
			UserID:         f.UserID,
			IsTyping:       f.IsTyping,
		}}, true

	case FrameUserStatus:
		return domain.Event{Kind: domain.EventPresence, Presence: &domain.PresenceUpdate{
			Email:  f.Email,
			Online: f.Status == "online",
		}}, true

	case FrameUserLeft:
		return domain.Event{Kind: domain.EventUserLeft, UserLeft: &domain.UserLeft{
			ConversationID: f.ConversationID,
			UserID:         f.UserID,
			UserName:       f.UserName,
			At:             f.Timestamp,
		}}, true
	}

	return domain.Event{}, false
}
