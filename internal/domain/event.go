package domain

import "time"

// EventKind enumerates the closed set of events the push channel can yield.
// The consumer dispatches on this tag rather than on wire-level type names.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventStatus       EventKind = "status"
	EventDelete       EventKind = "delete"
	EventTyping       EventKind = "typing"
	EventPresence     EventKind = "presence"
	EventUserLeft     EventKind = "user_left"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// Event is the tagged variant delivered by the push channel. Exactly the
// payload matching Kind is non-nil; connection lifecycle events carry none.
type Event struct {
	Kind     EventKind
	Message  *Message
	Status   *StatusUpdate
	Delete   *Deletion
	Typing   *TypingSignal
	Presence *PresenceUpdate
	UserLeft *UserLeft
}

// StatusUpdate advances a message's delivery state for its sender's copy
type StatusUpdate struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
	UserID         string `json:"user_id,omitempty"`
}

// Deletion removes a message from every holder's timeline
type Deletion struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// TypingSignal reports a peer starting or stopping typing in a conversation
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresenceUpdate reports a user going online or offline, keyed by email
type PresenceUpdate struct {
	Email  string `json:"email"`
	Online bool   `json:"online"`
}

// UserLeft reports a member leaving a group conversation
type UserLeft struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	At             time.Time `json:"at"`
}
