package domain

import (
	"sort"
	"strings"

	apperrors "learnhub-chat/pkg/errors"
)

// ConversationKind discriminates direct (1:1) and group conversations
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// DirectIDSeparator joins the two sorted participant ids of a direct
// conversation. It must never appear in a participant id.
const DirectIDSeparator = "--"

// Conversation is a direct or group messaging context. The id is immutable
// once created; group membership may change underneath it.
type Conversation struct {
	ID          string           `json:"id"`
	Kind        ConversationKind `json:"kind"`
	Name        string           `json:"name,omitempty"`
	ImageURL    string           `json:"image_url,omitempty"`
	Description string           `json:"description,omitempty"`
	MemberIDs   []string         `json:"member_ids,omitempty"`
}

// IsGroup reports whether the conversation is a group chat
func (c Conversation) IsGroup() bool {
	return c.Kind == ConversationGroup
}

// HasMember reports whether the given user is currently in the roster
func (c Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectConversationID derives the id of a direct conversation from the two
// participant ids. It is pure and commutative: both sides compute the same
// id independently, without a handshake.
func DirectConversationID(userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", apperrors.InvalidParticipant("participant id must not be empty")
	}

	ids := []string{userA, userB}
	sort.Strings(ids)

	return strings.Join(ids, DirectIDSeparator), nil
}

// SplitDirectConversationID recovers the two participant ids from a direct
// conversation id. Returns false for ids not in the direct id space.
func SplitDirectConversationID(conversationID string) (string, string, bool) {
	parts := strings.SplitN(conversationID, DirectIDSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
