package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"learnhub-chat/internal/domain"
)

// store is the devserver's in-memory persistence: messages per
// conversation, per-user unread bookkeeping and group rosters. It stands in
// for the history/send collaborators, so everything lives for the process
// only.
type store struct {
	mu       sync.RWMutex
	messages map[string][]domain.Message
	byID     map[string]string // message id -> conversation id
	unread   map[string]map[string]int
	groups   map[string]domain.Conversation
}

func newStore() *store {
	return &store{
		messages: make(map[string][]domain.Message),
		byID:     make(map[string]string),
		unread:   make(map[string]map[string]int),
		groups:   make(map[string]domain.Conversation),
	}
}

// appendMessage assigns the authoritative id and timestamp and stores the
// message at the tail of its conversation.
func (s *store) appendMessage(msg domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	msg.Status = domain.StatusSent

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	s.byID[msg.ID] = msg.ConversationID

	return msg
}

func (s *store) history(conversationID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// setStatus advances a message's status, refusing backward transitions.
// Returns the conversation id and whether anything changed.
func (s *store) setStatus(messageID string, status domain.Status) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID, ok := s.byID[messageID]
	if !ok {
		return "", false
	}

	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			if status.Rank() <= msgs[i].Status.Rank() {
				return conversationID, false
			}
			msgs[i].Status = status
			return conversationID, true
		}
	}
	return "", false
}

// deleteMessage removes a message; deleting twice is a no-op
func (s *store) deleteMessage(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID, ok := s.byID[messageID]
	if !ok {
		return "", false
	}
	delete(s.byID, messageID)

	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			s.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			return conversationID, true
		}
	}
	return "", false
}

func (s *store) incrementUnread(userID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unread[userID] == nil {
		s.unread[userID] = make(map[string]int)
	}
	s.unread[userID][conversationID]++
}

func (s *store) decrementUnread(userID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := s.unread[userID]
	if counts == nil {
		return
	}
	if counts[conversationID] > 0 {
		counts[conversationID]--
	}
	if counts[conversationID] == 0 {
		delete(counts, conversationID)
	}
}

func (s *store) unreadSummary(userID string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.unread[userID]))
	for conversationID, count := range s.unread[userID] {
		out[conversationID] = count
	}
	return out
}

func (s *store) createGroup(name, description, imageURL string, memberIDs []string) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := domain.Conversation{
		ID:          uuid.NewString(),
		Kind:        domain.ConversationGroup,
		Name:        name,
		Description: description,
		ImageURL:    imageURL,
		MemberIDs:   memberIDs,
	}
	s.groups[group.ID] = group
	return group
}

func (s *store) group(groupID string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	return g, ok
}

func (s *store) groupsFor(userID string) []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Conversation
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, g)
		}
	}
	return out
}

// removeMember shrinks a group's roster; the group id never changes
func (s *store) removeMember(groupID, userID string) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok || !g.HasMember(userID) {
		return domain.Conversation{}, false
	}

	members := make([]string, 0, len(g.MemberIDs)-1)
	for _, id := range g.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	g.MemberIDs = members
	s.groups[groupID] = g
	return g, true
}
