package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
)

// handleEvent dispatches one push-channel event. Runs on the consumer loop.
func (s *Session) handleEvent(ev domain.Event) {
	switch ev.Kind {
	case domain.EventMessage:
		s.onLiveMessage(*ev.Message)
	case domain.EventStatus:
		s.onStatusUpdate(*ev.Status)
	case domain.EventDelete:
		s.onDeletion(*ev.Delete)
	case domain.EventTyping:
		s.onTyping(*ev.Typing)
	case domain.EventPresence:
		s.onPresence(*ev.Presence)
	case domain.EventUserLeft:
		s.onUserLeft(*ev.UserLeft)
	case domain.EventConnected:
		s.resync()
	case domain.EventDisconnected:
		// Presence is rebuilt from scratch on the next connect; stale
		// entries must not survive the gap.
		s.presence = make(map[string]string)
		s.notify(UpdatePresence, "", nil)
	}
}

// onLiveMessage merges a pushed message into its conversation's timeline.
// Duplicate delivery is absorbed by the id-based idempotent merge; the
// sender's own echo reconciles the matching optimistic entry instead of
// duplicating it.
func (s *Session) onLiveMessage(msg domain.Message) {
	tl := s.timeline(msg.ConversationID)

	if msg.SenderID == s.self.ID {
		sig := contentSignature(msg)
		if tempID, ok := tl.takeSigMatch(sig, time.Now(), s.reconcileWindow); ok {
			tl.reconcile(tempID, msg)
			s.notify(UpdateTimeline, msg.ConversationID, nil)
			return
		}
		// Echo of a send already reconciled over REST, or from another
		// device; the merge below dedups either way.
		if tl.insert(msg, false) {
			s.notify(UpdateTimeline, msg.ConversationID, nil)
		}
		return
	}

	if !tl.insert(msg, false) {
		return
	}

	// Inbound from a peer: count it unread and confirm reception
	s.unread.increment(msg.ConversationID)
	s.unreadIDs[msg.ConversationID] = append(s.unreadIDs[msg.ConversationID], msg.ID)

	if !s.ackedDelivs[msg.ID] {
		s.ackedDelivs[msg.ID] = true
		if err := s.channel.MessageDelivered(msg.ID, s.self.ID); err != nil {
			s.log.Warn("delivery ack failed",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	s.notify(UpdateTimeline, msg.ConversationID, nil)
	s.notify(UpdateUnread, msg.ConversationID, nil)
}

// onStatusUpdate advances the local copy of a message. Backward transitions
// are refused: once read, never delivered again.
func (s *Session) onStatusUpdate(update domain.StatusUpdate) {
	tl, ok := s.timelines[update.ConversationID]
	if !ok {
		return
	}
	if tl.advanceStatus(update.MessageID, update.Status) {
		s.notify(UpdateTimeline, update.ConversationID, nil)
	}
}

// onDeletion removes a message from its timeline. Deleting an unknown or
// already-deleted message is a no-op.
func (s *Session) onDeletion(del domain.Deletion) {
	tl, ok := s.timelines[del.ConversationID]
	if !ok {
		return
	}
	if !tl.remove(del.MessageID) {
		return
	}

	// If the deleted message was still counted unread, the counter follows
	ids := s.unreadIDs[del.ConversationID]
	for i, id := range ids {
		if id == del.MessageID {
			s.unreadIDs[del.ConversationID] = append(ids[:i], ids[i+1:]...)
			s.unread.decrement(del.ConversationID)
			s.notify(UpdateUnread, del.ConversationID, nil)
			break
		}
	}

	s.notify(UpdateTimeline, del.ConversationID, nil)
}

func (s *Session) onTyping(sig domain.TypingSignal) {
	if sig.UserID == s.self.ID {
		return
	}

	peers, ok := s.peerTyping[sig.ConversationID]
	if !ok {
		peers = make(map[string]time.Time)
		s.peerTyping[sig.ConversationID] = peers
	}

	if sig.IsTyping {
		peers[sig.UserID] = time.Now()
	} else {
		delete(peers, sig.UserID)
	}

	s.notify(UpdateTyping, sig.ConversationID, nil)
}

func (s *Session) onPresence(update domain.PresenceUpdate) {
	status := "offline"
	if update.Online {
		status = "online"
	}
	s.presence[update.Email] = status
	s.notify(UpdatePresence, "", nil)
}

// onUserLeft records a membership change as a timeline notice and shrinks
// the local roster. The notice carries no status lifecycle.
func (s *Session) onUserLeft(left domain.UserLeft) {
	at := left.At
	if at.IsZero() {
		at = time.Now()
	}

	s.timeline(left.ConversationID).insertNotice(domain.Notice{
		ConversationID: left.ConversationID,
		Text:           fmt.Sprintf("%s left the conversation", left.UserName),
		CreatedAt:      at,
	})

	if group, ok := s.groups[left.ConversationID]; ok {
		members := group.MemberIDs[:0]
		for _, id := range group.MemberIDs {
			if id != left.UserID {
				members = append(members, id)
			}
		}
		group.MemberIDs = members
		s.groups[left.ConversationID] = group
	}

	s.notify(UpdateTimeline, left.ConversationID, nil)
}
