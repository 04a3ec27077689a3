package engine

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	"learnhub-chat/internal/restapi"
	"learnhub-chat/internal/storage"
	apperrors "learnhub-chat/pkg/errors"
)

// tempIDPrefix keeps the optimistic id space disjoint from server ids
const tempIDPrefix = "tmp:"

// Draft is the user-authored content of an outgoing message
type Draft struct {
	Text       string
	Attachment *domain.Attachment
	ReplyToID  string
}

// DirectConversationWith derives the direct conversation id between the
// current user and a peer.
func (s *Session) DirectConversationWith(peerID string) (string, error) {
	return domain.DirectConversationID(s.self.ID, peerID)
}

// OpenConversation makes a conversation active: the previous direct
// conversation's channel is left, the new one joined, and a fresh history
// fetch starts. A fetch still in flight for the previously active
// conversation is canceled so its late response can never overwrite newer
// state.
func (s *Session) OpenConversation(conversationID string) error {
	if conversationID == "" {
		return apperrors.MissingFieldError("conversation_id")
	}

	return s.post(func() {
		prev := s.active
		s.active = conversationID

		// Group channels stay joined while inactive so fan-out keeps
		// arriving; direct channels are left symmetrically.
		if prev != "" && prev != conversationID {
			if _, isGroup := s.groups[prev]; !isGroup {
				if err := s.channel.Leave(prev); err != nil {
					s.log.Debug("leave failed", zap.String("conversation_id", prev), zap.Error(err))
				}
				delete(s.joined, prev)
			}
		}

		if !s.joined[conversationID] {
			s.joined[conversationID] = true
			if err := s.channel.Join(conversationID); err != nil {
				s.log.Warn("join failed", zap.String("conversation_id", conversationID), zap.Error(err))
			}
		}

		s.fetchHistory(conversationID)
	})
}

// fetchHistory starts a cancellable history load. Runs on the loop.
func (s *Session) fetchHistory(conversationID string) {
	if s.historyStop != nil {
		s.historyStop()
	}

	s.historyGen++
	gen := s.historyGen

	ctx, cancel := context.WithCancel(s.runCtx)
	s.historyStop = cancel

	go func() {
		msgs, err := s.backend.History(ctx, conversationID)
		_ = s.post(func() {
			if gen != s.historyGen {
				// A newer conversation was opened meanwhile; this
				// response is stale and must not be applied.
				return
			}
			if err != nil {
				s.log.Warn("history fetch failed",
					zap.String("conversation_id", conversationID),
					zap.Error(err),
				)
				// Prior buffer stays intact.
				s.notify(UpdateHistoryErr, conversationID, err)
				return
			}
			s.timeline(conversationID).replaceHistory(msgs)
			s.notify(UpdateTimeline, conversationID, nil)
		})
	}()
}

// Send appends an optimistic message and posts it to the send service. The
// returned id is the temporary timeline id; the entry is reconciled to the
// authoritative id when the server responds (or when the live echo lands).
// A rejected send leaves the entry visible and marked failed.
func (s *Session) Send(ctx context.Context, conversationID string, draft Draft) (string, error) {
	msg := domain.Message{
		ConversationID: conversationID,
		SenderID:       s.self.ID,
		Text:           draft.Text,
		Attachment:     draft.Attachment,
		ReplyToID:      draft.ReplyToID,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now(),
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}

	tempID := tempIDPrefix + uuid.NewString()

	err := s.post(func() {
		_, msg.IsGroup = s.groups[conversationID]
		msg.ID = tempID

		tl := s.timeline(conversationID)
		tl.insert(msg, true)
		tl.registerSig(contentSignature(msg), tempID, time.Now())

		// Sending is also the end of the current typing burst
		if d, ok := s.typers[conversationID]; ok {
			d.flush()
		}

		s.notify(UpdateTimeline, conversationID, nil)

		go s.deliver(ctx, conversationID, tempID, msg)
	})
	if err != nil {
		return "", err
	}

	return tempID, nil
}

// deliver runs the authoritative send off-loop and posts the result back
func (s *Session) deliver(ctx context.Context, conversationID, tempID string, msg domain.Message) {
	out := msg
	out.ID = "" // server assigns

	auth, err := s.backend.Send(ctx, out)

	_ = s.post(func() {
		tl := s.timeline(conversationID)

		if err != nil {
			s.log.Warn("send failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			tl.markFailed(tempID)
			tl.dropSig(contentSignature(msg))
			s.notify(UpdateSendFailed, conversationID, err)
			return
		}

		tl.reconcile(tempID, auth)
		tl.dropSig(contentSignature(msg))

		// Group sends fan out over the conversation's channel, so
		// membership changes apply to the next message automatically.
		if auth.IsGroup {
			if err := s.channel.SendGroup(conversationID, auth); err != nil {
				s.log.Warn("group fan-out failed",
					zap.String("conversation_id", conversationID),
					zap.Error(err),
				)
			}
		}

		s.notify(UpdateTimeline, conversationID, nil)
	})
}

// SendFile uploads an attachment and sends it as a message through the
// explicit upload pipeline. The progress callback reports 0-100.
func (s *Session) SendFile(ctx context.Context, conversationID, filename string, r io.Reader, size int64, progress func(int)) error {
	if s.uploader == nil {
		return apperrors.InvalidInputError("session has no uploader configured")
	}

	pipeline := storage.NewSendPipeline(s.uploader, func(ctx context.Context, att domain.Attachment) error {
		_, err := s.Send(ctx, conversationID, Draft{Attachment: &att})
		return err
	})

	return pipeline.Run(ctx, filename, r, size, progress)
}

// SendRecording uploads a finished audio clip and sends it
func (s *Session) SendRecording(ctx context.Context, conversationID string, clip *storage.Clip, progress func(int)) error {
	if s.uploader == nil {
		return apperrors.InvalidInputError("session has no uploader configured")
	}

	att, err := s.uploader.UploadClip(ctx, clip, progress)
	if err != nil {
		return err
	}

	_, err = s.Send(ctx, conversationID, Draft{Attachment: &att})
	return err
}

// MarkVisible is driven by the UI's visibility detector once a message has
// been substantially on-screen. It acknowledges the read back to the sender
// exactly once per message per session.
func (s *Session) MarkVisible(conversationID, messageID string) error {
	return s.post(func() {
		tl, ok := s.timelines[conversationID]
		if !ok {
			return
		}
		entry, ok := tl.get(messageID)
		if !ok || entry.IsNotice() || entry.Message.SenderID == s.self.ID {
			return
		}
		if s.ackedReads[messageID] {
			return
		}
		s.ackedReads[messageID] = true

		if err := s.channel.MessageRead(messageID, s.self.ID); err != nil {
			s.log.Warn("read ack failed", zap.String("message_id", messageID), zap.Error(err))
		}
		tl.advanceStatus(messageID, domain.StatusRead)

		// The unread counter follows the read
		ids := s.unreadIDs[conversationID]
		for i, id := range ids {
			if id == messageID {
				s.unreadIDs[conversationID] = append(ids[:i], ids[i+1:]...)
				s.unread.decrement(conversationID)
				s.notify(UpdateUnread, conversationID, nil)
				break
			}
		}

		s.notify(UpdateTimeline, conversationID, nil)
	})
}

// MarkConversationRead zeroes the conversation's unread counter and
// acknowledges every still-unread inbound message in it, whether it arrived
// live or was loaded with history. Without the history walk the server's
// summary would keep counting backlog messages and resurrect the count on
// the next resync. Calling it on an already-read conversation is a no-op.
func (s *Session) MarkConversationRead(conversationID string) error {
	return s.post(func() {
		tl := s.timeline(conversationID)

		advanced := false
		for _, entry := range tl.entries {
			if entry.IsNotice() || entry.Pending || entry.Failed {
				continue
			}
			msg := entry.Message
			if msg.SenderID == s.self.ID || s.ackedReads[msg.ID] {
				continue
			}
			if msg.Status.Rank() >= domain.StatusRead.Rank() {
				continue
			}
			s.ackedReads[msg.ID] = true
			if err := s.channel.MessageRead(msg.ID, s.self.ID); err != nil {
				s.log.Warn("read ack failed", zap.String("message_id", msg.ID), zap.Error(err))
			}
			if tl.advanceStatus(msg.ID, domain.StatusRead) {
				advanced = true
			}
		}

		delete(s.unreadIDs, conversationID)
		s.unread.reset(conversationID)
		if advanced {
			s.notify(UpdateTimeline, conversationID, nil)
		}
		s.notify(UpdateUnread, conversationID, nil)
	})
}

// TypingStarted is called on every local keystroke. At most one "started"
// and one "stopped" signal reach the wire per burst of typing.
func (s *Session) TypingStarted(conversationID string) error {
	return s.post(func() {
		d, ok := s.typers[conversationID]
		if !ok {
			d = newTypingDebouncer(s.quietWindow, s.post,
				func() {
					if err := s.channel.Typing(conversationID, s.self.ID, true); err != nil {
						s.log.Debug("typing signal failed", zap.Error(err))
					}
				},
				func() {
					if err := s.channel.Typing(conversationID, s.self.ID, false); err != nil {
						s.log.Debug("typing signal failed", zap.Error(err))
					}
				},
			)
			s.typers[conversationID] = d
		}
		d.keystroke()
	})
}

// DeleteMessage removes a message everywhere. The local timeline drops it
// immediately; other holders drop it when the deletion event fans out.
func (s *Session) DeleteMessage(conversationID, messageID string) error {
	return s.post(func() {
		if tl, ok := s.timelines[conversationID]; ok {
			tl.remove(messageID)
		}
		if err := s.channel.DeleteMessage(messageID); err != nil {
			s.log.Warn("delete broadcast failed", zap.String("message_id", messageID), zap.Error(err))
		}
		s.notify(UpdateTimeline, conversationID, nil)
	})
}

// CreateGroup creates a group conversation; the current user is always a
// member. The returned id is opaque and server-assigned.
func (s *Session) CreateGroup(ctx context.Context, input restapi.CreateGroupInput) (domain.Conversation, error) {
	if !contains(input.MemberIDs, s.self.ID) {
		input.MemberIDs = append(input.MemberIDs, s.self.ID)
	}

	group, err := s.backend.CreateGroup(ctx, input)
	if err != nil {
		return domain.Conversation{}, err
	}

	postErr := s.post(func() {
		s.groups[group.ID] = group
		s.joined[group.ID] = true
		if err := s.channel.Join(group.ID); err != nil {
			s.log.Warn("group join failed", zap.String("group_id", group.ID), zap.Error(err))
		}
	})
	if postErr != nil {
		return domain.Conversation{}, postErr
	}

	return group, nil
}

// LeaveGroup removes the current user from a group. The channel
// subscription is dropped promptly; remaining members get the departure
// notice via fan-out.
func (s *Session) LeaveGroup(ctx context.Context, groupID string) error {
	if err := s.backend.LeaveGroup(ctx, groupID, s.self.ID); err != nil {
		return err
	}

	return s.post(func() {
		if err := s.channel.Leave(groupID); err != nil {
			s.log.Debug("leave failed", zap.String("group_id", groupID), zap.Error(err))
		}
		delete(s.joined, groupID)
		delete(s.groups, groupID)
		if s.active == groupID {
			s.active = ""
		}
	})
}

// Queries. Each returns a snapshot taken on the consumer loop.

// Timeline returns the current entries for a conversation
func (s *Session) Timeline(conversationID string) []TimelineEntry {
	var out []TimelineEntry
	_ = s.call(func() {
		if tl, ok := s.timelines[conversationID]; ok {
			out = tl.snapshot()
		}
	})
	return out
}

// UnreadCount returns the unread counter for one conversation
func (s *Session) UnreadCount(conversationID string) int {
	var n int
	_ = s.call(func() { n = s.unread.get(conversationID) })
	return n
}

// UnreadCounts returns all non-zero unread counters
func (s *Session) UnreadCounts() map[string]int {
	var out map[string]int
	_ = s.call(func() { out = s.unread.snapshot() })
	return out
}

// Presence returns "online", "offline" or "" when the user is unknown
func (s *Session) Presence(email string) string {
	var status string
	_ = s.call(func() { status = s.presence[email] })
	return status
}

// PeersTyping lists users currently typing in a conversation. Entries
// self-expire a few quiet windows after their last signal in case a peer's
// stop event was lost.
func (s *Session) PeersTyping(conversationID string) []string {
	var out []string
	_ = s.call(func() {
		cutoff := time.Now().Add(-5 * s.quietWindow)
		for userID, at := range s.peerTyping[conversationID] {
			if at.After(cutoff) {
				out = append(out, userID)
			}
		}
	})
	return out
}

// Groups returns the group conversations the user is currently in
func (s *Session) Groups() []domain.Conversation {
	var out []domain.Conversation
	_ = s.call(func() {
		for _, g := range s.groups {
			out = append(out, g)
		}
	})
	return out
}

// ActiveConversation returns the currently open conversation id
func (s *Session) ActiveConversation() string {
	var id string
	_ = s.call(func() { id = s.active })
	return id
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
