package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"learnhub-chat/internal/domain"
	"learnhub-chat/internal/identity"
	"learnhub-chat/internal/restapi"
)

// Mocks
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) UnreadSummary(ctx context.Context, userID string) (map[string]int, error) {
	args := m.Called(ctx, userID)
	if summary := args.Get(0); summary != nil {
		return summary.(map[string]int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) GroupsJoined(ctx context.Context, userID string) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if groups := args.Get(0); groups != nil {
		return groups.([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Send(ctx context.Context, msg domain.Message) (domain.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockBackend) CreateGroup(ctx context.Context, input restapi.CreateGroupInput) (domain.Conversation, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(domain.Conversation), args.Error(1)
}

func (m *MockBackend) LeaveGroup(ctx context.Context, groupID, userID string) error {
	args := m.Called(ctx, groupID, userID)
	return args.Error(0)
}

type MockChannel struct {
	mock.Mock
	events chan domain.Event

	// atomic call counters safe to poll from the test goroutine
	typingCalls    int32
	sendGroupCalls int32
}

func newMockChannel() *MockChannel {
	return &MockChannel{events: make(chan domain.Event, 64)}
}

func (m *MockChannel) Events() <-chan domain.Event { return m.events }
func (m *MockChannel) Connected() bool             { return true }
func (m *MockChannel) Close() error                { return nil }

// emit injects a push-channel event as if it came off the wire
func (m *MockChannel) emit(ev domain.Event) { m.events <- ev }

func (m *MockChannel) Join(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

func (m *MockChannel) Leave(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

func (m *MockChannel) Typing(conversationID, userID string, isTyping bool) error {
	atomic.AddInt32(&m.typingCalls, 1)
	args := m.Called(conversationID, userID, isTyping)
	return args.Error(0)
}

func (m *MockChannel) MessageDelivered(messageID, userID string) error {
	args := m.Called(messageID, userID)
	return args.Error(0)
}

func (m *MockChannel) MessageRead(messageID, readerID string) error {
	args := m.Called(messageID, readerID)
	return args.Error(0)
}

func (m *MockChannel) DeleteMessage(messageID string) error {
	args := m.Called(messageID)
	return args.Error(0)
}

func (m *MockChannel) SendGroup(groupID string, msg domain.Message) error {
	atomic.AddInt32(&m.sendGroupCalls, 1)
	args := m.Called(groupID, msg)
	return args.Error(0)
}

func (m *MockChannel) Announce(status string) error {
	args := m.Called(status)
	return args.Error(0)
}

func newTestSession(t *testing.T) (*Session, *MockBackend, *MockChannel) {
	t.Helper()

	backend := new(MockBackend)
	channel := newMockChannel()

	// Every session start runs the resynchronization path
	backend.On("UnreadSummary", mock.Anything, "user-a").Return(map[string]int{}, nil)
	backend.On("GroupsJoined", mock.Anything, "user-a").Return([]domain.Conversation(nil), nil)
	channel.On("Announce", "online").Return(nil)
	channel.On("Announce", "offline").Return(nil)
	channel.On("Join", mock.Anything).Return(nil)
	channel.On("Leave", mock.Anything).Return(nil)
	channel.On("MessageDelivered", mock.Anything, mock.Anything).Return(nil)
	channel.On("MessageRead", mock.Anything, mock.Anything).Return(nil)

	s, err := New(Options{
		Identity:          identity.Static(domain.Participant{ID: "user-a", Email: "alice@example.com", DisplayName: "Alice"}),
		Backend:           backend,
		Channel:           channel,
		TypingQuietWindow: 50 * time.Millisecond,
		ReconcileWindow:   time.Second,
	})
	assert.NoError(t, err)
	assert.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Close() })

	return s, backend, channel
}

func awaitUpdate(t *testing.T, s *Session, kind UpdateKind) Update {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case u := <-s.Updates():
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s update", kind)
			return Update{}
		}
	}
}

func drainUpdates(s *Session) {
	for {
		select {
		case <-s.Updates():
		default:
			return
		}
	}
}

func peerMessage(id, conversationID, text string) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "user-b",
		Text:           text,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now(),
	}
}

func TestPeerMessageArrival(t *testing.T) {
	s, _, channel := newTestSession(t)

	msg := peerMessage("m1", "a--b", "hello")

	// Execute: the same message arrives twice (reconnect replay)
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &msg})
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &msg})

	// Assert
	assert.Eventually(t, func() bool {
		return len(s.Timeline("a--b")) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.UnreadCount("a--b"))
	channel.AssertNumberOfCalls(t, "MessageDelivered", 1)
	channel.AssertCalled(t, "MessageDelivered", "m1", "user-a")
}

func TestStatusAdvancesForwardOnly(t *testing.T) {
	s, _, channel := newTestSession(t)

	// A message this user sent earlier, echoed from another device
	own := domain.Message{
		ID: "m1", ConversationID: "a--b", SenderID: "user-a",
		Text: "hi", Status: domain.StatusSent, CreatedAt: time.Now(),
	}
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &own})

	channel.emit(domain.Event{Kind: domain.EventStatus, Status: &domain.StatusUpdate{
		MessageID: "m1", ConversationID: "a--b", Status: domain.StatusRead, UserID: "user-b",
	}})
	// A late delivered update must not demote the read message
	channel.emit(domain.Event{Kind: domain.EventStatus, Status: &domain.StatusUpdate{
		MessageID: "m1", ConversationID: "a--b", Status: domain.StatusDelivered, UserID: "user-b",
	}})

	assert.Eventually(t, func() bool {
		entries := s.Timeline("a--b")
		return len(entries) == 1 && entries[0].Message.Status == domain.StatusRead
	}, time.Second, 10*time.Millisecond)

	// Give the late update a chance to (wrongly) land
	time.Sleep(50 * time.Millisecond)
	entries := s.Timeline("a--b")
	assert.Equal(t, domain.StatusRead, entries[0].Message.Status)
}

func TestMarkVisibleAcksOnce(t *testing.T) {
	s, _, channel := newTestSession(t)

	m1 := peerMessage("m1", "a--b", "one")
	m2 := peerMessage("m2", "a--b", "two")
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &m1})
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &m2})

	assert.Eventually(t, func() bool { return s.UnreadCount("a--b") == 2 }, time.Second, 10*time.Millisecond)

	// Execute: the same message becomes visible twice
	assert.NoError(t, s.MarkVisible("a--b", "m1"))
	assert.NoError(t, s.MarkVisible("a--b", "m1"))

	assert.Eventually(t, func() bool { return s.UnreadCount("a--b") == 1 }, time.Second, 10*time.Millisecond)

	channel.AssertNumberOfCalls(t, "MessageRead", 1)
	channel.AssertCalled(t, "MessageRead", "m1", "user-a")

	entries := s.Timeline("a--b")
	for _, e := range entries {
		if e.Message.ID == "m1" {
			assert.Equal(t, domain.StatusRead, e.Message.Status)
		}
	}
}

func TestMarkConversationRead(t *testing.T) {
	s, _, channel := newTestSession(t)

	m1 := peerMessage("m1", "a--b", "one")
	m2 := peerMessage("m2", "a--b", "two")
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &m1})
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &m2})

	assert.Eventually(t, func() bool { return s.UnreadCount("a--b") == 2 }, time.Second, 10*time.Millisecond)

	assert.NoError(t, s.MarkConversationRead("a--b"))

	assert.Eventually(t, func() bool { return s.UnreadCount("a--b") == 0 }, time.Second, 10*time.Millisecond)
	channel.AssertNumberOfCalls(t, "MessageRead", 2)

	// Reading an already-read conversation is a no-op
	assert.NoError(t, s.MarkConversationRead("a--b"))
	time.Sleep(20 * time.Millisecond)
	channel.AssertNumberOfCalls(t, "MessageRead", 2)
}

func TestMarkConversationReadAcksHistory(t *testing.T) {
	s, backend, channel := newTestSession(t)

	hist := []domain.Message{
		peerMessage("h1", "a--b", "while you were away"),
		peerMessage("h2", "a--b", "still there?"),
	}
	backend.On("History", mock.Anything, "a--b").Return(hist, nil)

	assert.NoError(t, s.OpenConversation("a--b"))
	assert.Eventually(t, func() bool { return len(s.Timeline("a--b")) == 2 }, time.Second, 10*time.Millisecond)
	drainUpdates(s)

	// Execute
	assert.NoError(t, s.MarkConversationRead("a--b"))

	// Assert: history-loaded messages are acked like live ones, and the
	// status change surfaces as a timeline update
	awaitUpdate(t, s, UpdateTimeline)
	for _, e := range s.Timeline("a--b") {
		assert.Equal(t, domain.StatusRead, e.Message.Status)
	}
	channel.AssertNumberOfCalls(t, "MessageRead", 2)
	channel.AssertCalled(t, "MessageRead", "h1", "user-a")
	channel.AssertCalled(t, "MessageRead", "h2", "user-a")

	// A second read pass acks nothing new
	assert.NoError(t, s.MarkConversationRead("a--b"))
	time.Sleep(20 * time.Millisecond)
	channel.AssertNumberOfCalls(t, "MessageRead", 2)
}

func TestOptimisticSendReconciles(t *testing.T) {
	s, backend, channel := newTestSession(t)

	auth := domain.Message{
		ID: "srv-1", ConversationID: "a--b", SenderID: "user-a",
		Text: "hello", Status: domain.StatusSent, CreatedAt: time.Now(),
	}

	// The REST response is slow; the live echo lands first
	backend.On("Send", mock.Anything, mock.Anything).After(100*time.Millisecond).Return(auth, nil)

	tempID, err := s.Send(context.Background(), "a--b", Draft{Text: "hello"})
	assert.NoError(t, err)
	assert.Contains(t, tempID, "tmp:")

	// The optimistic entry shows up immediately
	assert.Eventually(t, func() bool {
		entries := s.Timeline("a--b")
		return len(entries) == 1 && entries[0].Pending
	}, time.Second, 10*time.Millisecond)

	echo := auth
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &echo})

	// Both the echo and the REST response resolve; exactly one entry wins
	assert.Eventually(t, func() bool {
		entries := s.Timeline("a--b")
		return len(entries) == 1 && entries[0].Message.ID == "srv-1" && !entries[0].Pending
	}, time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Len(t, s.Timeline("a--b"), 1)
}

func TestSendFailureStaysVisible(t *testing.T) {
	s, backend, _ := newTestSession(t)

	backend.On("Send", mock.Anything, mock.Anything).Return(domain.Message{}, assert.AnError)

	_, err := s.Send(context.Background(), "a--b", Draft{Text: "doomed"})
	assert.NoError(t, err)

	update := awaitUpdate(t, s, UpdateSendFailed)
	assert.Equal(t, "a--b", update.ConversationID)
	assert.Error(t, update.Err)

	entries := s.Timeline("a--b")
	assert.Len(t, entries, 1)
	assert.True(t, entries[0].Failed)
	assert.False(t, entries[0].Pending)
}

func TestSendRejectsEmptyDraft(t *testing.T) {
	s, _, _ := newTestSession(t)

	_, err := s.Send(context.Background(), "a--b", Draft{Text: "   "})
	assert.Error(t, err)
	assert.Empty(t, s.Timeline("a--b"))
}

func TestTypingDebounce(t *testing.T) {
	s, _, channel := newTestSession(t)

	// Expectations: one started and one stopped signal for the whole burst
	channel.On("Typing", "a--b", "user-a", true).Return(nil).Once()
	channel.On("Typing", "a--b", "user-a", false).Return(nil).Once()

	// Execute: a burst of keystrokes inside the quiet window
	for i := 0; i < 5; i++ {
		assert.NoError(t, s.TypingStarted("a--b"))
		time.Sleep(5 * time.Millisecond)
	}

	// Assert: the stop fires one quiet window after the last keystroke
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&channel.typingCalls) == 2
	}, time.Second, 10*time.Millisecond)

	channel.AssertExpectations(t)
}

func TestPeerTypingExpires(t *testing.T) {
	s, _, channel := newTestSession(t)

	channel.emit(domain.Event{Kind: domain.EventTyping, Typing: &domain.TypingSignal{
		ConversationID: "a--b", UserID: "user-b", IsTyping: true,
	}})

	assert.Eventually(t, func() bool {
		return len(s.PeersTyping("a--b")) == 1
	}, time.Second, 10*time.Millisecond)

	channel.emit(domain.Event{Kind: domain.EventTyping, Typing: &domain.TypingSignal{
		ConversationID: "a--b", UserID: "user-b", IsTyping: false,
	}})

	assert.Eventually(t, func() bool {
		return len(s.PeersTyping("a--b")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStaleHistoryGuard(t *testing.T) {
	s, backend, _ := newTestSession(t)

	slow := []domain.Message{peerMessage("old-1", "conv-a", "stale")}
	fast := []domain.Message{peerMessage("new-1", "conv-b", "fresh")}

	backend.On("History", mock.Anything, "conv-a").After(100*time.Millisecond).Return(slow, nil)
	backend.On("History", mock.Anything, "conv-b").Return(fast, nil)

	// Execute: switch conversations before the first fetch lands
	assert.NoError(t, s.OpenConversation("conv-a"))
	assert.NoError(t, s.OpenConversation("conv-b"))

	assert.Eventually(t, func() bool {
		entries := s.Timeline("conv-b")
		return len(entries) == 1 && entries[0].Message.ID == "new-1"
	}, time.Second, 10*time.Millisecond)

	// The stale response must not be applied after it finally arrives
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, s.Timeline("conv-a"))
	assert.Equal(t, "conv-b", s.ActiveConversation())
}

func TestHistoryFailureKeepsBuffer(t *testing.T) {
	s, backend, channel := newTestSession(t)

	m1 := peerMessage("m1", "a--b", "already here")
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &m1})

	assert.Eventually(t, func() bool {
		return len(s.Timeline("a--b")) == 1
	}, time.Second, 10*time.Millisecond)

	backend.On("History", mock.Anything, "a--b").Return(nil, assert.AnError)

	assert.NoError(t, s.OpenConversation("a--b"))

	update := awaitUpdate(t, s, UpdateHistoryErr)
	assert.Equal(t, "a--b", update.ConversationID)

	// The prior buffer survives the failed refresh
	entries := s.Timeline("a--b")
	assert.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestDeletionFollowsUnread(t *testing.T) {
	s, _, channel := newTestSession(t)

	m1 := peerMessage("m1", "a--b", "soon gone")
	channel.emit(domain.Event{Kind: domain.EventMessage, Message: &m1})

	assert.Eventually(t, func() bool { return s.UnreadCount("a--b") == 1 }, time.Second, 10*time.Millisecond)

	channel.emit(domain.Event{Kind: domain.EventDelete, Delete: &domain.Deletion{
		MessageID: "m1", ConversationID: "a--b",
	}})

	assert.Eventually(t, func() bool {
		return len(s.Timeline("a--b")) == 0 && s.UnreadCount("a--b") == 0
	}, time.Second, 10*time.Millisecond)

	// Deleting it again is a no-op
	channel.emit(domain.Event{Kind: domain.EventDelete, Delete: &domain.Deletion{
		MessageID: "m1", ConversationID: "a--b",
	}})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, s.UnreadCount("a--b"))
}

func TestPresenceClearedOnDisconnect(t *testing.T) {
	s, _, channel := newTestSession(t)

	channel.emit(domain.Event{Kind: domain.EventPresence, Presence: &domain.PresenceUpdate{
		Email: "bob@example.com", Online: true,
	}})

	assert.Eventually(t, func() bool {
		return s.Presence("bob@example.com") == "online"
	}, time.Second, 10*time.Millisecond)

	// Presence does not survive the gap; it is rebuilt on reconnect
	channel.emit(domain.Event{Kind: domain.EventDisconnected})

	assert.Eventually(t, func() bool {
		return s.Presence("bob@example.com") == ""
	}, time.Second, 10*time.Millisecond)
}

func TestGroupSendFansOut(t *testing.T) {
	s, backend, channel := newTestSession(t)

	group := domain.Conversation{
		ID: "g1", Kind: domain.ConversationGroup, Name: "Go course",
		MemberIDs: []string{"user-a", "user-b"},
	}
	backend.On("CreateGroup", mock.Anything, mock.Anything).Return(group, nil)

	created, err := s.CreateGroup(context.Background(), restapi.CreateGroupInput{
		Name: "Go course", MemberIDs: []string{"user-b"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "g1", created.ID)

	auth := domain.Message{
		ID: "srv-1", ConversationID: "g1", SenderID: "user-a",
		Text: "welcome", Status: domain.StatusSent, CreatedAt: time.Now(), IsGroup: true,
	}
	backend.On("Send", mock.Anything, mock.Anything).Return(auth, nil)
	channel.On("SendGroup", "g1", mock.Anything).Return(nil).Once()

	_, err = s.Send(context.Background(), "g1", Draft{Text: "welcome"})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&channel.sendGroupCalls) == 1
	}, time.Second, 10*time.Millisecond)

	channel.AssertExpectations(t)
}

func TestGroupStaysJoinedWhileInactive(t *testing.T) {
	s, backend, channel := newTestSession(t)

	group := domain.Conversation{
		ID: "g1", Kind: domain.ConversationGroup, MemberIDs: []string{"user-a", "user-b"},
	}
	backend.On("CreateGroup", mock.Anything, mock.Anything).Return(group, nil)
	backend.On("History", mock.Anything, mock.Anything).Return([]domain.Message(nil), nil)

	_, err := s.CreateGroup(context.Background(), restapi.CreateGroupInput{Name: "g", MemberIDs: []string{"user-b"}})
	assert.NoError(t, err)

	// Switching away from the group must not leave its channel, or fan-out
	// while inactive would be lost
	assert.NoError(t, s.OpenConversation("g1"))
	assert.NoError(t, s.OpenConversation("a--b"))

	assert.Eventually(t, func() bool {
		return s.ActiveConversation() == "a--b"
	}, time.Second, 10*time.Millisecond)

	channel.AssertNotCalled(t, "Leave", "g1")
}

func TestUserLeftInsertsNotice(t *testing.T) {
	s, _, channel := newTestSession(t)

	channel.emit(domain.Event{Kind: domain.EventUserLeft, UserLeft: &domain.UserLeft{
		ConversationID: "g1", UserID: "user-b", UserName: "Bob", At: time.Now(),
	}})

	assert.Eventually(t, func() bool {
		entries := s.Timeline("g1")
		return len(entries) == 1 && entries[0].IsNotice()
	}, time.Second, 10*time.Millisecond)

	entries := s.Timeline("g1")
	assert.Equal(t, "Bob left the conversation", entries[0].Notice.Text)
}

func TestDirectConversationWith(t *testing.T) {
	s, _, _ := newTestSession(t)

	id, err := s.DirectConversationWith("user-b")
	assert.NoError(t, err)
	assert.Equal(t, "user-a--user-b", id)

	_, err = s.DirectConversationWith("")
	assert.Error(t, err)
}

func TestUnreadSummaryRebuiltOnStart(t *testing.T) {
	backend := new(MockBackend)
	channel := newMockChannel()

	backend.On("UnreadSummary", mock.Anything, "user-a").Return(map[string]int{"a--b": 4}, nil)
	backend.On("GroupsJoined", mock.Anything, "user-a").Return([]domain.Conversation(nil), nil)
	channel.On("Announce", mock.Anything).Return(nil)

	s, err := New(Options{
		Identity: identity.Static(domain.Participant{ID: "user-a"}),
		Backend:  backend,
		Channel:  channel,
	})
	assert.NoError(t, err)
	assert.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Close() })

	assert.Eventually(t, func() bool {
		return s.UnreadCount("a--b") == 4
	}, time.Second, 10*time.Millisecond)
}
