package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	"learnhub-chat/internal/identity"
	"learnhub-chat/internal/restapi"
	"learnhub-chat/internal/storage"
	apperrors "learnhub-chat/pkg/errors"
	"learnhub-chat/pkg/logger"
)

// Backend is the REST collaborator surface the engine consumes: history,
// unread summary, joined groups, send and group management.
type Backend interface {
	History(ctx context.Context, conversationID string) ([]domain.Message, error)
	UnreadSummary(ctx context.Context, userID string) (map[string]int, error)
	GroupsJoined(ctx context.Context, userID string) ([]domain.Conversation, error)
	Send(ctx context.Context, msg domain.Message) (domain.Message, error)
	CreateGroup(ctx context.Context, input restapi.CreateGroupInput) (domain.Conversation, error)
	LeaveGroup(ctx context.Context, groupID, userID string) error
}

// Channel is the push-channel surface the engine consumes
type Channel interface {
	Events() <-chan domain.Event
	Connected() bool
	Join(conversationID string) error
	Leave(conversationID string) error
	Typing(conversationID, userID string, isTyping bool) error
	MessageDelivered(messageID, userID string) error
	MessageRead(messageID, readerID string) error
	DeleteMessage(messageID string) error
	SendGroup(groupID string, msg domain.Message) error
	Announce(status string) error
	Close() error
}

// UpdateKind tags re-render hints pushed to the embedding UI
type UpdateKind string

const (
	UpdateTimeline   UpdateKind = "timeline"
	UpdateUnread     UpdateKind = "unread"
	UpdatePresence   UpdateKind = "presence"
	UpdateTyping     UpdateKind = "typing"
	UpdateHistoryErr UpdateKind = "history_error"
	UpdateSendFailed UpdateKind = "send_failed"
)

// Update tells the UI which slice of state changed. Updates are hints: a
// slow consumer may miss intermediate ones but can always re-read snapshots.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	Err            error
}

// Options configures a Session
type Options struct {
	Identity identity.Provider
	Backend  Backend
	Channel  Channel
	Uploader *storage.Uploader // optional; required for SendFile

	TypingQuietWindow time.Duration // default 1s
	ReconcileWindow   time.Duration // default 30s
	Logger            *zap.Logger
}

// Session owns all chat state for one signed-in user: conversation
// timelines, unread counters, presence, typing and group rosters. Every
// mutation funnels through a single consumer goroutine that selects over
// posted operations and push-channel events, so no two writers ever
// interleave on the same timeline.
type Session struct {
	self     domain.Participant
	backend  Backend
	channel  Channel
	uploader *storage.Uploader
	log      *zap.Logger

	quietWindow     time.Duration
	reconcileWindow time.Duration

	ops     chan func()
	updates chan Update

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once

	// State below is owned by the run loop; nothing outside it may touch it.
	timelines   map[string]*timeline
	unread      *unreadCounter
	unreadIDs   map[string][]string // conversation -> inbound message ids awaiting read-ack
	presence    map[string]string   // email -> "online"/"offline"
	peerTyping  map[string]map[string]time.Time
	typers      map[string]*typingDebouncer
	groups      map[string]domain.Conversation
	joined      map[string]bool
	active      string
	historyGen  uint64
	historyStop context.CancelFunc
	ackedReads  map[string]bool
	ackedDelivs map[string]bool
}

// New creates a session for the current user. Start must be called before
// any operation.
func New(opts Options) (*Session, error) {
	self, err := opts.Identity.CurrentUser()
	if err != nil {
		return nil, err
	}

	if opts.TypingQuietWindow <= 0 {
		opts.TypingQuietWindow = time.Second
	}
	if opts.ReconcileWindow <= 0 {
		opts.ReconcileWindow = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.With(zap.String("component", "engine"))
	}

	return &Session{
		self:            self,
		backend:         opts.Backend,
		channel:         opts.Channel,
		uploader:        opts.Uploader,
		log:             opts.Logger.With(zap.String("user_id", self.ID)),
		quietWindow:     opts.TypingQuietWindow,
		reconcileWindow: opts.ReconcileWindow,
		ops:             make(chan func()),
		updates:         make(chan Update, 256),
		timelines:       make(map[string]*timeline),
		unread:          newUnreadCounter(),
		unreadIDs:       make(map[string][]string),
		presence:        make(map[string]string),
		peerTyping:      make(map[string]map[string]time.Time),
		typers:          make(map[string]*typingDebouncer),
		groups:          make(map[string]domain.Conversation),
		joined:          make(map[string]bool),
		ackedReads:      make(map[string]bool),
		ackedDelivs:     make(map[string]bool),
	}, nil
}

// Start spins the consumer loop and kicks off the initial state
// synchronization (presence announcement, unread summary, joined groups).
func (s *Session) Start(ctx context.Context) error {
	if s.runCtx != nil {
		return apperrors.InvalidInputError("session already started")
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	go s.run()

	return s.post(func() { s.resync() })
}

// Updates returns the re-render hint stream for the embedding UI
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Self returns the current user's identity snapshot
func (s *Session) Self() domain.Participant {
	return s.self
}

// Close tears the session down: pending typing bursts are flushed, presence
// goes offline, the channel closes and the loop stops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		err := s.post(func() {
			for _, d := range s.typers {
				d.flush()
			}
			if err := s.channel.Announce("offline"); err != nil {
				s.log.Debug("offline announce failed", zap.Error(err))
			}
			s.channel.Close()
			if s.historyStop != nil {
				s.historyStop()
			}
			close(done)
		})
		if err == nil {
			<-done
		}
		if s.runCancel != nil {
			s.runCancel()
		}
	})
	return nil
}

// run is the single consumer goroutine. REST results, push-channel events
// and user operations all land here, one at a time.
func (s *Session) run() {
	defer close(s.updates)

	events := s.channel.Events()

	for {
		select {
		case <-s.runCtx.Done():
			return

		case op := <-s.ops:
			op()

		case ev, ok := <-events:
			if !ok {
				// Channel permanently down; keep serving local state.
				events = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
}

// post hands an operation to the consumer loop
func (s *Session) post(fn func()) error {
	if s.runCtx == nil {
		return apperrors.InvalidInputError("session not started")
	}
	select {
	case s.ops <- fn:
		return nil
	case <-s.runCtx.Done():
		return apperrors.InvalidInputError("session is closed")
	}
}

// call posts an operation and waits for it to run
func (s *Session) call(fn func()) error {
	done := make(chan struct{})
	if err := s.post(func() {
		fn()
		close(done)
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// notify pushes a re-render hint without ever blocking the loop
func (s *Session) notify(kind UpdateKind, conversationID string, err error) {
	select {
	case s.updates <- Update{Kind: kind, ConversationID: conversationID, Err: err}:
	default:
	}
}

// timeline returns (creating if needed) the buffer for a conversation.
// Loop-owned; must only be called from the run goroutine.
func (s *Session) timeline(conversationID string) *timeline {
	tl, ok := s.timelines[conversationID]
	if !ok {
		tl = newTimeline()
		s.timelines[conversationID] = tl
	}
	return tl
}

// resync runs on start and after every reconnect: presence is re-announced,
// channels rejoined (idempotent) and unread counts rebuilt from the
// authoritative summary.
func (s *Session) resync() {
	if err := s.channel.Announce("online"); err != nil {
		s.log.Debug("presence announce failed", zap.Error(err))
	}

	for conversationID := range s.joined {
		if err := s.channel.Join(conversationID); err != nil {
			s.log.Warn("rejoin failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	go func() {
		summary, err := s.backend.UnreadSummary(s.runCtx, s.self.ID)
		if err != nil {
			s.log.Warn("unread summary fetch failed", zap.Error(err))
			return
		}
		_ = s.post(func() {
			s.unread.replace(summary)
			s.notify(UpdateUnread, "", nil)
		})
	}()

	go func() {
		groups, err := s.backend.GroupsJoined(s.runCtx, s.self.ID)
		if err != nil {
			s.log.Warn("joined groups fetch failed", zap.Error(err))
			return
		}
		_ = s.post(func() {
			for _, g := range groups {
				s.groups[g.ID] = g
				if !s.joined[g.ID] {
					s.joined[g.ID] = true
					if err := s.channel.Join(g.ID); err != nil {
						s.log.Warn("group join failed", zap.String("group_id", g.ID), zap.Error(err))
					}
				}
			}
		})
	}()
}
