package devserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	"learnhub-chat/internal/transport"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // development backend
	},
}

// client is one WebSocket connection to the hub
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan transport.Frame

	userID      string
	email       string
	displayName string

	// conversations this connection has joined; owned by the hub loop
	joined map[string]bool
}

type inbound struct {
	c *client
	f transport.Frame
}

// hub manages WebSocket connections for the development backend: per
// conversation subscriber sets, presence broadcast, status/typing relay and
// group fan-out. All hub state is owned by the run goroutine, following the
// register/unregister/broadcast discipline.
type hub struct {
	store *store
	log   *zap.Logger

	register   chan *client
	unregister chan *client
	frames     chan inbound
	outbound   chan outboundMessage

	clients map[*client]bool
	subs    map[string]map[*client]bool
}

// outboundMessage is a stored message the REST layer wants fanned out
type outboundMessage struct {
	msg domain.Message
}

func newHub(store *store, log *zap.Logger) *hub {
	h := &hub{
		store:      store,
		log:        log,
		register:   make(chan *client),
		unregister: make(chan *client),
		frames:     make(chan inbound, 256),
		outbound:   make(chan outboundMessage, 256),
		clients:    make(map[*client]bool),
		subs:       make(map[string]map[*client]bool),
	}

	go h.run()

	return h
}

// run handles hub operations
func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.broadcastPresence(c.email, true)
			h.sendPresenceSnapshot(c)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			delete(h.clients, c)
			for conversationID := range c.joined {
				h.unsubscribe(conversationID, c)
			}
			close(c.send)

			if !h.userOnline(c.email) {
				h.broadcastPresence(c.email, false)
			}

		case in := <-h.frames:
			h.handleFrame(in.c, in.f)

		case out := <-h.outbound:
			h.deliverMessage(out.msg)
		}
	}
}

// Broadcast hands a freshly stored message to the hub for delivery
func (h *hub) Broadcast(msg domain.Message) {
	h.outbound <- outboundMessage{msg: msg}
}

// handleFrame dispatches one client frame
func (h *hub) handleFrame(c *client, f transport.Frame) {
	switch f.Type {
	case transport.FrameJoin:
		// Duplicate join is a no-op
		if !c.joined[f.ConversationID] {
			c.joined[f.ConversationID] = true
			h.subscribe(f.ConversationID, c)
		}

	case transport.FrameLeave:
		delete(c.joined, f.ConversationID)
		h.unsubscribe(f.ConversationID, c)

	case transport.FrameTyping:
		h.relay(f.ConversationID, transport.Frame{
			Type:           transport.FrameTyping,
			ConversationID: f.ConversationID,
			UserID:         c.userID,
			IsTyping:       f.IsTyping,
		}, c)

	case transport.FrameMessageDelivered:
		h.advanceStatus(f.MessageID, domain.StatusDelivered, c.userID)

	case transport.FrameMessageRead:
		if conversationID, changed := h.advanceStatus(f.MessageID, domain.StatusRead, c.userID); changed {
			h.store.decrementUnread(c.userID, conversationID)
		}

	case transport.FrameDeleteMessage:
		if conversationID, ok := h.store.deleteMessage(f.MessageID); ok {
			h.relay(conversationID, transport.Frame{
				Type:           transport.FrameMessageDeleted,
				ConversationID: conversationID,
				MessageID:      f.MessageID,
			}, nil)
		}

	case transport.FrameGroupMessage:
		if f.Message != nil {
			h.fanOutGroup(f.GroupID, *f.Message)
		}

	case transport.FrameAnnounce:
		h.broadcastPresence(c.email, f.Status == "online")
		if f.Status == "online" {
			h.sendPresenceSnapshot(c)
		}
	}
}

// advanceStatus moves a stored message forward and relays the transition to
// every subscriber of its conversation (the sender's copy mirrors it).
func (h *hub) advanceStatus(messageID string, status domain.Status, byUserID string) (string, bool) {
	conversationID, changed := h.store.setStatus(messageID, status)
	if !changed {
		return conversationID, false
	}

	h.relay(conversationID, transport.Frame{
		Type:           transport.FrameMessageStatus,
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         string(status),
		UserID:         byUserID,
	}, nil)

	return conversationID, true
}

// deliverMessage pushes a stored direct message to its audience. Direct
// conversations deliver to both participants' connections regardless of
// subscription so unread counters tick live; group fan-out instead rides
// the group_message frame and respects membership.
func (h *hub) deliverMessage(msg domain.Message) {
	if msg.IsGroup {
		h.fanOutGroup(msg.ConversationID, msg)
		return
	}

	m := msg
	frame := transport.Frame{Type: transport.FrameMessage, ConversationID: msg.ConversationID, Message: &m}

	userA, userB, isDirect := domain.SplitDirectConversationID(msg.ConversationID)

	seen := make(map[*client]bool)
	for c := range h.subs[msg.ConversationID] {
		seen[c] = true
		h.push(c, frame)
	}
	if isDirect {
		for c := range h.clients {
			if seen[c] || (c.userID != userA && c.userID != userB) {
				continue
			}
			h.push(c, frame)
		}
	}
}

// fanOutGroup delivers one copy to every subscribed member of the group.
// Non-members receive nothing, even if they somehow joined the channel.
func (h *hub) fanOutGroup(groupID string, msg domain.Message) {
	group, ok := h.store.group(groupID)
	if !ok {
		h.log.Warn("group fan-out for unknown group", zap.String("group_id", groupID))
		return
	}

	m := msg
	frame := transport.Frame{Type: transport.FrameMessage, ConversationID: groupID, Message: &m}

	for c := range h.subs[groupID] {
		if !group.HasMember(c.userID) {
			continue
		}
		h.push(c, frame)
	}
}

// notifyUserLeft inserts the departure into the group's live stream
func (h *hub) notifyUserLeft(groupID, userID, userName string) {
	h.relay(groupID, transport.Frame{
		Type:           transport.FrameUserLeft,
		ConversationID: groupID,
		UserID:         userID,
		UserName:       userName,
		Timestamp:      time.Now(),
	}, nil)
}

// relay sends a frame to every subscriber of a conversation, optionally
// skipping the originating client.
func (h *hub) relay(conversationID string, f transport.Frame, skip *client) {
	for c := range h.subs[conversationID] {
		if c == skip {
			continue
		}
		h.push(c, f)
	}
}

func (h *hub) subscribe(conversationID string, c *client) {
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*client]bool)
	}
	h.subs[conversationID][c] = true
}

func (h *hub) unsubscribe(conversationID string, c *client) {
	if clients, ok := h.subs[conversationID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subs, conversationID)
		}
	}
}

// broadcastPresence tells everyone a user went online or offline
func (h *hub) broadcastPresence(email string, online bool) {
	status := "offline"
	if online {
		status = "online"
	}

	f := transport.Frame{Type: transport.FrameUserStatus, Email: email, Status: status}
	for c := range h.clients {
		h.push(c, f)
	}
}

// sendPresenceSnapshot rebuilds the full presence map for one client;
// consumers assume no deltas across reconnects.
func (h *hub) sendPresenceSnapshot(c *client) {
	sent := make(map[string]bool)
	for other := range h.clients {
		if sent[other.email] {
			continue
		}
		sent[other.email] = true
		h.push(c, transport.Frame{Type: transport.FrameUserStatus, Email: other.email, Status: "online"})
	}
}

func (h *hub) userOnline(email string) bool {
	for c := range h.clients {
		if c.email == email {
			return true
		}
	}
	return false
}

// push queues a frame for one client, dropping it if the client is wedged
func (h *hub) push(c *client, f transport.Frame) {
	select {
	case c.send <- f:
	default:
		h.log.Warn("dropping frame for slow client", zap.String("user_id", c.userID))
	}
}

// ServeWS upgrades the request and registers the connection
func (h *hub) ServeWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "INVALID_INPUT", "message": "user_id required"}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		hub:         h,
		conn:        conn,
		send:        make(chan transport.Frame, 256),
		userID:      userID,
		email:       c.Query("email"),
		displayName: c.Query("display_name"),
		joined:      make(map[string]bool),
	}

	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}

// readPump reads frames from the WebSocket into the hub
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f transport.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}
		c.hub.frames <- inbound{c: c, f: f}
	}
}

// writePump writes queued frames to the WebSocket
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
