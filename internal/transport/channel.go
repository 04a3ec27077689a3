package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	apperrors "learnhub-chat/pkg/errors"
	"learnhub-chat/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Config tunes the push channel connection
type Config struct {
	// URL of the websocket endpoint, e.g. "ws://host/ws"
	URL string

	// Identity announced to the server on connect
	UserID      string
	Email       string
	DisplayName string

	// Bounded reconnect policy
	Attempts       int           // default 5
	Delay          time.Duration // default 1s
	ConnectTimeout time.Duration // default 10s

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.With(zap.String("component", "transport"))
	}
}

// Channel is the client side of the persistent push channel. It decodes
// inbound frames into tagged events, reconnects transparently with bounded
// retry, and fails outbound operations fast while disconnected.
//
// Presence and typing ride the same connection but are best-effort; their
// write errors never propagate into the message path.
type Channel struct {
	cfg    Config
	events chan domain.Event

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects the push channel. The initial connect uses the same bounded
// retry policy as reconnects. Only reconnects emit a connected event; the
// consumer runs its own synchronization on startup, so signalling here would
// make it sync twice.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	cfg.defaults()

	c := &Channel{
		cfg:    cfg,
		events: make(chan domain.Event, 256),
		closed: make(chan struct{}),
	}

	conn, err := c.dialRetry(ctx)
	if err != nil {
		return nil, err
	}

	c.setConn(conn)
	go c.run()
	go c.pingLoop()

	return c, nil
}

// Events returns the inbound event stream. The channel is closed when the
// connection is permanently down or Close is called.
func (c *Channel) Events() <-chan domain.Event {
	return c.events
}

// Connected reports whether the channel is currently usable
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Join subscribes this client to a conversation's fan-out. Joining an
// already-joined conversation is a server-side no-op.
func (c *Channel) Join(conversationID string) error {
	return c.writeFrame(Frame{Type: FrameJoin, ConversationID: conversationID})
}

// Leave unsubscribes from a conversation's fan-out
func (c *Channel) Leave(conversationID string) error {
	return c.writeFrame(Frame{Type: FrameLeave, ConversationID: conversationID})
}

// Typing broadcasts a typing signal to the conversation's other members
func (c *Channel) Typing(conversationID, userID string, isTyping bool) error {
	return c.writeFrame(Frame{
		Type:           FrameTyping,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
}

// MessageDelivered acknowledges reception of a message back to its sender
func (c *Channel) MessageDelivered(messageID, userID string) error {
	return c.writeFrame(Frame{Type: FrameMessageDelivered, MessageID: messageID, UserID: userID})
}

// MessageRead acknowledges visual exposure of a message back to its sender
func (c *Channel) MessageRead(messageID, readerID string) error {
	return c.writeFrame(Frame{Type: FrameMessageRead, MessageID: messageID, UserID: readerID})
}

// DeleteMessage asks the server to remove a message from all timelines
func (c *Channel) DeleteMessage(messageID string) error {
	return c.writeFrame(Frame{Type: FrameDeleteMessage, MessageID: messageID})
}

// SendGroup fans a stored message out to the group's current members
func (c *Channel) SendGroup(groupID string, msg domain.Message) error {
	m := msg
	return c.writeFrame(Frame{Type: FrameGroupMessage, GroupID: groupID, Message: &m})
}

// Announce broadcasts this user's presence status ("online"/"offline")
func (c *Channel) Announce(status string) error {
	return c.writeFrame(Frame{Type: FrameAnnounce, Status: status, Email: c.cfg.Email})
}

// Close tears the channel down and closes the event stream
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			c.conn.Close()
		}
		c.connected = false
		c.mu.Unlock()
	})
	return nil
}

// run reads frames until the connection dies, then redials with bounded
// retry. After exhausted attempts the event stream is closed.
func (c *Channel) run() {
	defer close(c.events)

	for {
		c.readLoop()

		select {
		case <-c.closed:
			return
		default:
		}

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.emit(domain.Event{Kind: domain.EventDisconnected})
		c.cfg.Logger.Warn("push channel lost, reconnecting",
			zap.Int("max_attempts", c.cfg.Attempts),
		)

		conn, err := c.dialRetry(context.Background())
		if err != nil {
			c.cfg.Logger.Error("push channel reconnect exhausted", zap.Error(err))
			return
		}

		c.setConn(conn)
		c.emit(domain.Event{Kind: domain.EventConnected})
	}
}

func (c *Channel) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.cfg.Logger.Warn("push channel read failed", zap.Error(err))
			}
			return
		}

		event, ok := decodeFrame(frame)
		if !ok {
			c.cfg.Logger.Debug("ignoring unknown frame", zap.String("type", frame.Type))
			continue
		}

		c.emit(event)
	}
}

// pingLoop keeps the connection alive. It survives reconnects because it
// always pings whatever connection is current.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil && c.connected {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.cfg.Logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.mu.Unlock()
		}
	}
}

// dialRetry attempts to connect with fixed delay between bounded attempts
func (c *Channel) dialRetry(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}

	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		select {
		case <-c.closed:
			return nil, apperrors.ChannelDisconnected()
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		c.cfg.Logger.Warn("push channel dial failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < c.cfg.Attempts {
			select {
			case <-time.After(c.cfg.Delay):
			case <-c.closed:
				return nil, apperrors.ChannelDisconnected()
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("push channel connect failed after %d attempts: %w", c.cfg.Attempts, lastErr)
}

func (c *Channel) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid push channel url: %w", err)
	}

	q := u.Query()
	q.Set("user_id", c.cfg.UserID)
	q.Set("email", c.cfg.Email)
	q.Set("display_name", c.cfg.DisplayName)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
}

func (c *Channel) writeFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return apperrors.ChannelDisconnected()
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("push channel write failed: %w", err)
	}

	return nil
}

// emit delivers an event without wedging on a stalled consumer after Close
func (c *Channel) emit(ev domain.Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}
