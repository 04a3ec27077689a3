package devserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	apperrors "learnhub-chat/pkg/errors"
	"learnhub-chat/pkg/logger"
)

// Server is the in-memory development backend. It implements the REST and
// push-channel contracts the chat engine consumes - history, unread
// summary, groups, send and the WebSocket hub - without any external
// dependency, so frontends and integration tests can run against it
// directly.
type Server struct {
	store  *store
	hub    *hub
	router *gin.Engine
	log    *zap.Logger
}

// New creates a ready-to-serve development backend
func New() *Server {
	log := logger.With(zap.String("component", "devserver"))

	s := &Server{
		store: newStore(),
		log:   log,
	}
	s.hub = newHub(s.store, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	m := newMetrics()
	router.Use(m.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "chatdevd",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", m.Endpoint())

	api := router.Group("/api")
	{
		api.GET("/conversations/:id/messages", s.getHistory)
		api.POST("/messages", s.sendMessage)
		api.GET("/users/:id/unread", s.getUnread)
		api.GET("/users/:id/groups", s.getGroups)
		api.POST("/groups", s.createGroup)
		api.POST("/groups/:id/leave", s.leaveGroup)
	}

	router.GET("/ws", s.hub.ServeWS)

	s.router = router
	return s
}

// Handler exposes the HTTP handler for embedding in tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails
func (s *Server) Run(addr string) error {
	s.log.Info("development backend listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

// getHistory returns the full stored history of a conversation
// GET /api/conversations/:id/messages
func (s *Server) getHistory(c *gin.Context) {
	conversationID := c.Param("id")

	c.JSON(http.StatusOK, gin.H{
		"messages": s.store.history(conversationID),
	})
}

// sendMessage stores a message, assigns its authoritative id and
// timestamp, bumps recipients' unread counters and hands it to the hub.
// POST /api/messages
func (s *Server) sendMessage(c *gin.Context) {
	var msg domain.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		fail(c, apperrors.InvalidInputError(err.Error()))
		return
	}
	if err := msg.Validate(); err != nil {
		failErr(c, err)
		return
	}

	stored := s.store.appendMessage(msg)

	// Recipients' unread counters tick at store time so the summary
	// endpoint is authoritative even for clients that were offline.
	for _, userID := range s.recipients(stored) {
		s.store.incrementUnread(userID, stored.ConversationID)
	}

	s.hub.Broadcast(stored)

	c.JSON(http.StatusCreated, gin.H{"message": stored})
}

// getUnread returns the per-conversation unread summary for a user
// GET /api/users/:id/unread
func (s *Server) getUnread(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"unread": s.store.unreadSummary(c.Param("id")),
	})
}

// getGroups returns the groups the user is a member of
// GET /api/users/:id/groups
func (s *Server) getGroups(c *gin.Context) {
	groups := s.store.groupsFor(c.Param("id"))
	if groups == nil {
		groups = []domain.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// createGroup creates a group conversation with a server-assigned id
// POST /api/groups
func (s *Server) createGroup(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Description string   `json:"description"`
		ImageURL    string   `json:"image_url"`
		MemberIDs   []string `json:"member_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.InvalidInputError(err.Error()))
		return
	}

	group := s.store.createGroup(req.Name, req.Description, req.ImageURL, req.MemberIDs)
	s.log.Info("group created",
		zap.String("group_id", group.ID),
		zap.Int("members", len(group.MemberIDs)),
	)

	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// leaveGroup removes a member and broadcasts the departure notice
// POST /api/groups/:id/leave
func (s *Server) leaveGroup(c *gin.Context) {
	groupID := c.Param("id")

	var req struct {
		UserID   string `json:"user_id" binding:"required"`
		UserName string `json:"user_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.InvalidInputError(err.Error()))
		return
	}

	if _, ok := s.store.removeMember(groupID, req.UserID); !ok {
		fail(c, apperrors.GroupNotFoundError())
		return
	}

	name := req.UserName
	if name == "" {
		name = req.UserID
	}
	s.hub.notifyUserLeft(groupID, req.UserID, name)

	c.JSON(http.StatusOK, gin.H{"left": true})
}

// recipients lists the user ids that should see a stored message as unread
func (s *Server) recipients(msg domain.Message) []string {
	if msg.IsGroup {
		group, ok := s.store.group(msg.ConversationID)
		if !ok {
			return nil
		}
		var out []string
		for _, id := range group.MemberIDs {
			if id != msg.SenderID {
				out = append(out, id)
			}
		}
		return out
	}

	userA, userB, ok := domain.SplitDirectConversationID(msg.ConversationID)
	if !ok {
		return nil
	}
	if userA == msg.SenderID {
		return []string{userB}
	}
	return []string{userA}
}

func fail(c *gin.Context, err *apperrors.AppError) {
	c.JSON(err.StatusCode, gin.H{"error": err})
}

func failErr(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		fail(c, appErr)
		return
	}
	fail(c, apperrors.InternalError(err.Error()))
}
