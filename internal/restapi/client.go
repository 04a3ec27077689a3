package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	apperrors "learnhub-chat/pkg/errors"
	"learnhub-chat/pkg/logger"
)

// Client talks to the chat REST collaborators: history, unread summary,
// joined groups, message send and group management. It is a thin
// request/response wrapper; all state lives in the engine.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithToken sets the bearer token attached to every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a REST client rooted at baseURL (e.g. "http://host/api")
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logger.With(zap.String("component", "restapi")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History fetches the full message history for one conversation. A failed
// fetch surfaces as HISTORY_UNAVAILABLE; callers keep their prior buffer.
func (c *Client) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}

	url := fmt.Sprintf("%s/conversations/%s/messages", c.baseURL, conversationID)
	if err := c.get(ctx, url, &out); err != nil {
		return nil, apperrors.HistoryUnavailable(err)
	}

	return out.Messages, nil
}

// UnreadSummary fetches the authoritative per-conversation unread counts
// used to rebuild the local aggregator on session start and reconnect.
func (c *Client) UnreadSummary(ctx context.Context, userID string) (map[string]int, error) {
	var out struct {
		Unread map[string]int `json:"unread"`
	}

	url := fmt.Sprintf("%s/users/%s/unread", c.baseURL, userID)
	if err := c.get(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch unread summary: %w", err)
	}

	return out.Unread, nil
}

// GroupsJoined fetches the group conversations the user is a member of
func (c *Client) GroupsJoined(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var out struct {
		Groups []domain.Conversation `json:"groups"`
	}

	url := fmt.Sprintf("%s/users/%s/groups", c.baseURL, userID)
	if err := c.get(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch joined groups: %w", err)
	}

	return out.Groups, nil
}

// Send posts a message and returns the authoritative copy with the
// server-assigned id and timestamp.
func (c *Client) Send(ctx context.Context, msg domain.Message) (domain.Message, error) {
	var out struct {
		Message domain.Message `json:"message"`
	}

	if err := c.post(ctx, c.baseURL+"/messages", msg, &out); err != nil {
		return domain.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	return out.Message, nil
}

// CreateGroupInput carries the fields of a group creation call
type CreateGroupInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	MemberIDs   []string `json:"member_ids"`
}

// CreateGroup creates a group conversation; the returned id is opaque and
// server-assigned.
func (c *Client) CreateGroup(ctx context.Context, input CreateGroupInput) (domain.Conversation, error) {
	var out struct {
		Group domain.Conversation `json:"group"`
	}

	if err := c.post(ctx, c.baseURL+"/groups", input, &out); err != nil {
		return domain.Conversation{}, fmt.Errorf("failed to create group: %w", err)
	}

	return out.Group, nil
}

// LeaveGroup removes the user from a group's roster
func (c *Client) LeaveGroup(ctx context.Context, groupID, userID string) error {
	body := map[string]string{"user_id": userID}

	url := fmt.Sprintf("%s/groups/%s/leave", c.baseURL, groupID)
	if err := c.post(ctx, url, body, nil); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to surface the server's error envelope
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope); decodeErr == nil && envelope.Error.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", req.Method, req.URL.Path, envelope.Error.Message, envelope.Error.Code)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
