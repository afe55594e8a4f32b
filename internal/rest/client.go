// Package rest is the HTTP client for the conversation service: the one-shot
// history fetch and the message submission endpoints. Every call is
// authenticated with the caller's bearer token and bounded by the configured
// call timeout via context.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charla-social/charla/internal/store"
	"go.uber.org/zap"
)

// TokenSource supplies the bearer credential. Implemented by identity.Store.
type TokenSource interface {
	Token() string
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("conversation service returned HTTP %d: %s", e.Code, e.Body)
}

// Draft is a candidate message payload for create/edit submissions.
// ClientKey is a client-generated idempotency key echoed by the server.
type Draft struct {
	Text        string             `json:"text,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	ReplyTo     *string            `json:"reply_to,omitempty"`
	ClientKey   string             `json:"client_key,omitempty"`
}

// ConversationPage is the history fetch result: conversation metadata plus
// the ordered message list.
type ConversationPage struct {
	Conversation store.Conversation `json:"conversation"`
	Messages     []store.Message    `json:"messages"`
}

// Client talks to the conversation service.
type Client struct {
	base   string
	hc     *http.Client
	creds  TokenSource
	logger *zap.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, creds TokenSource, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		hc:     &http.Client{Timeout: timeout},
		creds:  creds,
		logger: logger,
	}
}

// FetchConversation loads the conversation metadata and full message history.
func (c *Client) FetchConversation(ctx context.Context, convID string) (*ConversationPage, error) {
	var page ConversationPage
	err := c.do(ctx, http.MethodGet, c.conversationPath(convID), nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateMessage submits a new message and returns the canonical persisted
// entity, server id included.
func (c *Client) CreateMessage(ctx context.Context, convID string, d Draft) (store.Message, error) {
	var msg store.Message
	err := c.do(ctx, http.MethodPost, c.conversationPath(convID)+"/messages", d, &msg)
	return msg, err
}

// EditMessage submits an edit and returns the canonical updated entity.
func (c *Client) EditMessage(ctx context.Context, convID, msgID string, d Draft) (store.Message, error) {
	var msg store.Message
	err := c.do(ctx, http.MethodPatch, c.messagePath(convID, msgID), d, &msg)
	return msg, err
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, convID, msgID string) error {
	return c.do(ctx, http.MethodDelete, c.messagePath(convID, msgID), nil, nil)
}

// AddReaction adds the caller's reaction and returns the message's updated
// reaction list.
func (c *Client) AddReaction(ctx context.Context, convID, msgID, emoji string) ([]store.Reaction, error) {
	var out reactionList
	err := c.do(ctx, http.MethodPost, c.messagePath(convID, msgID)+"/reactions",
		map[string]string{"emoji": emoji}, &out)
	return out.Reactions, err
}

// RemoveReaction removes the caller's reaction and returns the message's
// updated reaction list.
func (c *Client) RemoveReaction(ctx context.Context, convID, msgID, emoji string) ([]store.Reaction, error) {
	var out reactionList
	err := c.do(ctx, http.MethodDelete,
		c.messagePath(convID, msgID)+"/reactions/"+url.PathEscape(emoji), nil, &out)
	return out.Reactions, err
}

type reactionList struct {
	Reactions []store.Reaction `json:"reactions"`
}

func (c *Client) conversationPath(convID string) string {
	return "/conversations/" + url.PathEscape(convID)
}

func (c *Client) messagePath(convID, msgID string) string {
	return c.conversationPath(convID) + "/messages/" + url.PathEscape(msgID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.Token())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("conversation service error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
