// Package client provides the REST client for the chat backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single REST call. Streaming happens over the
// WebSocket, so requests here return quickly.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Unwrap maps well-known status codes to sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// Client talks to the REST API rooted at baseURL (for example
// http://localhost:8000/api).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	jar        http.CookieJar
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client. A nil client keeps
// the default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCookieJar shares a cookie jar with the client, so a session cookie
// set by the backend is reused by the WebSocket dialer.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.jar != nil {
		// Copy so a client passed in by the caller keeps its own jar.
		hc := *c.httpClient
		hc.Jar = c.jar
		c.httpClient = &hc
	}
	return c
}

// Conversation is the summary returned by the conversations endpoints.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SendResult acknowledges a posted message. The answer streams over the
// WebSocket.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Usage is the caller's token usage for the current day.
type Usage struct {
	TokensUsed int64   `json:"tokens_used"`
	TokenLimit int64   `json:"token_limit"`
	Remaining  int64   `json:"remaining"`
	UsagePct   float64 `json:"usage_percent"`
}

// CreateConversation starts a new conversation.
func (c *Client) CreateConversation(ctx context.Context) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, &conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the caller's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return resp.Conversations, nil
}

// SendMessage posts content to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*SendResult, error) {
	if conversationID == "" {
		return nil, errors.New("send message: conversation id is required")
	}
	body := map[string]string{"content": content}
	var res SendResult
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", body, &res); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &res, nil
}

// Stop asks the backend to abort the in-flight answer.
func (c *Client) Stop(ctx context.Context, conversationID string) error {
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/stop", nil, nil); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// Usage fetches the current token usage.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	if err := c.do(ctx, http.MethodGet, "/usage", nil, &u); err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	return &u, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
