// Package langgraph is a minimal client for the LangGraph server API: it
// creates threads and streams agent runs with stream_mode "events".
package langgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultURL is where the LangGraph API listens in the standard compose setup.
const DefaultURL = "http://langgraph-api:8000"

// Message is one entry of the conversation handed to the agent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunRequest describes one agent run.
type RunRequest struct {
	AssistantID  string
	Messages     []Message
	Configurable map[string]any
}

type runBody struct {
	AssistantID string         `json:"assistant_id"`
	Input       runInput       `json:"input"`
	Config      runConfig      `json:"config"`
	StreamMode  []string       `json:"stream_mode"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type runInput struct {
	Messages []Message `json:"messages"`
}

type runConfig struct {
	Configurable map[string]any `json:"configurable"`
}

// Client talks to a LangGraph server.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the X-Api-Key header sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: runs stream for as long as the turn's context allows.
		client: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateThread creates an empty thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, "/threads", map[string]any{}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode thread: %w", err)
	}
	if out.ThreadID == "" {
		return "", fmt.Errorf("create thread: empty thread_id")
	}
	return out.ThreadID, nil
}

// StreamRun starts a run on threadID and returns its event stream. The
// stream is bound to ctx: cancelling ctx aborts the run's response body.
func (c *Client) StreamRun(ctx context.Context, threadID string, req RunRequest) (*RunStream, error) {
	if req.AssistantID == "" {
		return nil, fmt.Errorf("stream run: assistant id is required")
	}
	cfg := req.Configurable
	if cfg == nil {
		cfg = map[string]any{}
	}
	msgs := req.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	body := runBody{
		AssistantID: req.AssistantID,
		Input:       runInput{Messages: msgs},
		Config:      runConfig{Configurable: cfg},
		StreamMode:  []string{"events"},
	}
	resp, err := c.post(ctx, "/threads/"+threadID+"/runs/stream", body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return newRunStream(resp.Body), nil
}

// Start creates a fresh thread and streams a run on it.
func (c *Client) Start(ctx context.Context, req RunRequest) (*RunStream, error) {
	threadID, err := c.CreateThread(ctx)
	if err != nil {
		return nil, err
	}
	return c.StreamRun(ctx, threadID, req)
}

func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("langgraph %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}
