// Package agentd implements the agent runtime port against the agentd
// conversation service's HTTP API.
package agentd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alertforge/alertforge/internal/port/agentruntime"
	"github.com/alertforge/alertforge/internal/resilience"
)

// Client talks to the agentd conversation API. It implements
// agentruntime.Runtime.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker

	// functions registered per conversation, keyed by conversation ID then
	// function name, so streamed function-call events dispatch to the
	// wrappers of their own investigation and never a concurrent one's.
	mu        sync.Mutex
	functions map[string]map[string]agentruntime.LocalFunction
}

// NewClient creates a new agentd client. Request timeouts apply to the
// control-plane calls only; the streaming drain manages its own lifetime
// through its context.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		functions: make(map[string]map[string]agentruntime.LocalFunction),
	}
}

// SetBreaker attaches a circuit breaker to control-plane HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type functionDecl struct {
	Name string `json:"name"`
}

// OpenConversation creates a conversation with the given local functions
// registered and returns its opaque handle.
func (c *Client) OpenConversation(ctx context.Context, fns []agentruntime.LocalFunction) (string, error) {
	decls := make([]functionDecl, 0, len(fns))
	for _, fn := range fns {
		decls = append(decls, functionDecl{Name: fn.Name})
	}

	body, err := json.Marshal(map[string]any{"functions": decls})
	if err != nil {
		return "", fmt.Errorf("marshal open request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/conversations", body)
	if err != nil {
		return "", fmt.Errorf("open conversation: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("unmarshal conversation: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("open conversation: empty conversation id")
	}

	byName := make(map[string]agentruntime.LocalFunction, len(fns))
	for _, fn := range fns {
		byName[fn.Name] = fn
	}
	c.mu.Lock()
	c.functions[result.ID] = byName
	c.mu.Unlock()

	return result.ID, nil
}

// Submit appends a user message to the conversation.
func (c *Client) Submit(ctx context.Context, conversationID, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	path := fmt.Sprintf("/v1/conversations/%s/messages", conversationID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	return nil
}

// ListMessages returns the full ordered conversation transcript.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]agentruntime.Message, error) {
	path := fmt.Sprintf("/v1/conversations/%s/messages", conversationID)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var result struct {
		Messages []agentruntime.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return result.Messages, nil
}

// Release frees the conversation handle. Conversations already gone on the
// remote side release cleanly.
func (c *Client) Release(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.functions, conversationID)
	c.mu.Unlock()

	path := fmt.Sprintf("/v1/conversations/%s", conversationID)
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("release conversation: %w", err)
	}
	return nil
}

// Health checks whether agentd is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("agentd API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
