// Package agent implements the broadcaster and viewer sides of the short-poll
// signaling exchange.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mossy-p/fabcam/internal/models"
)

const requestTimeout = 10 * time.Second

// Signaler is the agents' view of the signaling server.
type Signaler interface {
	Poll(ctx context.Context, role models.Role) (*Poll, error)
	Send(ctx context.Context, msg models.SignalMessage) error
	Capture(ctx context.Context, frame string) (*models.Analysis, error)
}

// Poll is the union of the broadcaster and viewer poll responses.
type Poll struct {
	Offer      json.RawMessage   `json:"offer"`
	Answer     json.RawMessage   `json:"answer"`
	Candidates []json.RawMessage `json:"candidates"`
	Session    string            `json:"session"`
}

// StatusError is a non-2xx reply from the signaling server.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signaling server returned %d", e.Status)
	}
	return fmt.Sprintf("signaling server returned %d: %s", e.Status, e.Message)
}

// Client talks to the /signal endpoints over HTTP.
type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

// Login exchanges key for a bearer token used on every later request.
func (c *Client) Login(ctx context.Context, name string, role models.Role, key string) error {
	req := models.LoginRequest{Name: name, Role: string(role), Key: key}
	var resp models.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) Poll(ctx context.Context, role models.Role) (*Poll, error) {
	var p Poll
	path := "/signal?role=" + url.QueryEscape(string(role))
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Send(ctx context.Context, msg models.SignalMessage) error {
	var ack models.Ack
	return c.do(ctx, http.MethodPost, "/signal", msg, &ack)
}

// Capture uploads a base64 JPEG frame and returns the server's analysis.
func (c *Client) Capture(ctx context.Context, frame string) (*models.Analysis, error) {
	var resp models.CaptureResponse
	if err := c.do(ctx, http.MethodPost, "/signal/capture", models.CaptureRequest{Frame: frame}, &resp); err != nil {
		return nil, err
	}
	return resp.Analysis, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e models.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// present reports whether raw carries a value other than JSON null.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
