package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNetworkUnreachable classifies transport-level send failures: the
// request never produced a definitive backend answer, so the message is safe
// to retry. Server 5xx responses are folded in here as well; the backend
// may well have been mid-restart.
var ErrNetworkUnreachable = errors.New("backend unreachable")

// RejectedError is a definitive backend failure (4xx). Never retried by the
// flush agent; surfaced to the user on the specific message.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected request: status %d: %s", e.Status, e.Body)
}

// Client is a thin typed client for the external dashboard API.
type Client struct {
	baseURL string
	device  string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a backend client. baseURL is the API root without the /api
// suffix.
func New(baseURL, device string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		device:  device,
		http:    &http.Client{Timeout: 20 * time.Second},
		logger:  logger,
	}
}

// envelope is the backend's standard {data: ...} response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

func (c *Client) url(path string) string {
	return c.baseURL + "/api" + path
}

// getJSON issues a GET and decodes the data envelope into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postJSON issues a POST with a JSON body and decodes the data envelope
// into out (which may be nil).
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) putJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPut, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes the request and classifies failures per the error taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("X-Device", c.device)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetworkUnreachable, req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrNetworkUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ErrNetworkUnreachable, req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return &RejectedError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Data == nil {
		// Some endpoints reply bare, without the envelope.
		return json.Unmarshal(raw, out)
	}
	return json.Unmarshal(env.Data, out)
}

// Health checks backend reachability. Used by the connectivity monitor's
// probe while the realtime channel is down.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", &struct{}{})
}
