// Package client talks to a running zapm server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the zapm server
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:2400",
		Timeout: 30 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/api/processes", nil)
	if err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// List returns every record keyed by name.
func (c *Client) List(ctx context.Context) (map[string]Process, error) {
	out := make(map[string]Process)
	if err := c.getJSON(ctx, "/api/processes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one record; errors.Is(err, ErrNotFound) when it does not exist.
func (c *Client) Get(ctx context.Context, name string) (*Process, error) {
	var p Process
	if err := c.getJSON(ctx, processPath(name, ""), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Start launches name and returns the server's message.
func (c *Client) Start(ctx context.Context, name string, req StartRequest) (string, error) {
	c.logger.Debug("Starting process", "name", name)
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return c.text(ctx, http.MethodPost, processPath(name, "start"), data)
}

func (c *Client) Stop(ctx context.Context, name string) error {
	_, err := c.text(ctx, http.MethodPost, processPath(name, "stop"), nil)
	return err
}

func (c *Client) Restart(ctx context.Context, name string) error {
	_, err := c.text(ctx, http.MethodPost, processPath(name, "restart"), nil)
	return err
}

// Upsert creates or replaces the definition of name.
func (c *Client) Upsert(ctx context.Context, name string, d Definition) (*Process, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, processPath(name, ""), data)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.check(resp); err != nil {
		return nil, err
	}
	var p Process
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &p, nil
}

// Delete stops and removes name.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.text(ctx, http.MethodDelete, processPath(name, ""), nil)
	return err
}

func processPath(name, action string) string {
	p := "/api/processes/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.check(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) text(ctx context.Context, method, path string, body []byte) (string, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.check(resp); err != nil {
		return "", err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// do performs an HTTP request. Bodies are always JSON.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// check turns a non-2xx response into an *APIError carrying the body text.
func (c *Client) check(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", e.Message)
	return e
}
