// Package client talks to a running watchdogd over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "http://127.0.0.1:8765/api"

// Client provides HTTP client functionality to communicate with watchdogd
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	// Timeout bounds every request; stop and restart may take up to the
	// service's stop timeout.
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// New creates a new watchdogd API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  hc,
	}
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Health returns the daemon's health summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.getJSON(ctx, "/healthz", nil, &h)
	return h, err
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
	}
	return err == nil
}

// Services lists every supervised service in configuration order.
func (c *Client) Services(ctx context.Context) ([]ServiceState, error) {
	var out []ServiceState
	err := c.getJSON(ctx, "/services", nil, &out)
	return out, err
}

// Service returns the runtime state of one service.
func (c *Client) Service(ctx context.Context, name string) (ServiceState, error) {
	var st ServiceState
	err := c.getJSON(ctx, "/services/"+url.PathEscape(name), nil, &st)
	return st, err
}

// Start launches a stopped service. Starting a running service is a no-op.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.command(ctx, name, "start")
}

// Stop stops a service and waits until its process set is empty.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.command(ctx, name, "stop")
}

// Restart stops then starts a service.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.command(ctx, name, "restart")
}

// Events returns recent in-memory events, oldest first.
func (c *Client) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	var out []Event
	err := c.getJSON(ctx, "/events", q.values(), &out)
	return out, err
}

// History returns persisted events, newest first.
func (c *Client) History(ctx context.Context, q EventQuery) ([]HistoryRecord, error) {
	var out []HistoryRecord
	err := c.getJSON(ctx, "/history", q.values(), &out)
	return out, err
}

func (q EventQuery) values() url.Values {
	v := url.Values{}
	if q.Service != "" {
		v.Set("service", q.Service)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func (c *Client) command(ctx context.Context, name, action string) error {
	c.logger.Debug("sending command", "service", name, "action", action)
	path := fmt.Sprintf("/services/%s/%s", url.PathEscape(name), action)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, out)
}

// do performs a request and decodes a 200 body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	ae := &APIError{StatusCode: resp.StatusCode}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		ae.Message = er.Error
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", ae.Message)
	return ae
}
