// Package remote is the HTTP and websocket implementation of
// syncer.Collaborator that talks to the whiteboard server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/automerge-whiteboard/pkg/syncer"
)

var ErrNotConnected = errors.New("client is not connected")

// StatusError is a non-success response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %d", e.Code)
	}
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	subs      map[*subscription]struct{}
}

var _ syncer.Collaborator = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New prepares a client for the server at baseURL. No request is made until
// Connect.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
		subs:   make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect checks that the server is healthy. There is no automatic
// reconnection; a client that fails here stays disconnected.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("healthz").String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server is not healthy: %w", readStatusError(resp))
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("connected", "server", c.base.String())
	return nil
}

// Close ends every open subscription and marks the client disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (c *Client) checkConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) boardURL(sel syncer.Selection, parts ...string) *url.URL {
	return c.base.JoinPath(append([]string{"boards", sel.Board}, parts...)...)
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		payload.Error = string(bytes.TrimSpace(body))
	}
	return &StatusError{Code: resp.StatusCode, Message: payload.Error}
}

func (c *Client) Query(ctx context.Context, sel syncer.Selection) (syncer.Snapshot, error) {
	if err := c.checkConnected(); err != nil {
		return syncer.Snapshot{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.boardURL(sel, "paths").String(), nil)
	if err != nil {
		return syncer.Snapshot{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return syncer.Snapshot{}, fmt.Errorf("failed to query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return syncer.Snapshot{}, fmt.Errorf("failed to query: %w", readStatusError(resp))
	}
	var snap syncer.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return syncer.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Mutate validates m before sending it. Every failure is a
// *syncer.RemoteWriteError.
func (c *Client) Mutate(ctx context.Context, sel syncer.Selection, m syncer.Mutation) error {
	fail := func(err error) error {
		return &syncer.RemoteWriteError{Mutation: m, Err: err}
	}
	if err := c.checkConnected(); err != nil {
		return fail(err)
	}
	if err := m.Validate(); err != nil {
		return fail(err)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.boardURL(sel, "mutations").String(), bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fail(readStatusError(resp))
	}
	return nil
}
