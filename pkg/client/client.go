package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/todosync/pkg/session"
	"github.com/astromechza/todosync/pkg/tasks"
)

var (
	// ErrUnauthorized means the api key was rejected or revoked; the caller
	// has to obtain a new one rather than retry.
	ErrUnauthorized = errors.New("unauthorized: re-authenticate")
	ErrNotConnected = errors.New("not connected")
)

type Options struct {
	BaseURL    string
	APIKey     string
	Backoff    time.Duration
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

// Client mirrors one principal's task list by folding every operation the
// server pushes through tasks.Apply. Local intents are only sent, never
// applied, so the mirror changes only on the server's word.
type Client struct {
	baseURL *url.URL
	opts    Options

	mu       sync.Mutex
	snapshot tasks.Snapshot

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{baseURL: u, opts: opts}, nil
}

// Snapshot returns a copy of the local mirror.
func (c *Client) Snapshot() tasks.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

func (c *Client) apply(op tasks.Op) tasks.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = tasks.Apply(c.snapshot, op)
	return c.snapshot.Clone()
}

// Run keeps a session open until ctx is done, the server logs the client out
// or the key is rejected. Transient closes resume with a new session, which
// always starts with a full snapshot. onUpdate is called after every fold.
func (c *Client) Run(ctx context.Context, onUpdate func(tasks.Snapshot)) error {
	for {
		reason, err := c.runSession(ctx, onUpdate)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, ErrUnauthorized) || reason == session.ReasonUnauthorized:
			return ErrUnauthorized
		case reason == session.ReasonNormal:
			slog.Info("session closed by server")
			return nil
		}
		slog.Warn("connection closed, retrying", "reason", reason, "err", err, "backoff", c.opts.Backoff)
		t := time.NewTimer(c.opts.Backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func (c *Client) runSession(ctx context.Context, onUpdate func(tasks.Snapshot)) (session.CloseReason, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return session.ReasonError, err
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Logout()
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return session.ReasonFromCode(closeErr.Code), nil
			}
			return session.ReasonError, fmt.Errorf("failed to read message: %w", err)
		}
		env, err := tasks.DecodeEnvelope(p)
		if err != nil {
			slog.Warn("dropping malformed operation from server", "err", err)
			continue
		}
		snap := c.apply(env.Op)
		if onUpdate != nil {
			onUpdate(snap)
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.baseURL.JoinPath("api/ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), c.authHeader())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// Send submits op over the open session. The mirror is updated when the
// server echoes it back.
func (c *Client) Send(op tasks.Op) error {
	raw, err := json.Marshal(tasks.Envelope{AllegedTime: time.Now().UnixMilli(), Op: op})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Logout ends the current session with a normal close.
func (c *Client) Logout() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout")
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Fetch reads the current snapshot over plain HTTP and replaces the mirror
// with it.
func (c *Client) Fetch(ctx context.Context) (tasks.Snapshot, uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("api/snapshot").String(), nil)
	if err != nil {
		return tasks.Snapshot{}, 0, err
	}
	var out struct {
		Version  uint64         `json:"version"`
		Snapshot tasks.Snapshot `json:"snapshot"`
	}
	if err := c.do(req, &out); err != nil {
		return tasks.Snapshot{}, 0, err
	}
	snap := c.apply(tasks.OverwriteState{Snapshot: out.Snapshot})
	return snap, out.Version, nil
}

// Submit sends op over plain HTTP and reports whether it changed the list.
func (c *Client) Submit(ctx context.Context, op tasks.Op) (bool, error) {
	raw, err := json.Marshal(tasks.Envelope{AllegedTime: time.Now().UnixMilli(), Op: op})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("api/ops").String(), bytes.NewReader(raw))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		Changed bool `json:"changed"`
	}
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

func (c *Client) do(req *http.Request, out any) error {
	for k, v := range c.authHeader() {
		req.Header[k] = v
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.opts.APIKey)
	return h
}
