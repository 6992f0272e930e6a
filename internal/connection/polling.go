package connection

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
)

// pollingClient implements Client over HTTP long-polling.
//
// The session starts with POST {url}/handshake. Inbound frames are fetched with
// GET {url}/poll?sid=, which the server holds open until it has frames or a ping
// interval passes. Outbound frames go to POST {url}/poll?sid=.
type pollingClient struct {
	cfg    ClientConfig
	logger *slog.Logger
	http   *http.Client
	base   string

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}
	cancel   context.CancelFunc

	mu           sync.RWMutex
	connected    bool
	closed       bool
	sid          string
	upgrades     []string
	pingInterval time.Duration
	pingTimeout  time.Duration
}

// NewPollingClient creates a new long-polling client.
func NewPollingClient(cfg ClientConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withClientDefaults(cfg)

	base, err := endpoint(cfg.URL, false, "", nil)
	if err != nil {
		return nil, err
	}

	return &pollingClient{
		cfg:          cfg,
		logger:       logger,
		http:         &http.Client{},
		base:         base,
		messages:     make(chan TimestampedMessage, cfg.BufferSize),
		errors:       make(chan error, 1),
		done:         make(chan struct{}),
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
	}, nil
}

// Connect performs the handshake and starts the poll loop.
func (c *pollingClient) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	req, err := c.newRequest(hctx, http.MethodPost, "/handshake", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var hs handshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if hs.SID == "" {
		return errors.New("handshake: missing sid")
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pollCancel()
		return ErrAlreadyClosed
	}
	c.sid = hs.SID
	c.upgrades = hs.Upgrades
	if hs.PingInterval > 0 {
		c.pingInterval = time.Duration(hs.PingInterval) * time.Millisecond
	}
	if hs.PingTimeout > 0 {
		c.pingTimeout = time.Duration(hs.PingTimeout) * time.Millisecond
	}
	c.connected = true
	c.cancel = pollCancel
	c.mu.Unlock()

	go c.pollLoop(pollCtx)

	c.logger.Debug("polling connected", "sid", hs.SID, "upgrades", hs.Upgrades)
	return nil
}

// Close stops polling. The server session is left to the upgraded transport or
// to the server's own ping timeout.
func (c *pollingClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	close(c.done)
	if cancel != nil {
		cancel()
	}
	return nil
}

// Send posts a single frame.
func (c *pollingClient) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	sid := c.sid
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/poll", url.Values{"sid": {sid}}, data)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func (c *pollingClient) Messages() <-chan TimestampedMessage {
	return c.messages
}

func (c *pollingClient) Errors() <-chan error {
	return c.errors
}

func (c *pollingClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *pollingClient) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

func (c *pollingClient) Name() string {
	return TransportPolling
}

// Upgrades returns the transports the server offered in the handshake.
func (c *pollingClient) Upgrades() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.upgrades...)
}

// pollLoop issues long-poll requests until Close or an error.
func (c *pollingClient) pollLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		frames, err := c.poll(ctx)
		receivedAt := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.report(err)
			return
		}

		for _, f := range frames {
			select {
			case c.messages <- TimestampedMessage{Data: f, ReceivedAt: receivedAt}:
			case <-c.done:
				return
			}
		}
	}
}

// poll fetches one batch. A request outliving ping interval plus timeout means the
// server is gone.
func (c *pollingClient) poll(ctx context.Context) ([]json.RawMessage, error) {
	c.mu.RLock()
	sid := c.sid
	window := c.pingInterval + c.pingTimeout
	c.mu.RUnlock()

	rctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	req, err := c.newRequest(rctx, http.MethodGet, "/poll", url.Values{"sid": {sid}}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, ErrStaleConnection
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	case http.StatusGone:
		return nil, ErrServerClosed
	default:
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var frames []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return frames, nil
}

func (c *pollingClient) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u, err := endpoint(c.base, false, path, q)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return req, nil
}

func (c *pollingClient) report(err error) {
	select {
	case c.errors <- err:
	default:
	}
}
