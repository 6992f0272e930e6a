package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Manager owns the session with the notification server.
type Manager interface {
	// Connect starts a session with token and returns the transport handle.
	// Dialing happens in the background; the error is only for a transport
	// that cannot be constructed.
	Connect(token string) (Client, error)

	// Disconnect closes the session. It is idempotent. A handler call that
	// was already running may finish after Disconnect returns. No later
	// calls for that session are made.
	Disconnect()

	// Reconnect restarts the reconnection loop when a transport exists but is not connected.
	Reconnect()

	// Status returns the current session state.
	Status() Status
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	handler Handler
	logger  *slog.Logger
	factory ClientFactory

	mu       sync.Mutex
	token    string
	client   Client
	state    State
	attempts int

	// gen identifies the current session. Work started for an older
	// generation is discarded.
	gen         uint64
	cancel      context.CancelFunc
	serverTimer *time.Timer
}

// Option customizes a Manager.
type Option func(*manager)

// WithClientFactory replaces the transport constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) { m.factory = f }
}

// NewManager creates a new Connection Manager. handler may be nil.
func NewManager(cfg ManagerConfig, handler Handler, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = NopHandler{}
	}

	d := DefaultManagerConfig()
	if len(cfg.Transports) == 0 {
		cfg.Transports = d.Transports
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = d.ReconnectDelay
	}
	if cfg.ReconnectDelayMax < cfg.ReconnectDelay {
		cfg.ReconnectDelayMax = cfg.ReconnectDelay
	}
	if cfg.RandomizationFactor < 0 {
		cfg.RandomizationFactor = 0
	}
	if cfg.RandomizationFactor > 1 {
		cfg.RandomizationFactor = 1
	}

	m := &manager{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "connection"),
		factory: NewClient,
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts a new session unless one is already connected.
func (m *manager) Connect(token string) (Client, error) {
	if token == "" {
		m.logger.Warn("connecting without auth token")
	}

	m.mu.Lock()
	if m.client != nil && m.client.IsConnected() {
		c := m.client
		m.mu.Unlock()
		return c, nil
	}

	old := m.client
	m.endSessionLocked()
	m.client = nil

	transport := m.cfg.Transports[0]
	client, err := m.newClient(transport, token, "")
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		closeClient(old)
		m.logger.Error("failed to create transport", "transport", transport, "error", err)
		return nil, fmt.Errorf("create %s transport: %w", transport, err)
	}

	m.token = token
	m.client = client
	m.attempts = 0
	m.state = StateConnecting
	gen, ctx := m.beginSessionLocked()
	m.mu.Unlock()

	closeClient(old)

	m.logger.Info("connecting", "transport", transport)
	go m.run(ctx, gen, client, false)

	return client, nil
}

// Disconnect closes the transport and cancels pending reconnects. It does
// not wait for an in-flight handler call, so a handler may call it.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.endSessionLocked()
	client := m.client
	wasActive := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	closeClient(client)

	if wasActive {
		m.logger.Info("disconnected by client")
		m.handler.OnDisconnect(ReasonClientDisconnect)
	}
}

// Reconnect starts the reconnection loop for an existing, disconnected transport.
func (m *manager) Reconnect() {
	m.reconnect(0)
}

// reconnect starts the loop. A non-zero onlyGen restricts it to that session.
func (m *manager) reconnect(onlyGen uint64) {
	m.mu.Lock()
	if onlyGen != 0 && onlyGen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.client == nil || m.client.IsConnected() || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}

	m.endSessionLocked()
	m.state = StateReconnecting
	gen, ctx := m.beginSessionLocked()
	m.mu.Unlock()

	m.logger.Info("reconnecting")
	go m.run(ctx, gen, nil, true)
}

// Status returns the current session state.
func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *manager) statusLocked() Status {
	st := Status{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		ReconnectPending:  m.serverTimer != nil && m.state == StateDisconnected,
	}
	if m.client != nil {
		st.Transport = m.client.Name()
		st.Connected = m.state == StateConnected && m.client.IsConnected()
		if st.Connected {
			st.ID = m.client.ID()
		}
	}
	return st
}

// beginSessionLocked starts a new generation. Caller holds m.mu.
func (m *manager) beginSessionLocked() (uint64, context.Context) {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	return m.gen, ctx
}

// endSessionLocked invalidates the current generation and its timers. Caller holds m.mu.
func (m *manager) endSessionLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.serverTimer != nil {
		m.serverTimer.Stop()
		m.serverTimer = nil
	}
}

func (m *manager) newClient(transport, token, sid string) (Client, error) {
	cfg := m.cfg.Client
	cfg.URL = m.cfg.URL
	cfg.Token = token
	cfg.SID = sid
	cfg.UserAgent = m.cfg.UserAgent
	return m.factory(transport, cfg, m.logger.With("transport", transport))
}

func (m *manager) newBackoff() retry.Backoff {
	b := retry.NewExponential(m.cfg.ReconnectDelay)
	if f := m.cfg.RandomizationFactor; f > 0 {
		b = retry.WithJitterPercent(uint64(f*100), b)
	}
	b = retry.WithCappedDuration(m.cfg.ReconnectDelayMax, b)
	if m.cfg.ReconnectAttempts > 0 {
		b = retry.WithMaxRetries(uint64(m.cfg.ReconnectAttempts), b)
	}
	return b
}

// run drives one session: dial, serve, and retry with backoff. All handler
// calls for the session happen here.
func (m *manager) run(ctx context.Context, gen uint64, client Client, reconnecting bool) {
	var backoff retry.Backoff

	for {
		if reconnecting {
			if backoff == nil {
				backoff = m.newBackoff()
			}
			delay, stop := backoff.Next()
			if stop {
				m.giveUp(gen)
				return
			}
			if !sleep(ctx, delay) {
				return
			}

			var attempt int
			var err error
			client, attempt, err = m.beginAttempt(gen)
			if err != nil {
				// Construction failures repeat identically; stop here.
				m.logger.Error("failed to create transport", "error", err)
				m.dispatch(gen, func(h Handler) { h.OnError(newDialError(m.cfg.Transports[0], err)) })
				m.giveUp(gen)
				return
			}
			if client == nil {
				return
			}
			m.logger.Info("reconnect attempt", "attempt", attempt)
			m.dispatch(gen, func(h Handler) { h.OnReconnectAttempt(attempt) })
		}

		if err := client.Connect(ctx); err != nil {
			client.Close()
			if ctx.Err() != nil {
				return
			}
			de := newDialError(client.Name(), err)
			m.logger.Warn("connect failed", "transport", client.Name(), "class", de.Class, "error", err)
			m.dispatch(gen, func(h Handler) { h.OnError(de) })

			if !m.cfg.Reconnection {
				m.setState(gen, StateDisconnected)
				return
			}
			reconnecting = true
			continue
		}

		backoff = nil
		if !m.opened(gen, client) {
			client.Close()
			return
		}
		client = m.maybeUpgrade(ctx, gen, client)

		reason := m.serve(ctx, gen, client)
		client.Close()

		switch reason {
		case ReasonServerDisconnect:
			if !m.setState(gen, StateDisconnected) {
				return
			}
			m.logger.Info("server ended session")
			m.dispatch(gen, func(h Handler) { h.OnDisconnect(ReasonServerDisconnect) })
			m.scheduleReconnect(gen, m.cfg.ServerDisconnectDelay)
			return

		case ReasonTransportError:
			next := StateDisconnected
			if m.cfg.Reconnection {
				next = StateReconnecting
			}
			if !m.setState(gen, next) {
				return
			}
			m.dispatch(gen, func(h Handler) { h.OnDisconnect(ReasonTransportError) })
			if !m.cfg.Reconnection {
				return
			}
			reconnecting = true

		default:
			return
		}
	}
}

// beginAttempt counts an attempt and builds a fresh transport. A nil client
// with nil error means the session is gone.
func (m *manager) beginAttempt(gen uint64) (Client, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return nil, 0, nil
	}

	m.attempts++
	m.state = StateReconnecting

	client, err := m.newClient(m.cfg.Transports[0], m.token, "")
	if err != nil {
		return nil, m.attempts, err
	}
	m.client = client
	return client, m.attempts, nil
}

// opened records a successful dial and announces presence.
func (m *manager) opened(gen uint64, client Client) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.client = client
	m.attempts = 0
	m.state = StateConnected
	st := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("connected", "transport", client.Name(), "sid", client.ID())

	if frame, err := EncodeFrame(EventUserOnline, nil); err == nil {
		if err := client.Send(frame); err != nil {
			m.logger.Warn("failed to announce presence", "error", err)
		}
	}

	return m.dispatch(gen, func(h Handler) { h.OnConnect(st) })
}

// maybeUpgrade moves a polling session to websocket when the server offers it.
// On any failure the polling transport stays in use.
func (m *manager) maybeUpgrade(ctx context.Context, gen uint64, client Client) Client {
	if !m.cfg.Upgrade || client.Name() != TransportPolling || !slices.Contains(m.cfg.Transports, TransportWebSocket) {
		return client
	}
	up, ok := client.(interface{ Upgrades() []string })
	if !ok || !slices.Contains(up.Upgrades(), TransportWebSocket) {
		return client
	}

	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	ws, err := m.newClient(TransportWebSocket, token, client.ID())
	if err != nil {
		m.logger.Debug("upgrade skipped", "error", err)
		return client
	}
	if err := ws.Connect(ctx); err != nil {
		ws.Close()
		m.logger.Debug("upgrade failed, staying on polling", "error", err)
		return client
	}

	client.Close()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		ws.Close()
		return client
	}
	m.client = ws
	m.mu.Unlock()

	m.drain(gen, client)

	m.logger.Info("transport upgraded", "from", TransportPolling, "to", TransportWebSocket, "sid", ws.ID())
	return ws
}

// serve dispatches frames until the transport fails, the server ends the
// session, or the session is cancelled (empty reason).
func (m *manager) serve(ctx context.Context, gen uint64, client Client) Reason {
	msgs := client.Messages()
	errs := client.Errors()

	for {
		select {
		case <-ctx.Done():
			return ""

		case err := <-errs:
			if m.drain(gen, client) == ReasonServerDisconnect || errors.Is(err, ErrServerClosed) {
				return ReasonServerDisconnect
			}
			m.logger.Warn("transport error", "transport", client.Name(), "error", err)
			return ReasonTransportError

		case msg := <-msgs:
			reason, ok := m.handleMessage(gen, msg)
			if reason != "" {
				return reason
			}
			if !ok {
				return ""
			}
		}
	}
}

// drain dispatches frames already buffered by a finished transport.
func (m *manager) drain(gen uint64, client Client) Reason {
	for {
		select {
		case msg := <-client.Messages():
			reason, ok := m.handleMessage(gen, msg)
			if reason != "" || !ok {
				return reason
			}
		default:
			return ""
		}
	}
}

// handleMessage decodes one frame and dispatches it. ok is false once the
// session is stale.
func (m *manager) handleMessage(gen uint64, msg TimestampedMessage) (Reason, bool) {
	var f Frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		m.logger.Debug("dropping malformed frame", "error", err, "size", len(msg.Data))
		return "", true
	}

	switch f.Event {
	case EventDisconnect:
		return ReasonServerDisconnect, true
	case EventConnect:
		return "", true
	}

	return "", m.dispatch(gen, func(h Handler) { h.OnFrame(f, msg.ReceivedAt) })
}

// dispatch calls fn unless the session generation has moved on.
func (m *manager) dispatch(gen uint64, fn func(Handler)) bool {
	m.mu.Lock()
	current := m.gen == gen
	m.mu.Unlock()
	if !current {
		return false
	}
	fn(m.handler)
	return true
}

func (m *manager) setState(gen uint64, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.state = s
	return true
}

func (m *manager) giveUp(gen uint64) {
	if !m.setState(gen, StateDisconnected) {
		return
	}
	m.logger.Error("reconnection failed, giving up", "attempts", m.cfg.ReconnectAttempts)
	m.dispatch(gen, func(h Handler) { h.OnReconnectFailed() })
}

// scheduleReconnect calls Reconnect after delay unless the session changes first.
func (m *manager) scheduleReconnect(gen uint64, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.serverTimer = time.AfterFunc(delay, func() {
		m.reconnect(gen)
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func closeClient(c Client) {
	if c != nil {
		c.Close()
	}
}
