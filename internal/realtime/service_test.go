package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/repairlink/internal/config"
	"github.com/rickgao/repairlink/internal/connection"
	"github.com/rickgao/repairlink/internal/connection/conntest"
	"github.com/rickgao/repairlink/internal/listener"
	"github.com/rickgao/repairlink/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenter struct {
	mu              sync.Mutex
	presented       []model.Notification
	classes         []connection.ErrorClass
	reconnectFailed int
}

func (p *fakePresenter) Present(_ context.Context, n model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presented = append(p.presented, n)
}

func (p *fakePresenter) ConnectionError(_ context.Context, class connection.ErrorClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classes = append(p.classes, class)
}

func (p *fakePresenter) ReconnectFailed(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnectFailed++
}

func (p *fakePresenter) presentedKinds() []model.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]model.Kind, 0, len(p.presented))
	for _, n := range p.presented {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func testConnectionConfig(u string) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.URL = u
	cfg.Transports = []string{connection.TransportWebSocket}
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ReconnectDelayMax = 20 * time.Millisecond
	cfg.RandomizationFactor = 0
	cfg.ServerDisconnectDelay = 10 * time.Millisecond
	cfg.Client.URL = u
	cfg.Client.HandshakeTimeout = 2 * time.Second
	return cfg
}

func newTestService(t *testing.T, u string) (*Service, *fakePresenter, chan listener.Event) {
	t.Helper()
	p := &fakePresenter{}
	svc := New(Options{Connection: testConnectionConfig(u), Presenter: p})
	t.Cleanup(svc.Disconnect)

	ch := make(chan listener.Event, 256)
	svc.AddListener(func(ev listener.Event) { ch <- ev })
	return svc, p, ch
}

// waitFor returns the first event that satisfies match, skipping the rest.
func waitFor(t *testing.T, ch chan listener.Event, what string, match func(listener.Event) bool) listener.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", what)
		}
	}
}

func connectionState(state string) func(listener.Event) bool {
	return func(ev listener.Event) bool {
		return ev.Name == listener.EventConnection && ev.Connection.State == state
	}
}

func isNotification(ev listener.Event) bool {
	return ev.Name == listener.EventNotification
}

func notificationFrame(t *testing.T, env any) connection.Frame {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return connection.Frame{Event: connection.EventNotification, Data: data}
}

func TestService_ConnectWithToken(t *testing.T) {
	t.Parallel()

	server := conntest.NewServer(t)
	svc, _, got := newTestService(t, server.URL)

	client, err := svc.Connect("abc123")
	require.NoError(t, err)
	require.NotNil(t, client)

	ev := waitFor(t, got, "connected", connectionState(string(connection.StateConnected)))
	assert.Equal(t, connection.TransportWebSocket, ev.Connection.Transport)

	st := svc.GetConnectionStatus()
	assert.True(t, st.Connected)
	assert.True(t, svc.IsUserOnline())
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, []string{"abc123"}, server.Tokens())
	assert.True(t, server.WaitReceived(connection.EventUserOnline, time.Second), "user_online not announced")
}

func TestService_NewJobNotification(t *testing.T) {
	t.Parallel()

	server := conntest.NewServer(t)
	svc, p, got := newTestService(t, server.URL)

	_, err := svc.Connect("abc123")
	require.NoError(t, err)
	waitFor(t, got, "connected", connectionState(string(connection.StateConnected)))

	server.Push(connection.EventNotification, map[string]any{
		"type": "new_job",
		"data": map[string]any{
			"deviceInfo": map[string]string{"brand": "Apple", "model": "iPhone 14"},
			"budget":     map[string]int{"min": 8000, "max": 12000},
			"location":   map[string]string{"city": "Lahore"},
		},
	})

	ev := waitFor(t, got, "notification", isNotification)
	require.NotNil(t, ev.Envelope)
	require.NotNil(t, ev.Notification)
	assert.Equal(t, "new_job", ev.Envelope.Type)
	assert.Equal(t, model.KindNewJob, ev.Notification.Kind)
	assert.Equal(t, 1, ev.UnreadCount)

	log := svc.GetNotifications()
	require.Len(t, log, 1)
	assert.Equal(t, model.KindNewJob, log[0].Kind)
	assert.False(t, log[0].Read)
	assert.Equal(t, 1, svc.GetUnreadCount())
	assert.Equal(t, []model.Kind{model.KindNewJob}, p.presentedKinds())
}

func TestService_UnknownTypeIsGeneric(t *testing.T) {
	t.Parallel()

	svc, p, got := newTestService(t, "http://127.0.0.1:1")
	(*events)(svc).OnFrame(notificationFrame(t, map[string]any{"type": "unknown_thing", "data": map[string]any{}}), time.Now())

	ev := waitFor(t, got, "notification", isNotification)
	assert.Equal(t, model.KindGeneric, ev.Notification.Kind)
	assert.Equal(t, "unknown_thing", ev.Notification.Envelope.Type)

	require.Len(t, svc.GetNotifications(), 1)
	assert.Equal(t, model.KindGeneric, svc.GetNotifications()[0].Kind)
	assert.Equal(t, []model.Kind{model.KindGeneric}, p.presentedKinds())
}

func TestService_MalformedEnvelopeIsRecorded(t *testing.T) {
	t.Parallel()

	svc, _, got := newTestService(t, "http://127.0.0.1:1")
	(*events)(svc).OnFrame(connection.Frame{Event: connection.EventNotification, Data: json.RawMessage(`"hello"`)}, time.Now())

	ev := waitFor(t, got, "notification", isNotification)
	assert.Equal(t, model.KindGeneric, ev.Notification.Kind)
	assert.Len(t, svc.GetNotifications(), 1)
}

func TestService_IgnoresOtherFrames(t *testing.T) {
	t.Parallel()

	svc, p, got := newTestService(t, "http://127.0.0.1:1")
	(*events)(svc).OnFrame(connection.Frame{Event: "typing", Data: json.RawMessage(`{}`)}, time.Now())

	assert.Empty(t, svc.GetNotifications())
	assert.Empty(t, p.presentedKinds())
	assert.Empty(t, got)
}

func TestService_LogCapacity(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, "http://127.0.0.1:1")
	for i := 0; i < 60; i++ {
		f := notificationFrame(t, map[string]any{"type": "new_job", "data": map[string]string{"id": fmt.Sprintf("n-%d", i)}})
		(*events)(svc).OnFrame(f, time.Now())
	}

	log := svc.GetNotifications()
	require.Len(t, log, 50)
	assert.Equal(t, "n-59", log[0].ID, "newest first")
	assert.Equal(t, "n-10", log[49].ID, "oldest retained")
	assert.Equal(t, 50, svc.GetUnreadCount())
}

func TestService_MarkAsRead(t *testing.T) {
	t.Parallel()

	svc, _, got := newTestService(t, "http://127.0.0.1:1")
	for _, id := range []string{"a", "b"} {
		(*events)(svc).OnFrame(notificationFrame(t, map[string]any{"type": "offer_rejected", "data": map[string]string{"id": id}}), time.Now())
	}
	waitFor(t, got, "notification a", isNotification)
	waitFor(t, got, "notification b", isNotification)

	assert.False(t, svc.MarkAsRead("missing"))
	assert.Empty(t, got, "unknown id must not notify")
	assert.Len(t, svc.GetNotifications(), 2)
	assert.Equal(t, 2, svc.GetUnreadCount())

	assert.True(t, svc.MarkAsRead("a"))
	ev := waitFor(t, got, "notifications", func(ev listener.Event) bool { return ev.Name == listener.EventNotifications })
	assert.Equal(t, 1, ev.UnreadCount)
	assert.Empty(t, got, "exactly one event per mutation")

	for _, n := range svc.GetNotifications() {
		assert.Equal(t, n.ID == "a", n.Read, "read state of %s", n.ID)
	}
}

func TestService_MarkAllAsReadAndClear(t *testing.T) {
	t.Parallel()

	svc, _, got := newTestService(t, "http://127.0.0.1:1")
	for i := 0; i < 3; i++ {
		(*events)(svc).OnFrame(notificationFrame(t, map[string]any{"type": "new_job"}), time.Now())
		waitFor(t, got, "notification", isNotification)
	}

	svc.MarkAllAsRead()
	ev := waitFor(t, got, "notifications", func(ev listener.Event) bool { return ev.Name == listener.EventNotifications })
	assert.Equal(t, 0, ev.UnreadCount)
	assert.Equal(t, 0, svc.GetUnreadCount())
	assert.Empty(t, got)

	svc.ClearNotifications()
	waitFor(t, got, "notifications", func(ev listener.Event) bool { return ev.Name == listener.EventNotifications })
	assert.Empty(t, svc.GetNotifications())
	assert.Empty(t, got)
}

func TestService_PanickingListenerIsIsolated(t *testing.T) {
	t.Parallel()

	svc := New(Options{Connection: testConnectionConfig("http://127.0.0.1:1")})
	svc.AddListener(func(listener.Event) { panic("boom") })

	got := make(chan listener.Event, 4)
	svc.AddListener(func(ev listener.Event) { got <- ev })

	svc.MarkAllAsRead()
	ev := waitFor(t, got, "event after panic", func(listener.Event) bool { return true })
	assert.Equal(t, listener.EventNotifications, ev.Name)
}

func TestService_Unsubscribe(t *testing.T) {
	t.Parallel()

	svc, _, got := newTestService(t, "http://127.0.0.1:1")
	other := make(chan listener.Event, 4)
	unsubscribe := svc.AddListener(func(ev listener.Event) { other <- ev })
	unsubscribe()
	unsubscribe()

	svc.ClearNotifications()
	waitFor(t, got, "notifications", func(listener.Event) bool { return true })
	assert.Empty(t, other)
}

func TestService_DisconnectTwice(t *testing.T) {
	t.Parallel()

	server := conntest.NewServer(t)
	svc, _, got := newTestService(t, server.URL)

	_, err := svc.Connect("abc123")
	require.NoError(t, err)
	waitFor(t, got, "connected", connectionState(string(connection.StateConnected)))

	svc.Disconnect()
	assert.False(t, svc.GetConnectionStatus().Connected)
	ev := waitFor(t, got, "disconnected", connectionState(string(connection.StateDisconnected)))
	assert.Equal(t, string(connection.ReasonClientDisconnect), ev.Connection.Reason)

	svc.Disconnect()
	assert.False(t, svc.GetConnectionStatus().Connected)
	assert.False(t, svc.IsUserOnline())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got, "second Disconnect must be a no-op")
}

func TestService_ServerDisconnectReconnects(t *testing.T) {
	t.Parallel()

	server := conntest.NewServer(t)
	svc, _, got := newTestService(t, server.URL)

	statusAtDisconnect := make(chan connection.Status, 1)
	svc.AddListener(func(ev listener.Event) {
		if ev.Name == listener.EventConnection && ev.Connection.State == string(connection.StateDisconnected) {
			select {
			case statusAtDisconnect <- svc.GetConnectionStatus():
			default:
			}
		}
	})

	_, err := svc.Connect("abc123")
	require.NoError(t, err)
	waitFor(t, got, "connected", connectionState(string(connection.StateConnected)))

	server.Kick()

	ev := waitFor(t, got, "disconnected", connectionState(string(connection.StateDisconnected)))
	assert.Equal(t, string(connection.ReasonServerDisconnect), ev.Connection.Reason)

	st := <-statusAtDisconnect
	assert.False(t, st.Connected)
	assert.Equal(t, connection.StateDisconnected, st.State)

	ev = waitFor(t, got, "reconnect attempt", connectionState(string(connection.StateReconnecting)))
	assert.Equal(t, 1, ev.Connection.Attempt)

	waitFor(t, got, "reconnected", connectionState(string(connection.StateConnected)))
	st = svc.GetConnectionStatus()
	assert.True(t, st.Connected)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, 2, server.Sessions())
}

func TestService_ConnectionErrorIsPresented(t *testing.T) {
	t.Parallel()

	svc, p, got := newTestService(t, "http://127.0.0.1:1")
	(*events)(svc).OnError(&connection.DialError{Class: connection.ErrorTimeout, Transport: connection.TransportPolling})

	ev := waitFor(t, got, "error", connectionState(StateError))
	assert.Equal(t, string(connection.ErrorTimeout), ev.Connection.Reason)

	(*events)(svc).OnReconnectFailed()
	waitFor(t, got, "reconnect failed", connectionState(StateReconnectFailed))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []connection.ErrorClass{connection.ErrorTimeout}, p.classes)
	assert.Equal(t, 1, p.reconnectFailed)
}

func TestService_ConnectAfterReconnectFailed(t *testing.T) {
	t.Parallel()

	server := conntest.NewServer(t)
	server.SetHandshakeStatus(http.StatusServiceUnavailable)

	cfg := testConnectionConfig(server.URL)
	cfg.ReconnectAttempts = 2
	p := &fakePresenter{}
	svc := New(Options{Connection: cfg, Presenter: p})
	t.Cleanup(svc.Disconnect)

	got := make(chan listener.Event, 256)
	svc.AddListener(func(ev listener.Event) { got <- ev })

	_, err := svc.Connect("abc123")
	require.NoError(t, err)
	waitFor(t, got, "reconnect failed", connectionState(StateReconnectFailed))

	st := svc.GetConnectionStatus()
	assert.False(t, st.Connected)
	assert.Equal(t, 2, st.ReconnectAttempts)

	server.SetHandshakeStatus(0)
	_, err = svc.Connect("abc123")
	require.NoError(t, err)
	waitFor(t, got, "connected", connectionState(string(connection.StateConnected)))

	st = svc.GetConnectionStatus()
	assert.True(t, st.Connected)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, "sid-1", st.ID)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.reconnectFailed)
}

func TestService_ConnectInvalidURL(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, "ftp://example.com")
	client, err := svc.Connect("abc123")
	assert.Error(t, err)
	assert.ErrorIs(t, err, connection.ErrInvalidURL)
	assert.Nil(t, client)
	assert.False(t, svc.IsUserOnline())
}

func TestManagerConfig(t *testing.T) {
	t.Parallel()

	mc := ManagerConfig(config.RealtimeConfig{URL: "https://api.repairlink.pk/realtime"})
	assert.Equal(t, "https://api.repairlink.pk/realtime", mc.URL)
	assert.Equal(t, mc.URL, mc.Client.URL)
	assert.Equal(t, []string{connection.TransportPolling, connection.TransportWebSocket}, mc.Transports)
	assert.True(t, mc.Upgrade)
	assert.True(t, mc.Reconnection)
	assert.Equal(t, time.Second, mc.ReconnectDelay)
	assert.Equal(t, 25*time.Second, mc.Client.PingInterval)
	assert.Contains(t, mc.UserAgent, "repairlink-notifyd/")

	off := false
	rc := config.RealtimeConfig{
		URL:               "wss://rt.example",
		Transports:        []string{connection.TransportWebSocket},
		Reconnection:      &off,
		ReconnectAttempts: 3,
		PingInterval:      5 * time.Second,
	}
	mc = ManagerConfig(rc)
	assert.Equal(t, []string{connection.TransportWebSocket}, mc.Transports)
	assert.False(t, mc.Reconnection)
	assert.Equal(t, 3, mc.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, mc.Client.PingInterval)
}
