package realtime

import (
	"context"
	"time"

	"github.com/rickgao/repairlink/internal/connection"
	"github.com/rickgao/repairlink/internal/listener"
	"github.com/rickgao/repairlink/internal/model"
)

// events adapts a Service to connection.Handler without exporting the
// callbacks on Service itself. Calls arrive on the session goroutine.
type events Service

var _ connection.Handler = (*events)(nil)

func (e *events) service() *Service { return (*Service)(e) }

func (e *events) OnConnect(st connection.Status) {
	s := e.service()
	s.logger.Info("connected", "sid", st.ID, "transport", st.Transport)
	s.emitConnection(listener.ConnectionChange{
		State:     string(connection.StateConnected),
		Transport: st.Transport,
	})
}

func (e *events) OnDisconnect(reason connection.Reason) {
	s := e.service()
	s.logger.Info("disconnected", "reason", reason)
	s.emitConnection(listener.ConnectionChange{
		State:  string(connection.StateDisconnected),
		Reason: string(reason),
	})
}

// OnFrame routes inbound frames. Only "notification" frames carry envelopes;
// the rest are logged and dropped.
func (e *events) OnFrame(f connection.Frame, receivedAt time.Time) {
	s := e.service()
	if f.Event != connection.EventNotification {
		s.logger.Debug("ignoring frame", "event", f.Event)
		return
	}

	env := model.DecodeEnvelope(f.Data)
	n := model.NewNotification(env, receivedAt)
	if n.Kind == model.KindGeneric && env.Type != "" {
		s.logger.Debug("unrecognized notification type", "type", env.Type)
	}

	if evicted := s.store.Add(n); evicted {
		s.logger.Debug("notification log full, evicted oldest", "capacity", s.store.Cap())
	}
	s.presenter.Present(context.Background(), n)

	s.listeners.Emit(listener.Event{
		Name:         listener.EventNotification,
		Envelope:     &env,
		Notification: &n,
		UnreadCount:  s.store.UnreadCount(),
	})
}

func (e *events) OnError(err *connection.DialError) {
	s := e.service()
	s.logger.Warn("connection error", "class", err.Class, "transport", err.Transport, "error", err.Err)
	s.presenter.ConnectionError(context.Background(), err.Class)
	s.emitConnection(listener.ConnectionChange{
		State:     StateError,
		Reason:    string(err.Class),
		Transport: err.Transport,
	})
}

func (e *events) OnReconnectAttempt(attempt int) {
	s := e.service()
	s.logger.Info("reconnecting", "attempt", attempt)
	s.emitConnection(listener.ConnectionChange{
		State:   string(connection.StateReconnecting),
		Attempt: attempt,
	})
}

func (e *events) OnReconnectFailed() {
	s := e.service()
	s.logger.Error("giving up on reconnect")
	s.presenter.ReconnectFailed(context.Background())
	s.emitConnection(listener.ConnectionChange{
		State: StateReconnectFailed,
	})
}
