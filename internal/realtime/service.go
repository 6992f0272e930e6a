package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/repairlink/internal/config"
	"github.com/rickgao/repairlink/internal/connection"
	"github.com/rickgao/repairlink/internal/listener"
	"github.com/rickgao/repairlink/internal/model"
	"github.com/rickgao/repairlink/internal/notification"
	"github.com/rickgao/repairlink/internal/version"
)

// Connection event states that are not connection.State values.
const (
	StateError           = "error"
	StateReconnectFailed = "reconnect_failed"
)

// Presenter renders notifications and connection problems.
type Presenter interface {
	Present(ctx context.Context, n model.Notification)
	ConnectionError(ctx context.Context, class connection.ErrorClass)
	ReconnectFailed(ctx context.Context)
}

// Options configures a Service.
type Options struct {
	Connection  connection.ManagerConfig
	LogCapacity int       // Notification log size (0 = notification.DefaultCapacity)
	Presenter   Presenter // nil disables rendering
	Logger      *slog.Logger

	ManagerOptions []connection.Option
}

// Service is the real-time notification service. All methods are safe for
// concurrent use.
type Service struct {
	manager   connection.Manager
	store     *notification.Store
	listeners *listener.Registry
	presenter Presenter
	logger    *slog.Logger
}

// New creates a Service. It does not connect.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}

	s := &Service{
		store:     notification.NewStore(opts.LogCapacity),
		listeners: listener.NewRegistry(opts.Logger.With("component", "listeners")),
		presenter: opts.Presenter,
		logger:    opts.Logger.With("component", "realtime"),
	}
	s.manager = connection.NewManager(opts.Connection, (*events)(s), opts.Logger, opts.ManagerOptions...)
	return s
}

// NewFromConfig creates a Service from loaded configuration.
func NewFromConfig(cfg *config.Config, p Presenter, logger *slog.Logger) *Service {
	return New(Options{
		Connection:  ManagerConfig(cfg.Realtime),
		LogCapacity: cfg.Notifications.LogCapacity,
		Presenter:   p,
		Logger:      logger,
	})
}

// ManagerConfig translates the realtime config section into a connection.ManagerConfig.
// Zero values keep the connection package defaults.
func ManagerConfig(rc config.RealtimeConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.URL = rc.URL
	mc.UserAgent = version.UserAgent()
	if len(rc.Transports) > 0 {
		mc.Transports = rc.Transports
	}
	mc.Upgrade = rc.UpgradeEnabled()
	mc.Reconnection = rc.ReconnectionEnabled()
	mc.ReconnectAttempts = rc.ReconnectAttempts
	if rc.ReconnectDelay > 0 {
		mc.ReconnectDelay = rc.ReconnectDelay
	}
	if rc.ReconnectDelayMax > 0 {
		mc.ReconnectDelayMax = rc.ReconnectDelayMax
	}
	mc.RandomizationFactor = rc.RandomizationFactor
	if rc.ServerDisconnectDelay > 0 {
		mc.ServerDisconnectDelay = rc.ServerDisconnectDelay
	}

	mc.Client.URL = rc.URL
	mc.Client.UserAgent = mc.UserAgent
	if rc.PingInterval > 0 {
		mc.Client.PingInterval = rc.PingInterval
	}
	if rc.PingTimeout > 0 {
		mc.Client.PingTimeout = rc.PingTimeout
	}
	if rc.HandshakeTimeout > 0 {
		mc.Client.HandshakeTimeout = rc.HandshakeTimeout
	}
	if rc.WriteTimeout > 0 {
		mc.Client.WriteTimeout = rc.WriteTimeout
	}
	return mc
}

// Connect opens a session authenticated with token, replacing any prior
// session. It returns the current transport handle without reconnecting
// when already connected. The transport opens in the background; failures are
// reported through "connection" events and the Presenter.
func (s *Service) Connect(token string) (connection.Client, error) {
	client, err := s.manager.Connect(token)
	if err != nil {
		return nil, fmt.Errorf("realtime connect: %w", err)
	}
	return client, nil
}

// Disconnect closes the session and cancels any scheduled reconnect.
// Calling it again is a no-op.
func (s *Service) Disconnect() {
	s.manager.Disconnect()
}

// Reconnect re-opens the last session if it is disconnected.
func (s *Service) Reconnect() {
	s.manager.Reconnect()
}

// AddListener registers fn for every event and returns a func that removes it.
func (s *Service) AddListener(fn listener.Func) (unsubscribe func()) {
	return s.listeners.Add(fn)
}

// GetNotifications returns a newest-first copy of the notification log.
func (s *Service) GetNotifications() []model.Notification {
	return s.store.Notifications()
}

// GetUnreadCount returns the number of unread notifications.
func (s *Service) GetUnreadCount() int {
	return s.store.UnreadCount()
}

// MarkAsRead marks the notification with id as read. Unknown ids are ignored
// and notify nobody.
func (s *Service) MarkAsRead(id string) bool {
	if !s.store.MarkAsRead(id) {
		return false
	}
	s.emitNotifications()
	return true
}

// MarkAllAsRead marks every notification as read.
func (s *Service) MarkAllAsRead() {
	n := s.store.MarkAllAsRead()
	s.logger.Debug("marked all as read", "count", n)
	s.emitNotifications()
}

// ClearNotifications empties the notification log.
func (s *Service) ClearNotifications() {
	s.store.Clear()
	s.emitNotifications()
}

// IsUserOnline reports whether a transport is currently open.
func (s *Service) IsUserOnline() bool {
	return s.manager.Status().Connected
}

// GetConnectionStatus returns the current session status.
func (s *Service) GetConnectionStatus() connection.Status {
	return s.manager.Status()
}

func (s *Service) emitNotifications() {
	s.listeners.Emit(listener.Event{
		Name:        listener.EventNotifications,
		UnreadCount: s.store.UnreadCount(),
	})
}

func (s *Service) emitConnection(change listener.ConnectionChange) {
	s.listeners.Emit(listener.Event{
		Name:        listener.EventConnection,
		Connection:  &change,
		UnreadCount: s.store.UnreadCount(),
	})
}

type nopPresenter struct{}

func (nopPresenter) Present(context.Context, model.Notification)            {}
func (nopPresenter) ConnectionError(context.Context, connection.ErrorClass) {}
func (nopPresenter) ReconnectFailed(context.Context)                        {}
