package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectAttempts     = 5
	DefaultReconnectDelay        = 1 * time.Second
	DefaultReconnectDelayMax     = 5 * time.Second
	DefaultRandomizationFactor   = 0.5
	DefaultServerDisconnectDelay = 1 * time.Second
	DefaultPingInterval          = 25 * time.Second
	DefaultPingTimeout           = 60 * time.Second
	DefaultHandshakeTimeout      = 20 * time.Second
	DefaultWriteTimeout          = 5 * time.Second
	DefaultLogCapacity           = 50
	DefaultAutoDismiss           = 10 * time.Second
	DefaultJobBoardURL           = "https://repairlink.pk/repairman/jobs"
	DefaultAppName               = "RepairLink"
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 4
	DefaultMinConns              = 1
	DefaultBatchSize             = 100
	DefaultFlushInterval         = 2 * time.Second
	DefaultBufferSize            = 256
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

// DefaultTransports starts on the most compatible transport and upgrades later.
var DefaultTransports = []string{"polling", "websocket"}

func (c *Config) applyDefaults() {
	// Realtime defaults
	if len(c.Realtime.Transports) == 0 {
		c.Realtime.Transports = append([]string(nil), DefaultTransports...)
	}
	if c.Realtime.Upgrade == nil {
		c.Realtime.Upgrade = boolPtr(true)
	}
	if c.Realtime.Reconnection == nil {
		c.Realtime.Reconnection = boolPtr(true)
	}
	if c.Realtime.ReconnectAttempts == 0 {
		c.Realtime.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Realtime.ReconnectDelayMax == 0 {
		c.Realtime.ReconnectDelayMax = DefaultReconnectDelayMax
	}
	if c.Realtime.RandomizationFactor == 0 {
		c.Realtime.RandomizationFactor = DefaultRandomizationFactor
	}
	if c.Realtime.ServerDisconnectDelay == 0 {
		c.Realtime.ServerDisconnectDelay = DefaultServerDisconnectDelay
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultPingInterval
	}
	if c.Realtime.PingTimeout == 0 {
		c.Realtime.PingTimeout = DefaultPingTimeout
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}

	// Notifications defaults
	if c.Notifications.LogCapacity == 0 {
		c.Notifications.LogCapacity = DefaultLogCapacity
	}
	if c.Notifications.Desktop == nil {
		c.Notifications.Desktop = boolPtr(true)
	}
	if c.Notifications.Sound == nil {
		c.Notifications.Sound = boolPtr(true)
	}
	if c.Notifications.AutoDismiss == 0 {
		c.Notifications.AutoDismiss = DefaultAutoDismiss
	}
	if c.Notifications.JobBoardURL == "" {
		c.Notifications.JobBoardURL = DefaultJobBoardURL
	}
	if c.Notifications.AppName == "" {
		c.Notifications.AppName = DefaultAppName
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func boolPtr(b bool) *bool {
	return &b
}
