package config

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for a repairlink client.
type Config struct {
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Log           LogConfig           `yaml:"log"`
}

// RealtimeConfig holds notification server connection settings.
type RealtimeConfig struct {
	URL        string   `yaml:"url" env:"REPAIRLINK_URL"`     // Base URL, e.g. https://api.repairlink.pk/realtime
	Token      string   `yaml:"token" env:"REPAIRLINK_TOKEN"` // Bearer token sent as the auth payload
	Transports []string `yaml:"transports" env:"REPAIRLINK_TRANSPORTS" envSeparator:","`
	Upgrade    *bool    `yaml:"upgrade"` // Upgrade polling to websocket when offered

	Reconnection          *bool         `yaml:"reconnection"`
	ReconnectAttempts     int           `yaml:"reconnect_attempts" env:"REPAIRLINK_RECONNECT_ATTEMPTS"`
	ReconnectDelay        time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax     time.Duration `yaml:"reconnect_delay_max"`
	RandomizationFactor   float64       `yaml:"randomization_factor"`
	ServerDisconnectDelay time.Duration `yaml:"server_disconnect_delay"`

	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// NotificationsConfig holds notification log and presenter settings.
type NotificationsConfig struct {
	LogCapacity int           `yaml:"log_capacity"`
	Desktop     *bool         `yaml:"desktop"` // Show OS-level notifications
	Sound       *bool         `yaml:"sound"`   // Play audio cues
	AutoDismiss time.Duration `yaml:"auto_dismiss"`
	JobBoardURL string        `yaml:"job_board_url" env:"REPAIRLINK_JOB_BOARD_URL"`
	AppName     string        `yaml:"app_name"`
	Sounds      SoundsConfig  `yaml:"sounds"`
}

// SoundsConfig maps audio cues to files. Empty paths fall back to the terminal bell.
type SoundsConfig struct {
	Notification string `yaml:"notification" env:"REPAIRLINK_SOUND_NOTIFICATION"`
	Success      string `yaml:"success" env:"REPAIRLINK_SOUND_SUCCESS"`
}

// ArchiveConfig holds settings for persisting notifications to PostgreSQL.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled" env:"REPAIRLINK_ARCHIVE_ENABLED"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" env:"REPAIRLINK_DB_HOST"`
	Port     int    `yaml:"port" env:"REPAIRLINK_DB_PORT"`
	Name     string `yaml:"name" env:"REPAIRLINK_DB_NAME"`
	User     string `yaml:"user" env:"REPAIRLINK_DB_USER"`
	Password string `yaml:"password" env:"REPAIRLINK_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"REPAIRLINK_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"REPAIRLINK_LOG_FORMAT"` // text or json
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// UpgradeEnabled reports whether transport upgrade is on.
func (r RealtimeConfig) UpgradeEnabled() bool {
	return r.Upgrade == nil || *r.Upgrade
}

// ReconnectionEnabled reports whether automatic reconnection is on.
func (r RealtimeConfig) ReconnectionEnabled() bool {
	return r.Reconnection == nil || *r.Reconnection
}

// DesktopEnabled reports whether OS notifications are on.
func (n NotificationsConfig) DesktopEnabled() bool {
	return n.Desktop == nil || *n.Desktop
}

// SoundEnabled reports whether audio cues are on.
func (n NotificationsConfig) SoundEnabled() bool {
	return n.Sound == nil || *n.Sound
}
