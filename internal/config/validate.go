package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Realtime.validate(); err != nil {
		return err
	}

	if c.Notifications.LogCapacity < 1 {
		return errors.New("notifications.log_capacity must be >= 1")
	}
	if c.Notifications.AutoDismiss < 0 {
		return errors.New("notifications.auto_dismiss must be >= 0")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (r *RealtimeConfig) validate() error {
	if r.URL == "" {
		return errors.New("realtime.url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("realtime.url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("realtime.url scheme must be http, https, ws or wss, got %q", u.Scheme)
	}

	if len(r.Transports) == 0 {
		return errors.New("realtime.transports must not be empty")
	}
	for _, t := range r.Transports {
		if t != "polling" && t != "websocket" {
			return fmt.Errorf("realtime.transports: unknown transport %q", t)
		}
	}

	if r.ReconnectAttempts < 0 {
		return errors.New("realtime.reconnect_attempts must be >= 0")
	}
	if r.ReconnectDelay <= 0 {
		return errors.New("realtime.reconnect_delay must be > 0")
	}
	if r.ReconnectDelayMax < r.ReconnectDelay {
		return fmt.Errorf("realtime.reconnect_delay_max (%s) cannot be less than reconnect_delay (%s)",
			r.ReconnectDelayMax, r.ReconnectDelay)
	}
	if r.RandomizationFactor < 0 || r.RandomizationFactor > 1 {
		return fmt.Errorf("realtime.randomization_factor must be between 0 and 1, got %v", r.RandomizationFactor)
	}
	if r.PingTimeout <= r.PingInterval {
		return fmt.Errorf("realtime.ping_timeout (%s) must exceed ping_interval (%s)", r.PingTimeout, r.PingInterval)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
