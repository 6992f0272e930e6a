package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrServerClosed     = errors.New("server closed the connection")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrInvalidURL       = errors.New("invalid server url")
)

// Transport names.
const (
	TransportPolling   = "polling"
	TransportWebSocket = "websocket"
)

// Frame events exchanged with the server.
const (
	EventConnect      = "connect"      // server → client, carries {"sid": ...}
	EventDisconnect   = "disconnect"   // server → client, session ended by the server
	EventNotification = "notification" // server → client, carries {type, data}
	EventUserOnline   = "user_online"  // client → server, sent after each connect
)

// Frame is the {"event", "data"} wire message carried in text frames.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an event with an optional payload.
func EncodeFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when the transport read the frame
}

// handshake is the polling handshake response, also the payload of a websocket connect frame.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades,omitempty"`
	PingInterval int64    `json:"pingInterval,omitempty"` // milliseconds
	PingTimeout  int64    `json:"pingTimeout,omitempty"`  // milliseconds
}

// ClientConfig configures a single transport.
type ClientConfig struct {
	URL              string        // Base server URL (http, https, ws or wss)
	Token            string        // Bearer token
	SID              string        // Existing session to attach to (upgrade only)
	UserAgent        string        // User-Agent header
	PingInterval     time.Duration // Expected server ping cadence
	PingTimeout      time.Duration // Max time without ping before considering connection stale
	HandshakeTimeout time.Duration // Dial/handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		HandshakeTimeout: 20 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL        string   // Base server URL
	Transports []string // Dial order; the first entry is used, later ones are upgrade targets
	Upgrade    bool     // Upgrade polling to websocket when the server offers it
	UserAgent  string

	Reconnection          bool          // Reconnect automatically after transport errors
	ReconnectAttempts     int           // Attempts before giving up (0 = unlimited)
	ReconnectDelay        time.Duration // First retry delay
	ReconnectDelayMax     time.Duration // Cap for the growing delay
	RandomizationFactor   float64       // Jitter as a fraction of the delay, 0 to 1
	ServerDisconnectDelay time.Duration // Delay before Reconnect after a server-initiated disconnect

	Client ClientConfig // Per-transport timeouts and buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Transports:            []string{TransportPolling, TransportWebSocket},
		Upgrade:               true,
		Reconnection:          true,
		ReconnectAttempts:     5,
		ReconnectDelay:        1 * time.Second,
		ReconnectDelayMax:     5 * time.Second,
		RandomizationFactor:   0.5,
		ServerDisconnectDelay: 1 * time.Second,
		Client:                DefaultClientConfig(),
	}
}

// State is the lifecycle state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Reason explains why a session left the connected state.
type Reason string

const (
	ReasonServerDisconnect Reason = "io server disconnect"
	ReasonClientDisconnect Reason = "io client disconnect"
	ReasonTransportError   Reason = "transport error"
)

// Status is a point-in-time view of the session.
type Status struct {
	Connected         bool   `json:"connected"`
	ID                string `json:"id,omitempty"`
	Transport         string `json:"transport,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	State             State  `json:"state"`

	// ReconnectPending is set while a reconnect after a server disconnect is scheduled.
	ReconnectPending bool `json:"reconnect_pending,omitempty"`
}

// Handler receives session events. Calls for one session happen on a single
// goroutine, in order.
type Handler interface {
	OnConnect(st Status)
	OnDisconnect(reason Reason)
	OnFrame(f Frame, receivedAt time.Time)
	OnError(err *DialError)
	OnReconnectAttempt(attempt int)
	OnReconnectFailed()
}

// NopHandler implements Handler with no-ops. Embed it to override a subset.
type NopHandler struct{}

func (NopHandler) OnConnect(Status)         {}
func (NopHandler) OnDisconnect(Reason)      {}
func (NopHandler) OnFrame(Frame, time.Time) {}
func (NopHandler) OnError(*DialError)       {}
func (NopHandler) OnReconnectAttempt(int)   {}
func (NopHandler) OnReconnectFailed()       {}
