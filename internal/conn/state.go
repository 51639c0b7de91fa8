package conn

import (
	"time"

	"github.com/cockroachdb/errors"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionFatal is returned by Connect once the initial attempt
	// budget is spent. The last attempt's error is kept in the chain.
	ErrConnectionFatal = errors.New("connection attempts exhausted")
	ErrClosed          = errors.New("connection manager closed")
	ErrBusy            = errors.New("connect already in progress")
)

// Event types published on the bus.
const (
	EventConnecting   = "conn.connecting"
	EventConnected    = "conn.connected"
	EventReconnected  = "conn.reconnected"
	EventDisconnected = "conn.disconnected"
	EventError        = "conn.error"
	EventFatal        = "conn.fatal"
	EventGaveUp       = "conn.gave_up"
	EventClosed       = "conn.closed"
)

// Transition is the payload of every conn.* event.
type Transition struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
	Err     string `json:"err,omitempty"`
}

// Policy controls retry and probing.
//
// Zero fields take defaults; a negative HealthInterval disables the
// scheduled probe (Probe can still be called directly).
type Policy struct {
	RetryInterval        time.Duration
	MaxAttempts          int
	ReconnectMaxAttempts int // 0 = retry until Disconnect
	HealthInterval       time.Duration
	PingTimeout          time.Duration
}

const (
	DefaultRetryInterval  = 3 * time.Second
	DefaultMaxAttempts    = 10000
	DefaultHealthInterval = 5 * time.Second
	DefaultPingTimeout    = 2 * time.Second
)

func (p Policy) withDefaults() Policy {
	if p.RetryInterval <= 0 {
		p.RetryInterval = DefaultRetryInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.ReconnectMaxAttempts < 0 {
		p.ReconnectMaxAttempts = 0
	}
	if p.HealthInterval == 0 {
		p.HealthInterval = DefaultHealthInterval
	}
	if p.PingTimeout <= 0 {
		p.PingTimeout = DefaultPingTimeout
	}
	return p
}
