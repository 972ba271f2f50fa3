package mux

import (
	"time"

	"github.com/kbukum/noticemux/wire"
)

// State is the lifecycle state of the shared connection.
type State int

const (
	// StateUninitialized means no endpoint is configured.
	StateUninitialized State = iota
	// StateConnecting means a stream was dialed and has not opened yet.
	StateConnecting
	// StateOpen means the stream is delivering events.
	StateOpen
	// StateError means the last stream failed; a reopen may be scheduled.
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// mergedOptions is the canonical configuration of the shared connection.
// The endpoint is fixed by the first registrant; later compatible
// registrants can only lower the retry interval and enable auto-reconnect.
type mergedOptions struct {
	endpoint      wire.Endpoint
	retryInterval time.Duration
	autoReconnect bool
}

func newMergedOptions(o wire.Options) *mergedOptions {
	return &mergedOptions{
		endpoint:      o.Endpoint(),
		retryInterval: o.RetryInterval,
		autoReconnect: o.AutoReconnect,
	}
}

func (m *mergedOptions) merge(o wire.Options) {
	if o.RetryInterval < m.retryInterval {
		m.retryInterval = o.RetryInterval
	}
	m.autoReconnect = m.autoReconnect || o.AutoReconnect
}

// MergedOptions is the exported view of the canonical configuration.
type MergedOptions struct {
	URL             string        `json:"url"`
	WithCredentials bool          `json:"withCredentials"`
	RetryInterval   time.Duration `json:"retryInterval"`
	AutoReconnect   bool          `json:"autoReconnect"`
}

// Status is a point-in-time view of a multiplexer.
type Status struct {
	Name      string `json:"name"`
	WorkerID  string `json:"workerId"`
	State     State  `json:"state"`
	Connected bool   `json:"connected"`
	Ports     int    `json:"ports"`
	// Initialized counts ports that have sent a successful init.
	Initialized int            `json:"initialized"`
	Options     *MergedOptions `json:"options,omitempty"`
	Events      []string       `json:"events,omitempty"`
	// ReconnectPending reports a scheduled reopen.
	ReconnectPending bool `json:"reconnectPending"`
	// ServerRetry is the last retry hint sent by the upstream. The reopen
	// delay still follows the merged retry interval.
	ServerRetry time.Duration `json:"serverRetry,omitempty"`
}
