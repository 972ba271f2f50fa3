// Package wire defines the message envelope exchanged between consumer
// ports and the shared multiplexer, and the payloads it carries.
package wire

import (
	"encoding/json"
	"time"

	"github.com/kbukum/noticemux/errors"
)

// Inbound envelope types (port → multiplexer).
const (
	TypeInit      = "init"
	TypeClose     = "close"
	TypeReconnect = "reconnect"
)

// Outbound envelope types (multiplexer → port).
const (
	TypeConnected   = "sse:connected"
	TypeClosed      = "sse:closed"
	TypeError       = "sse:error"
	TypeMessage     = "sse:message"
	TypeWorkerInfo  = "worker:info"
	TypeWorkerError = "worker:error"
)

// Envelope is the unit exchanged in both directions. Data is any
// JSON-serializable value; inbound upstream payloads are kept as
// json.RawMessage so they are forwarded without re-encoding.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is the decoded form of an envelope read from a network port.
// Data stays raw until the handler for Type decodes it.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusPayload accompanies sse:connected and sse:closed.
type StatusPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// WorkerInfoPayload is sent to late joiners so they observe the current
// state without waiting for the next event.
type WorkerInfoPayload struct {
	WorkerID  string `json:"workerId"`
	Connected bool   `json:"connected"`
	Ports     int    `json:"ports"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorInfo describes one error inside an error payload.
type ErrorInfo struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	EventType string `json:"eventType,omitempty"`
	RawData   string `json:"rawData,omitempty"`
}

// ErrorPayload accompanies sse:error and worker:error.
type ErrorPayload struct {
	Error     ErrorInfo `json:"error"`
	Timestamp int64     `json:"timestamp"`
}

// Now returns the current time in epoch milliseconds. Tests may replace it.
var Now = func() int64 { return time.Now().UnixMilli() }

// Status builds an sse:connected or sse:closed envelope.
func Status(connected bool) Envelope {
	typ := TypeClosed
	if connected {
		typ = TypeConnected
	}
	return Envelope{Type: typ, Data: StatusPayload{Timestamp: Now()}}
}

// WorkerInfo builds a worker:info envelope.
func WorkerInfo(workerID string, connected bool, ports int) Envelope {
	return Envelope{Type: TypeWorkerInfo, Data: WorkerInfoPayload{
		WorkerID:  workerID,
		Connected: connected,
		Ports:     ports,
		Timestamp: Now(),
	}}
}

// ErrorEnvelope converts an AppError into an envelope of the given type
// (TypeError or TypeWorkerError).
func ErrorEnvelope(typ string, err *errors.AppError) Envelope {
	return Envelope{Type: typ, Data: ErrorPayload{
		Error: ErrorInfo{
			Message:   err.Message,
			Type:      err.Kind(),
			EventType: err.Detail("eventType"),
			RawData:   err.Detail("rawData"),
		},
		Timestamp: Now(),
	}}
}

// AsError extracts an ErrorPayload from an envelope produced by
// ErrorEnvelope. It reports false for other envelopes.
func AsError(env Envelope) (ErrorPayload, bool) {
	p, ok := env.Data.(ErrorPayload)
	return p, ok
}

// DecodeInbound parses a JSON-encoded inbound envelope.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}
