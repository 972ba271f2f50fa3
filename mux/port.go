package mux

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/noticemux/wire"
)

var (
	// ErrPortFull is returned by Send when the consumer is not draining its buffer.
	ErrPortFull = errors.New("mux: port buffer full")
	// ErrPortClosed is returned by Send after Close.
	ErrPortClosed = errors.New("mux: port closed")
)

// DefaultPortBuffer is the envelope buffer of a ChanPort.
const DefaultPortBuffer = 256

// Port is the multiplexer's handle on one consumer. Send must not block;
// an error detaches the port.
type Port interface {
	ID() string
	Send(env wire.Envelope) error
	Close() error
}

// ChanPort is a Port backed by a buffered channel.
type ChanPort struct {
	id       string
	metadata map[string]string

	mu     sync.RWMutex
	closed bool
	ch     chan wire.Envelope
}

// PortOption configures a ChanPort.
type PortOption func(*ChanPort)

// WithMetadata adds a metadata key-value pair to the port.
func WithMetadata(key, value string) PortOption {
	return func(p *ChanPort) {
		p.metadata[key] = value
	}
}

// WithID overrides the generated port id.
func WithID(id string) PortOption {
	return func(p *ChanPort) {
		p.id = id
	}
}

// WithBuffer sets the envelope buffer size.
func WithBuffer(n int) PortOption {
	return func(p *ChanPort) {
		if n > 0 {
			p.ch = make(chan wire.Envelope, n)
		}
	}
}

// NewChanPort creates a port with a random id.
func NewChanPort(opts ...PortOption) *ChanPort {
	p := &ChanPort{
		id:       uuid.NewString(),
		metadata: make(map[string]string),
		ch:       make(chan wire.Envelope, DefaultPortBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the port's unique identifier.
func (p *ChanPort) ID() string { return p.id }

// Metadata returns a specific metadata value.
func (p *ChanPort) Metadata(key string) string { return p.metadata[key] }

// Envelopes returns the channel the consumer reads from. It is closed when
// the port is closed.
func (p *ChanPort) Envelopes() <-chan wire.Envelope { return p.ch }

// Send enqueues env without blocking.
func (p *ChanPort) Send(env wire.Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPortClosed
	}
	select {
	case p.ch <- env:
		return nil
	default:
		return ErrPortFull
	}
}

// Close closes the envelope channel. Safe to call multiple times.
func (p *ChanPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}
