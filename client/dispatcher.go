package client

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kbukum/noticemux/dispatch"
	"github.com/kbukum/noticemux/errors"
	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/mux"
	"github.com/kbukum/noticemux/wire"
)

// Handler receives the data of an envelope.
type Handler = dispatch.Handler[any]

// Dispatcher is one consumer of a shared connection.
type Dispatcher struct {
	pool    *mux.Pool
	opts    wire.InitOptions
	name    string
	log     *logger.Logger
	events  *dispatch.Dispatcher[any]
	release func(*Dispatcher)

	connected atomic.Bool

	mu   sync.Mutex
	m    *mux.Multiplexer
	port *mux.ChanPort
}

// New creates a Dispatcher for opts without connecting it. The multiplexer
// is chosen by the raw endpoint URL.
func New(pool *mux.Pool, opts wire.InitOptions, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.WithComponent("client")
	}
	name := strings.TrimSuffix(mux.NamePrefix, ":")
	if opts.SSEURL != "" {
		name = mux.NameFor(opts.SSEURL)
	}
	return &Dispatcher{
		pool:   pool,
		opts:   opts,
		name:   name,
		log:    log.WithFields(logger.Fields(logger.FieldURL, opts.SSEURL)),
		events: dispatch.New[any](),
	}
}

// Name returns the multiplexer name the dispatcher attaches to.
func (d *Dispatcher) Name() string { return d.name }

// On registers fn for envelopes of the given type.
func (d *Dispatcher) On(typ string, fn Handler) dispatch.HandlerID {
	return d.events.On(typ, fn)
}

// Off removes a handler registered with On.
func (d *Dispatcher) Off(typ string, id dispatch.HandlerID) {
	d.events.Off(typ, id)
}

// IsConnected reports whether the last status received was sse:connected.
func (d *Dispatcher) IsConnected() bool { return d.connected.Load() }

// Connect attaches a new port and sends init. It is a no-op while a port
// is attached. Failures are also reported to worker:error handlers.
func (d *Dispatcher) Connect() error {
	if appErr := d.attach(); appErr != nil {
		return d.fail(appErr)
	}
	return nil
}

func (d *Dispatcher) attach() *errors.AppError {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return nil
	}

	m, err := d.pool.Get(d.name)
	if err != nil {
		return errors.Initialization(err)
	}
	port := d.pool.NewPort(mux.WithMetadata("client", d.name))
	if err := m.Register(port); err != nil {
		return errors.Initialization(err)
	}
	if err := m.Deliver(port, wire.Envelope{Type: wire.TypeInit, Data: d.opts}); err != nil {
		_ = port.Close()
		return errors.Initialization(err)
	}

	d.m, d.port = m, port
	go d.pump(port)
	d.log.Debug("dispatcher connected", logger.Fields(logger.FieldPortID, port.ID()))
	return nil
}

// Reconnect asks the multiplexer to reopen the upstream connection, or
// connects again when no port is attached.
func (d *Dispatcher) Reconnect() error {
	d.mu.Lock()
	m, port := d.m, d.port
	d.mu.Unlock()
	if port == nil {
		return d.Connect()
	}
	if err := m.Deliver(port, wire.Envelope{Type: wire.TypeReconnect}); err != nil {
		d.detached(port)
		return d.Connect()
	}
	return nil
}

// Close sends close, detaches the port and removes the dispatcher from its
// registry. Handlers stay registered but receive nothing until the next
// Connect.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	m, port := d.m, d.port
	d.m, d.port = nil, nil
	d.mu.Unlock()

	d.connected.Store(false)
	if port != nil {
		err := m.Deliver(port, wire.Envelope{Type: wire.TypeClose})
		_ = port.Close()
		if err != nil && err != mux.ErrStopped {
			_ = d.fail(errors.Termination(err))
		}
	}
	if d.release != nil {
		d.release(d)
	}
}

// pump fires the envelopes of port while it is the attached port.
func (d *Dispatcher) pump(port *mux.ChanPort) {
	for env := range port.Envelopes() {
		if !d.attached(port) {
			continue
		}
		switch env.Type {
		case wire.TypeConnected:
			d.connected.Store(true)
		case wire.TypeClosed:
			d.connected.Store(false)
		}
		d.events.Fire(env.Type, env.Data)
	}
	d.detached(port)
}

func (d *Dispatcher) attached(port *mux.ChanPort) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port == port
}

// detached forgets port after the multiplexer dropped it.
func (d *Dispatcher) detached(port *mux.ChanPort) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == port {
		d.m, d.port = nil, nil
		d.connected.Store(false)
	}
}

func (d *Dispatcher) fail(appErr *errors.AppError) error {
	d.connected.Store(false)
	d.log.Warn("dispatcher error", logger.Fields(logger.FieldError, appErr.Error(), "type", appErr.Kind()))
	env := wire.ErrorEnvelope(wire.TypeWorkerError, appErr)
	d.events.Fire(env.Type, env.Data)
	return appErr
}
