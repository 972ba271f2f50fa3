package mux

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/noticemux/errors"
	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/upstream"
	"github.com/kbukum/noticemux/wire"
)

var (
	// ErrStopped is returned by operations on a multiplexer whose loop has exited.
	ErrStopped = stderrors.New("mux: multiplexer stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = stderrors.New("mux: multiplexer already running")
)

// Detach reasons reported in logs and metrics.
const (
	reasonClosed        = "closed"
	reasonSendFailed    = "send_failed"
	reasonConfiguration = "configuration"
	reasonShutdown      = "shutdown"
)

type registration struct {
	port        Port
	initialized bool
	events      []string
}

type inboundHandler func(reg *registration, data any)

// Multiplexer owns at most one upstream stream and fans its events out to
// a dynamic set of ports. All state is owned by the goroutine running Run;
// public methods post closures to its inbox.
type Multiplexer struct {
	name     string
	workerID string
	cfg      Config
	dialer   upstream.Dialer
	log      *logger.Logger
	metrics  *metrics
	handlers map[string]inboundHandler

	inbox    chan func()
	quit     chan struct{}
	exited   chan struct{}
	running  atomic.Bool
	stopOnce sync.Once

	// Loop-owned state.
	ctx         context.Context
	ports       []*registration
	byID        map[string]*registration
	opts        *mergedOptions
	events      []string
	eventSet    map[string]struct{}
	state       State
	stream      upstream.Stream
	gen         uint64
	timer       *time.Timer
	lastEventID string
	serverRetry time.Duration
}

// New creates a multiplexer. It does nothing until Run is called.
func New(name string, dialer upstream.Dialer, cfg Config, log *logger.Logger) (*Multiplexer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	met, err := newMetrics(name)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.WithComponent("mux")
	}

	m := &Multiplexer{
		name:     name,
		workerID: uuid.NewString(),
		cfg:      cfg,
		dialer:   dialer,
		metrics:  met,
		inbox:    make(chan func(), cfg.InboxSize),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
		ctx:      context.Background(),
		byID:     make(map[string]*registration),
		eventSet: make(map[string]struct{}),
	}
	m.log = log.WithFields(map[string]interface{}{
		"mux":                name,
		logger.FieldWorkerID: m.workerID,
	})
	m.handlers = map[string]inboundHandler{
		wire.TypeInit:      m.handleInit,
		wire.TypeClose:     m.handleClose,
		wire.TypeReconnect: m.handleReconnect,
	}
	return m, nil
}

// Name returns the multiplexer name.
func (m *Multiplexer) Name() string { return m.name }

// WorkerID returns the stable identifier reported in worker:info.
func (m *Multiplexer) WorkerID() string { return m.workerID }

// Done is closed once Run has returned.
func (m *Multiplexer) Done() <-chan struct{} { return m.exited }

// Run processes the inbox until ctx is canceled or Stop is called. On exit
// every port is closed and the upstream stream is torn down.
func (m *Multiplexer) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.exited)

	m.ctx = ctx
	m.log.Debug("multiplexer started")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-m.quit:
			m.shutdown()
			return nil
		case fn := <-m.inbox:
			m.exec(fn)
		}
	}
}

// Stop signals Run to return. Safe to call multiple times.
func (m *Multiplexer) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
}

// Register attaches a port without opening a connection.
func (m *Multiplexer) Register(p Port) error {
	return m.post(func() { m.register(p) })
}

// Deliver routes an envelope received from p through the dispatch table.
// A port that sends init without registering first is registered implicitly.
func (m *Multiplexer) Deliver(p Port, env wire.Envelope) error {
	return m.post(func() { m.dispatch(p, env) })
}

// Snapshot returns the current status, computed on the loop.
func (m *Multiplexer) Snapshot() (Status, error) {
	var st Status
	err := m.call(func() { st = m.status() })
	return st, err
}

func (m *Multiplexer) post(fn func()) error {
	select {
	case <-m.exited:
		return ErrStopped
	case <-m.quit:
		return ErrStopped
	default:
	}
	select {
	case m.inbox <- fn:
		return nil
	case <-m.exited:
		return ErrStopped
	case <-m.quit:
		return ErrStopped
	}
}

// call posts fn and waits for it to run.
func (m *Multiplexer) call(fn func()) error {
	done := make(chan struct{})
	if err := m.post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-m.exited:
		return ErrStopped
	}
}

// exec runs fn to completion. A panic is reported to every port as a
// worker error and the loop keeps going.
func (m *Multiplexer) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.recovered(r)
		}
	}()
	fn()
}

func (m *Multiplexer) recovered(r any) {
	defer func() {
		if again := recover(); again != nil {
			m.log.Error("panic while reporting worker error", map[string]interface{}{
				logger.FieldError: fmt.Sprint(again),
			})
		}
	}()
	err := fmt.Errorf("handler panic: %v", r)
	m.log.Error("multiplexer handler panicked", map[string]interface{}{logger.FieldError: err.Error()})
	m.broadcast(wire.ErrorEnvelope(wire.TypeWorkerError, errors.Worker(err)))
}

func (m *Multiplexer) dispatch(p Port, env wire.Envelope) {
	h, ok := m.handlers[env.Type]
	if !ok {
		m.log.Debug("ignoring unknown envelope", map[string]interface{}{
			logger.FieldPortID: p.ID(),
			"type":             env.Type,
		})
		return
	}
	reg := m.byID[p.ID()]
	if reg == nil {
		if env.Type != wire.TypeInit {
			m.log.Debug("ignoring envelope from unregistered port", map[string]interface{}{
				logger.FieldPortID: p.ID(),
				"type":             env.Type,
			})
			return
		}
		reg = m.register(p)
	}
	h(reg, env.Data)
}

func (m *Multiplexer) register(p Port) *registration {
	if reg, ok := m.byID[p.ID()]; ok {
		return reg
	}
	reg := &registration{port: p}
	m.ports = append(m.ports, reg)
	m.byID[p.ID()] = reg
	m.metrics.portAttached(m.ctx)
	m.log.Debug("port registered", map[string]interface{}{
		logger.FieldPortID: p.ID(),
		logger.FieldPorts:  len(m.ports),
	})
	return reg
}

func (m *Multiplexer) detach(reg *registration, reason string) {
	if _, ok := m.byID[reg.port.ID()]; !ok {
		return
	}
	delete(m.byID, reg.port.ID())
	m.ports = slices.DeleteFunc(m.ports, func(r *registration) bool { return r == reg })
	_ = reg.port.Close()
	m.metrics.portDetached(m.ctx, reason)
	m.log.Debug("port detached", map[string]interface{}{
		logger.FieldPortID: reg.port.ID(),
		logger.FieldPorts:  len(m.ports),
		"reason":           reason,
	})
}

// teardownIfEmpty resets the multiplexer once the last port is gone.
func (m *Multiplexer) teardownIfEmpty() {
	if len(m.ports) == 0 && (m.opts != nil || m.stream != nil || m.timer != nil) {
		m.teardown()
	}
}

// teardown closes the stream, cancels any pending reopen and resets the
// connection, merged options and event registry.
func (m *Multiplexer) teardown() {
	m.cancelTimer()
	if err := m.closeStream(); err != nil {
		m.metrics.upstreamError(m.ctx, errors.ErrCodeTermination.Kind())
		m.log.Warn("closing upstream stream on teardown failed", map[string]interface{}{
			logger.FieldError: errors.Termination(err).Error(),
		})
	}
	m.opts = nil
	m.events = nil
	m.eventSet = make(map[string]struct{})
	m.state = StateUninitialized
	m.lastEventID = ""
	m.serverRetry = 0
	m.gen++
	m.log.Info("shared connection torn down")
}

func (m *Multiplexer) shutdown() {
	for _, reg := range slices.Clone(m.ports) {
		m.detach(reg, reasonShutdown)
	}
	m.teardown()
	m.log.Debug("multiplexer stopped")
}

// broadcast delivers env to every port in registration order. Ports that
// fail are detached after the pass.
func (m *Multiplexer) broadcast(env wire.Envelope) {
	if len(m.ports) == 0 {
		return
	}
	m.metrics.broadcast(m.ctx)

	var failed []*registration
	for _, reg := range m.ports {
		if err := reg.port.Send(env); err != nil {
			failed = append(failed, reg)
		}
	}
	for _, reg := range failed {
		m.detach(reg, reasonSendFailed)
	}
	if len(failed) > 0 {
		m.teardownIfEmpty()
	}
}

// sendTo delivers env to a single port, detaching it on failure.
func (m *Multiplexer) sendTo(reg *registration, env wire.Envelope) bool {
	if err := reg.port.Send(env); err != nil {
		m.detach(reg, reasonSendFailed)
		m.teardownIfEmpty()
		return false
	}
	return true
}

func (m *Multiplexer) addEvents(names []string) []string {
	var added []string
	for _, name := range names {
		if _, ok := m.eventSet[name]; ok {
			continue
		}
		m.eventSet[name] = struct{}{}
		m.events = append(m.events, name)
		added = append(added, name)
	}
	return added
}

func (m *Multiplexer) status() Status {
	st := Status{
		Name:             m.name,
		WorkerID:         m.workerID,
		State:            m.state,
		Connected:        m.state == StateOpen,
		Ports:            len(m.ports),
		Events:           slices.Clone(m.events),
		ReconnectPending: m.timer != nil,
		ServerRetry:      m.serverRetry,
	}
	for _, reg := range m.ports {
		if reg.initialized {
			st.Initialized++
		}
	}
	if m.opts != nil {
		st.Options = &MergedOptions{
			URL:             m.opts.endpoint.URL,
			WithCredentials: m.opts.endpoint.WithCredentials,
			RetryInterval:   m.opts.retryInterval,
			AutoReconnect:   m.opts.autoReconnect,
		}
	}
	return st
}
