package mux

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/noticemux/errors"
	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/observability"
	"github.com/kbukum/noticemux/upstream"
	"github.com/kbukum/noticemux/wire"
)

// handleInit establishes or joins the shared connection.
func (m *Multiplexer) handleInit(reg *registration, data any) {
	_, span := observability.StartSpan(m.ctx, observability.SpanMuxInit)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrPortID, reg.port.ID()))

	raw, err := wire.DecodeInitOptions(data)
	if err != nil {
		m.reject(reg, errors.Configuration("invalid init options").WithCause(err))
		return
	}
	opts, appErr := wire.Normalize(raw, m.cfg.Origin)
	if appErr != nil {
		m.reject(reg, appErr)
		return
	}
	if opts.HeadersIgnored {
		m.log.Warn("custom headers are not supported on the shared connection; ignoring", map[string]interface{}{
			logger.FieldPortID: reg.port.ID(),
		})
	}

	switch {
	case m.opts == nil:
		m.opts = newMergedOptions(opts)
	case m.opts.endpoint != opts.Endpoint():
		m.reject(reg, errors.Configuration(fmt.Sprintf(
			"endpoint %s does not match the shared connection %s", opts.Endpoint(), m.opts.endpoint,
		)))
		return
	default:
		m.opts.merge(opts)
	}
	span.SetAttributes(attribute.String(observability.AttrURL, m.opts.endpoint.URL))

	reg.initialized = true
	for _, name := range opts.Events {
		if !slices.Contains(reg.events, name) {
			reg.events = append(reg.events, name)
		}
	}
	added := m.addEvents(opts.Events)

	m.log.Debug("port initialized", map[string]interface{}{
		logger.FieldPortID: reg.port.ID(),
		logger.FieldURL:    m.opts.endpoint.URL,
		"retry_interval":   m.opts.retryInterval.String(),
		"auto_reconnect":   m.opts.autoReconnect,
	})

	if m.stream == nil {
		m.open()
		return
	}
	for _, name := range added {
		m.stream.Listen(name)
	}

	connected := m.state == StateOpen
	if m.sendTo(reg, wire.Status(connected)) {
		m.sendTo(reg, wire.WorkerInfo(m.workerID, connected, len(m.ports)))
	}
}

// reject sends a configuration error to one port and detaches it.
func (m *Multiplexer) reject(reg *registration, appErr *errors.AppError) {
	m.log.Warn("rejecting port", map[string]interface{}{
		logger.FieldPortID: reg.port.ID(),
		logger.FieldError:  appErr.Error(),
	})
	_ = reg.port.Send(wire.ErrorEnvelope(wire.TypeError, appErr))
	m.detach(reg, reasonConfiguration)
	m.teardownIfEmpty()
}

func (m *Multiplexer) handleClose(reg *registration, _ any) {
	m.detach(reg, reasonClosed)
	m.teardownIfEmpty()
}

// handleReconnect closes and reopens the stream with the current merged
// options, regardless of the auto-reconnect setting.
func (m *Multiplexer) handleReconnect(reg *registration, _ any) {
	if m.opts == nil {
		m.log.Debug("reconnect requested without a configured endpoint", map[string]interface{}{
			logger.FieldPortID: reg.port.ID(),
		})
		return
	}
	m.log.Info("manual reconnect", map[string]interface{}{logger.FieldPortID: reg.port.ID()})

	hadStream := m.stream != nil
	if err := m.closeStream(); err != nil {
		m.metrics.upstreamError(m.ctx, errors.ErrCodeClosing.Kind())
		m.broadcast(wire.ErrorEnvelope(wire.TypeError, errors.Closing(err)))
	}
	if hadStream {
		m.broadcast(wire.Status(false))
	}
	if m.opts == nil {
		return
	}
	m.open()
}

// open dials a new stream with the merged options. Any pending reopen is
// cancelled and callbacks of earlier streams become stale.
func (m *Multiplexer) open() {
	m.cancelTimer()
	m.gen++
	gen := m.gen
	m.state = StateConnecting

	req := m.request()
	stream, err := m.dialer.Dial(m.ctx, req, &streamHandler{m: m, gen: gen})
	if err != nil {
		m.state = StateError
		m.metrics.upstreamError(m.ctx, errors.ErrCodeInitialization.Kind())
		m.log.Error("opening upstream stream failed", map[string]interface{}{
			logger.FieldURL:   req.URL,
			logger.FieldError: err.Error(),
		})
		m.broadcast(wire.ErrorEnvelope(wire.TypeError, errors.Initialization(err)))
		return
	}
	m.stream = stream
	m.log.Debug("upstream stream dialed", map[string]interface{}{logger.FieldURL: req.URL})
}

func (m *Multiplexer) request() upstream.Request {
	return upstream.Request{
		URL:             m.opts.endpoint.URL,
		WithCredentials: m.opts.endpoint.WithCredentials,
		LastEventID:     m.lastEventID,
		Events:          slices.Clone(m.events),
	}
}

// closeStream closes the current stream, if any, and makes its callbacks stale.
func (m *Multiplexer) closeStream() error {
	if m.stream == nil {
		return nil
	}
	s := m.stream
	m.stream = nil
	m.gen++
	return s.Close()
}

func (m *Multiplexer) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// scheduleReopen arms a single delayed reopen. The timer callback posts
// back to the loop and is ignored if the generation moved on meanwhile.
func (m *Multiplexer) scheduleReopen() {
	m.cancelTimer()
	gen := m.gen
	delay := m.opts.retryInterval
	m.timer = time.AfterFunc(delay, func() {
		_ = m.post(func() { m.onRetry(gen) })
	})
	m.metrics.reconnectScheduled(m.ctx)
	m.log.Info("reopen scheduled", map[string]interface{}{"delay": delay.String()})
}

func (m *Multiplexer) onRetry(gen uint64) {
	if gen != m.gen || m.opts == nil || m.stream != nil {
		return
	}
	m.timer = nil
	m.open()
}

func (m *Multiplexer) onOpen(gen uint64) {
	if gen != m.gen || m.stream == nil {
		return
	}
	m.state = StateOpen
	m.log.Info("shared connection open", map[string]interface{}{
		logger.FieldURL:   m.opts.endpoint.URL,
		logger.FieldPorts: len(m.ports),
	})
	m.broadcast(wire.Status(true))
}

// onEvent forwards one upstream event. Unnamed events become sse:message;
// data that is not JSON yields a parsing error and the stream stays open.
// onControl records the ID and retry of a block that is not broadcast.
func (m *Multiplexer) onControl(gen uint64, ev *upstream.Event) {
	if gen != m.gen || m.stream == nil {
		return
	}
	m.record(ev)
}

func (m *Multiplexer) record(ev *upstream.Event) {
	if ev.ID != "" {
		m.lastEventID = ev.ID
	}
	if ev.Retry > 0 && ev.Retry != m.serverRetry {
		m.serverRetry = ev.Retry
		m.log.Debug("upstream retry hint", logger.DurationFields("retry", ev.Retry))
	}
}

func (m *Multiplexer) onEvent(gen uint64, name string, ev *upstream.Event) {
	if gen != m.gen || m.stream == nil {
		return
	}
	m.record(ev)

	typ := name
	if name == upstream.EventMessage {
		typ = wire.TypeMessage
	}

	var payload json.RawMessage
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		m.metrics.upstreamError(m.ctx, errors.ErrCodeParsing.Kind())
		m.broadcast(wire.ErrorEnvelope(wire.TypeError, errors.Parsing(typ, ev.Data, err)))
		return
	}
	m.broadcast(wire.Envelope{Type: typ, Data: payload})
}

// onError handles a failed stream: the error is broadcast, the stream is
// closed and, with auto-reconnect, one reopen is scheduled.
func (m *Multiplexer) onError(gen uint64, err error) {
	if gen != m.gen || m.stream == nil {
		return
	}
	_ = m.closeStream()
	m.state = StateError
	m.metrics.upstreamError(m.ctx, errors.ErrCodeConnection.Kind())
	m.log.Warn("shared connection failed", map[string]interface{}{logger.FieldError: err.Error()})

	m.broadcast(wire.ErrorEnvelope(wire.TypeError, errors.Connection(err)))
	if m.opts != nil && m.opts.autoReconnect {
		m.scheduleReopen()
	}
}

// streamHandler adapts upstream callbacks to inbox posts tagged with the
// generation of the stream they belong to.
type streamHandler struct {
	m   *Multiplexer
	gen uint64
}

func (h *streamHandler) OnOpen() {
	_ = h.m.post(func() { h.m.onOpen(h.gen) })
}

func (h *streamHandler) OnEvent(name string, ev *upstream.Event) {
	_ = h.m.post(func() { h.m.onEvent(h.gen, name, ev) })
}

func (h *streamHandler) OnControl(ev *upstream.Event) {
	_ = h.m.post(func() { h.m.onControl(h.gen, ev) })
}

func (h *streamHandler) OnError(err error) {
	_ = h.m.post(func() { h.m.onError(h.gen, err) })
}
