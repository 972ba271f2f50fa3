package mux

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/upstream"
	"github.com/kbukum/noticemux/wire"
)

const (
	waitTimeout = time.Second
	quietPeriod = 80 * time.Millisecond
)

type fakeStream struct {
	req     upstream.Request
	handler upstream.Handler

	mu       sync.Mutex
	listens  []string
	closed   bool
	closeErr error
}

func (s *fakeStream) Listen(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listens = append(s.listens, name)
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) listened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listens...)
}

func (s *fakeStream) emit(name, data, id string) {
	ev := &upstream.Event{Data: data, ID: id}
	if name != upstream.EventMessage {
		ev.Event = name
	}
	s.handler.OnEvent(name, ev)
}

func (s *fakeStream) emitControl(id string, retry time.Duration) {
	s.handler.OnControl(&upstream.Event{ID: id, Retry: retry, Control: true})
}

type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	streams []*fakeStream
	dialed  chan *fakeStream
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeStream, 32)}
}

func (d *fakeDialer) Dial(_ context.Context, req upstream.Request, h upstream.Handler) (upstream.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := &fakeStream{req: req, handler: h}
	d.streams = append(d.streams, s)
	d.dialed <- s
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *fakeDialer) waitDial(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-d.dialed:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for dial")
	}
	return nil
}

func (d *fakeDialer) expectNoDial(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case s := <-d.dialed:
		t.Fatalf("unexpected dial of %s", s.req.URL)
	case <-time.After(within):
	}
}

func startMux(t *testing.T, d upstream.Dialer) *Multiplexer {
	t.Helper()
	m, err := New("test", d, Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() { _ = m.Run(context.Background()) }()
	t.Cleanup(func() {
		m.Stop()
		<-m.Done()
	})
	return m
}

func intp(n int) *int    { return &n }
func boolp(b bool) *bool { return &b }

func initEnv(url string, retryMs int, auto bool, events ...string) wire.Envelope {
	return wire.Envelope{Type: wire.TypeInit, Data: wire.InitOptions{
		SSEURL:        url,
		RetryInterval: intp(retryMs),
		AutoReconnect: boolp(auto),
		Events:        events,
	}}
}

func deliver(t *testing.T, m *Multiplexer, p Port, env wire.Envelope) {
	t.Helper()
	if err := m.Deliver(p, env); err != nil {
		t.Fatalf("Deliver(%s): %v", env.Type, err)
	}
}

func snapshot(t *testing.T, m *Multiplexer) Status {
	t.Helper()
	st, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return st
}

func next(t *testing.T, p *ChanPort) wire.Envelope {
	t.Helper()
	select {
	case env, ok := <-p.Envelopes():
		if !ok {
			t.Fatalf("port %s closed while waiting for an envelope", p.ID())
		}
		return env
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for envelope on port %s", p.ID())
	}
	return wire.Envelope{}
}

func expectType(t *testing.T, p *ChanPort, typ string) wire.Envelope {
	t.Helper()
	env := next(t, p)
	if env.Type != typ {
		t.Fatalf("envelope type = %q, want %q (data %+v)", env.Type, typ, env.Data)
	}
	return env
}

func expectError(t *testing.T, p *ChanPort, envType, kind string) wire.ErrorPayload {
	t.Helper()
	env := expectType(t, p, envType)
	payload, ok := wire.AsError(env)
	if !ok {
		t.Fatalf("envelope %s carries %T, want wire.ErrorPayload", env.Type, env.Data)
	}
	if payload.Error.Type != kind {
		t.Fatalf("error type = %q, want %q (%s)", payload.Error.Type, kind, payload.Error.Message)
	}
	return payload
}

func expectQuiet(t *testing.T, p *ChanPort) {
	t.Helper()
	select {
	case env, ok := <-p.Envelopes():
		if ok {
			t.Fatalf("unexpected envelope %s on port %s", env.Type, p.ID())
		}
		t.Fatalf("port %s unexpectedly closed", p.ID())
	case <-time.After(quietPeriod):
	}
}

func expectClosed(t *testing.T, p *ChanPort) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-p.Envelopes():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("port %s was not closed", p.ID())
		}
	}
}

func rawData(t *testing.T, env wire.Envelope) string {
	t.Helper()
	raw, ok := env.Data.(json.RawMessage)
	if !ok {
		t.Fatalf("envelope %s carries %T, want json.RawMessage", env.Type, env.Data)
	}
	return string(raw)
}

// panicPort panics on every Send.
type panicPort struct{ id string }

func (p *panicPort) ID() string                   { return p.id }
func (p *panicPort) Send(env wire.Envelope) error { panic("send exploded: " + env.Type) }
func (p *panicPort) Close() error                 { return nil }
