package mux

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/kbukum/noticemux/wire"
)

const endpoint = "http://events.test/stream"

func TestMultiplexer_SharesOneConnection(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)

	ports := []*ChanPort{NewChanPort(), NewChanPort(), NewChanPort()}
	for _, p := range ports {
		deliver(t, m, p, initEnv(endpoint, 5000, false))
	}

	st := snapshot(t, m)
	if got := d.count(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if st.Ports != 3 || st.Initialized != 3 {
		t.Errorf("ports = %d initialized = %d, want 3/3", st.Ports, st.Initialized)
	}
	if st.State != StateConnecting {
		t.Errorf("state = %s, want connecting", st.State)
	}
}

func TestMultiplexer_EndpointMismatch(t *testing.T) {
	tests := []struct {
		name string
		env  wire.Envelope
	}{
		{"different url", initEnv("http://other.test/stream", 5000, false)},
		{"different credentials", wire.Envelope{Type: wire.TypeInit, Data: wire.InitOptions{
			SSEURL:          endpoint,
			WithCredentials: boolp(true),
		}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newFakeDialer()
			m := startMux(t, d)

			a, b := NewChanPort(), NewChanPort()
			deliver(t, m, a, initEnv(endpoint, 5000, false))
			s := d.waitDial(t)
			s.handler.OnOpen()
			expectType(t, a, wire.TypeConnected)

			deliver(t, m, b, tc.env)
			payload := expectError(t, b, wire.TypeError, "configuration")
			if payload.Error.Message == "" {
				t.Error("expected an explanatory message")
			}
			expectClosed(t, b)

			st := snapshot(t, m)
			if st.Ports != 1 || st.State != StateOpen {
				t.Errorf("ports = %d state = %s, want 1/open", st.Ports, st.State)
			}
			if st.Options.URL != endpoint || st.Options.WithCredentials {
				t.Errorf("canonical options changed: %+v", st.Options)
			}
			if s.isClosed() {
				t.Error("shared stream must stay open")
			}
			expectQuiet(t, a)
		})
	}
}

func TestMultiplexer_MergeRules(t *testing.T) {
	tests := []struct {
		name      string
		first     wire.Envelope
		second    wire.Envelope
		wantRetry time.Duration
		wantAuto  bool
	}{
		{"lower retry and enable auto", initEnv(endpoint, 5000, false), initEnv(endpoint, 2000, true), 2000 * time.Millisecond, true},
		{"higher retry keeps minimum", initEnv(endpoint, 1000, false), initEnv(endpoint, 3000, false), 1000 * time.Millisecond, false},
		{"auto stays on", initEnv(endpoint, 1000, true), initEnv(endpoint, 1000, false), 1000 * time.Millisecond, true},
		{"defaults", wire.Envelope{Type: wire.TypeInit, Data: wire.InitOptions{SSEURL: endpoint}},
			wire.Envelope{Type: wire.TypeInit, Data: wire.InitOptions{SSEURL: endpoint}}, wire.DefaultRetryInterval, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := startMux(t, newFakeDialer())
			deliver(t, m, NewChanPort(), tc.first)
			deliver(t, m, NewChanPort(), tc.second)

			st := snapshot(t, m)
			if st.Options == nil {
				t.Fatal("expected merged options")
			}
			if st.Options.RetryInterval != tc.wantRetry {
				t.Errorf("retry = %v, want %v", st.Options.RetryInterval, tc.wantRetry)
			}
			if st.Options.AutoReconnect != tc.wantAuto {
				t.Errorf("autoReconnect = %v, want %v", st.Options.AutoReconnect, tc.wantAuto)
			}
		})
	}
}

func TestMultiplexer_ScenarioTwoTabs(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a, b := NewChanPort(), NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	deliver(t, m, b, initEnv(endpoint, 2000, true))
	expectType(t, b, wire.TypeConnected)
	expectType(t, b, wire.TypeWorkerInfo)

	st := snapshot(t, m)
	if st.Options.RetryInterval != 2000*time.Millisecond || !st.Options.AutoReconnect {
		t.Fatalf("merged options = %+v, want 2000ms/true", st.Options)
	}

	deliver(t, m, a, wire.Envelope{Type: wire.TypeClose})
	expectClosed(t, a)
	st = snapshot(t, m)
	if st.State != StateOpen || st.Ports != 1 || s.isClosed() {
		t.Fatalf("after A closed: state = %s ports = %d closed = %v", st.State, st.Ports, s.isClosed())
	}

	deliver(t, m, b, wire.Envelope{Type: wire.TypeClose})
	expectClosed(t, b)
	st = snapshot(t, m)
	if st.State != StateUninitialized || st.Ports != 0 || st.Options != nil || len(st.Events) != 0 {
		t.Fatalf("after B closed: %+v", st)
	}
	if !s.isClosed() {
		t.Error("stream must be closed on teardown")
	}
}

func TestMultiplexer_ResetAllowsNewEndpoint(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)

	a := NewChanPort()
	deliver(t, m, a, initEnv(endpoint, 5000, false, "price"))
	d.waitDial(t)
	deliver(t, m, a, wire.Envelope{Type: wire.TypeClose})

	b := NewChanPort()
	deliver(t, m, b, initEnv("http://other.test/stream", 5000, false))
	s := d.waitDial(t)
	if s.req.URL != "http://other.test/stream" {
		t.Errorf("dialed %s, want the new endpoint", s.req.URL)
	}
	if len(s.req.Events) != 0 {
		t.Errorf("event registry not reset: %v", s.req.Events)
	}
	st := snapshot(t, m)
	if st.Options.URL != "http://other.test/stream" {
		t.Errorf("canonical URL = %s", st.Options.URL)
	}
}

func TestMultiplexer_LateJoinerStatus(t *testing.T) {
	tests := []struct {
		name          string
		open          bool
		wantStatus    string
		wantConnected bool
	}{
		{"while connecting", false, wire.TypeClosed, false},
		{"while open", true, wire.TypeConnected, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newFakeDialer()
			m := startMux(t, d)
			a, b := NewChanPort(), NewChanPort()

			deliver(t, m, a, initEnv(endpoint, 5000, false))
			s := d.waitDial(t)
			if tc.open {
				s.handler.OnOpen()
				expectType(t, a, wire.TypeConnected)
			}

			deliver(t, m, b, initEnv(endpoint, 5000, false))
			expectType(t, b, tc.wantStatus)
			info := expectType(t, b, wire.TypeWorkerInfo)
			payload, ok := info.Data.(wire.WorkerInfoPayload)
			if !ok {
				t.Fatalf("worker:info carries %T", info.Data)
			}
			if payload.WorkerID != m.WorkerID() || payload.Connected != tc.wantConnected || payload.Ports != 2 {
				t.Errorf("worker info = %+v", payload)
			}
			expectQuiet(t, a)
		})
	}
}

func TestMultiplexer_ForwardsEvents(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a, b := NewChanPort(), NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false, "price"))
	s := d.waitDial(t)
	if !slices.Equal(s.req.Events, []string{"price"}) {
		t.Fatalf("dial events = %v, want [price]", s.req.Events)
	}
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	deliver(t, m, b, initEnv(endpoint, 5000, false, "price", "trade"))
	expectType(t, b, wire.TypeConnected)
	expectType(t, b, wire.TypeWorkerInfo)
	snapshot(t, m)
	if got := s.listened(); !slices.Equal(got, []string{"trade"}) {
		t.Errorf("listened = %v, want only the new event", got)
	}

	s.emit("message", `{"hello":"world"}`, "")
	s.emit("trade", `[1,2]`, "")
	for _, p := range []*ChanPort{a, b} {
		if got := rawData(t, expectType(t, p, wire.TypeMessage)); got != `{"hello":"world"}` {
			t.Errorf("message data = %s", got)
		}
		if got := rawData(t, expectType(t, p, "trade")); got != `[1,2]` {
			t.Errorf("trade data = %s", got)
		}
	}
	if st := snapshot(t, m); !slices.Equal(st.Events, []string{"price", "trade"}) {
		t.Errorf("events = %v", st.Events)
	}
}

func TestMultiplexer_ParsingErrorKeepsConnection(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	s.emit("message", "not json", "")
	payload := expectError(t, a, wire.TypeError, "parsing")
	if payload.Error.EventType != wire.TypeMessage || payload.Error.RawData != "not json" {
		t.Errorf("parsing error = %+v", payload.Error)
	}

	s.emit("message", `{"ok":true}`, "")
	expectType(t, a, wire.TypeMessage)

	st := snapshot(t, m)
	if st.State != StateOpen || s.isClosed() {
		t.Errorf("state = %s closed = %v, want open connection", st.State, s.isClosed())
	}
}

func TestMultiplexer_ConnectionErrorReconnects(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 20, true))
	s := d.waitDial(t)
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	s.handler.OnError(errors.New("connection reset"))
	payload := expectError(t, a, wire.TypeError, "connection")
	if payload.Error.Message == "" {
		t.Error("expected a message")
	}
	if !s.isClosed() {
		t.Error("failed stream must be closed")
	}

	s2 := d.waitDial(t)
	if s2.req.URL != endpoint {
		t.Errorf("reopened %s", s2.req.URL)
	}
	s2.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)
	if st := snapshot(t, m); st.State != StateOpen || st.ReconnectPending {
		t.Errorf("after reopen: %+v", st)
	}

	// Retries are unbounded: every failure schedules another reopen.
	s2.handler.OnError(errors.New("again"))
	expectError(t, a, wire.TypeError, "connection")
	d.waitDial(t)
}

func TestMultiplexer_ConnectionErrorWithoutAutoReconnect(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 10, false))
	s := d.waitDial(t)
	s.handler.OnError(errors.New("refused"))
	expectError(t, a, wire.TypeError, "connection")

	d.expectNoDial(t, quietPeriod)
	st := snapshot(t, m)
	if st.State != StateError || st.ReconnectPending {
		t.Errorf("state = %s pending = %v", st.State, st.ReconnectPending)
	}
}

func TestMultiplexer_OpenCancelsPendingReopen(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 200, true))
	s := d.waitDial(t)
	s.handler.OnError(errors.New("boom"))
	expectError(t, a, wire.TypeError, "connection")
	if st := snapshot(t, m); !st.ReconnectPending {
		t.Fatal("expected a pending reopen")
	}

	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	d.waitDial(t)
	if st := snapshot(t, m); st.ReconnectPending {
		t.Error("manual reconnect must cancel the pending reopen")
	}
	d.expectNoDial(t, 300*time.Millisecond)
}

func TestMultiplexer_TeardownCancelsPendingReopen(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 150, true))
	s := d.waitDial(t)
	s.handler.OnError(errors.New("boom"))
	expectError(t, a, wire.TypeError, "connection")

	deliver(t, m, a, wire.Envelope{Type: wire.TypeClose})
	d.expectNoDial(t, 250*time.Millisecond)
	if st := snapshot(t, m); st.State != StateUninitialized || st.ReconnectPending {
		t.Errorf("after teardown: %+v", st)
	}
}

func TestMultiplexer_ManualReconnect(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	expectType(t, a, wire.TypeClosed)
	s2 := d.waitDial(t)
	if !s.isClosed() {
		t.Error("old stream must be closed")
	}

	// Callbacks of the replaced stream are stale.
	s.emit("message", `{"stale":true}`, "")
	s.handler.OnError(errors.New("late"))
	s2.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)
	expectQuiet(t, a)
}

func TestMultiplexer_ReconnectWithoutSessionIgnored(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	if err := m.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	d.expectNoDial(t, quietPeriod)
	expectQuiet(t, a)
}

func TestMultiplexer_InitializationError(t *testing.T) {
	d := newFakeDialer()
	d.setErr(errors.New("bad request"))
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 10, true))
	expectError(t, a, wire.TypeError, "initialization")

	st := snapshot(t, m)
	if st.State != StateError || st.ReconnectPending {
		t.Errorf("state = %s pending = %v", st.State, st.ReconnectPending)
	}
	if st.Ports != 1 {
		t.Errorf("port must stay attached, ports = %d", st.Ports)
	}

	d.setErr(nil)
	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	d.waitDial(t)
}

func TestMultiplexer_ClosingErrorBroadcast(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	s.closeErr = errors.New("close failed")
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	expectError(t, a, wire.TypeError, "closing")
	expectType(t, a, wire.TypeClosed)
	d.waitDial(t)
}

func TestMultiplexer_InvalidInit(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{"missing url", wire.InitOptions{}},
		{"blank url", wire.InitOptions{SSEURL: "   "}},
		{"negative retry", wire.InitOptions{SSEURL: endpoint, RetryInterval: intp(-1)}},
		{"relative url without origin", wire.InitOptions{SSEURL: "/events"}},
		{"undecodable", "not an object"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newFakeDialer()
			m := startMux(t, d)
			a := NewChanPort()

			deliver(t, m, a, wire.Envelope{Type: wire.TypeInit, Data: tc.data})
			expectError(t, a, wire.TypeError, "configuration")
			expectClosed(t, a)

			st := snapshot(t, m)
			if st.Ports != 0 || st.State != StateUninitialized {
				t.Errorf("after rejection: %+v", st)
			}
			if d.count() != 0 {
				t.Error("no connection may be opened")
			}
		})
	}
}

func TestMultiplexer_HeadersIgnored(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, wire.Envelope{Type: wire.TypeInit, Data: wire.InitOptions{
		SSEURL:  endpoint,
		Headers: map[string]string{"Authorization": "Bearer x"},
	}})
	d.waitDial(t)
	expectQuiet(t, a)
}

func TestMultiplexer_FailingPortDetached(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)

	slow := NewChanPort(WithBuffer(1))
	a := NewChanPort()
	if err := m.Register(slow); err != nil {
		t.Fatalf("Register: %v", err)
	}
	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)

	// slow never drains: its single slot holds sse:connected.
	s.emit("message", `1`, "")
	expectType(t, a, wire.TypeMessage)

	st := snapshot(t, m)
	if st.Ports != 1 {
		t.Fatalf("ports = %d, want the failing port detached", st.Ports)
	}
	expectType(t, slow, wire.TypeConnected)
	expectClosed(t, slow)
}

func TestMultiplexer_LastFailingPortTearsDown(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)

	a := NewChanPort()
	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	_ = a.Close()
	s.handler.OnOpen()

	st := snapshot(t, m)
	if st.State != StateUninitialized || st.Ports != 0 {
		t.Errorf("after last port failed: %+v", st)
	}
	if !s.isClosed() {
		t.Error("stream must be closed")
	}
}

func TestMultiplexer_RegisteredPortKeepsSessionAlive(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)

	idle, a := NewChanPort(), NewChanPort()
	if err := m.Register(idle); err != nil {
		t.Fatalf("Register: %v", err)
	}
	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	deliver(t, m, a, wire.Envelope{Type: wire.TypeClose})

	st := snapshot(t, m)
	if st.Ports != 1 || st.Initialized != 0 || st.Options == nil || s.isClosed() {
		t.Errorf("registered port must keep the session: %+v", st)
	}
}

func TestMultiplexer_WorkerPanicRecovered(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)

	a := NewChanPort()
	deliver(t, m, a, initEnv(endpoint, 5000, false))
	if err := m.Register(&panicPort{id: "boom"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s := d.waitDial(t)
	s.handler.OnOpen()

	expectType(t, a, wire.TypeConnected)
	expectError(t, a, wire.TypeWorkerError, "worker")

	if st := snapshot(t, m); st.Ports != 2 {
		t.Errorf("loop must survive the panic, ports = %d", st.Ports)
	}
}

func TestMultiplexer_LastEventIDOnReopen(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	if s.req.LastEventID != "" {
		t.Errorf("first dial Last-Event-ID = %q", s.req.LastEventID)
	}
	s.handler.OnOpen()
	s.emit("message", `{}`, "42")
	expectType(t, a, wire.TypeConnected)
	expectType(t, a, wire.TypeMessage)

	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	s2 := d.waitDial(t)
	if s2.req.LastEventID != "42" {
		t.Errorf("reopen Last-Event-ID = %q, want 42", s2.req.LastEventID)
	}
}

func TestMultiplexer_ControlBlockRecordedForReopen(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)
	s.handler.OnOpen()
	expectType(t, a, wire.TypeConnected)
	s.emitControl("77", 2*time.Second)
	expectQuiet(t, a)

	st := snapshot(t, m)
	if st.ServerRetry != 2*time.Second {
		t.Errorf("server retry = %v, want 2s", st.ServerRetry)
	}
	if st.Options == nil || st.Options.RetryInterval != 5*time.Second {
		t.Errorf("merged retry interval changed: %+v", st.Options)
	}

	deliver(t, m, a, wire.Envelope{Type: wire.TypeReconnect})
	s2 := d.waitDial(t)
	if s2.req.LastEventID != "77" {
		t.Errorf("reopen Last-Event-ID = %q, want 77", s2.req.LastEventID)
	}
}

func TestMultiplexer_UnknownEnvelopeIgnored(t *testing.T) {
	d := newFakeDialer()
	m := startMux(t, d)
	a := NewChanPort()

	deliver(t, m, a, wire.Envelope{Type: "bogus"})
	deliver(t, m, a, wire.Envelope{Type: wire.TypeClose})
	if st := snapshot(t, m); st.Ports != 0 {
		t.Errorf("ports = %d", st.Ports)
	}
	expectQuiet(t, a)
}

func TestMultiplexer_StopClosesPorts(t *testing.T) {
	d := newFakeDialer()
	m, err := New("stop", d, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() { _ = m.Run(t.Context()) }()

	a := NewChanPort()
	deliver(t, m, a, initEnv(endpoint, 5000, false))
	s := d.waitDial(t)

	m.Stop()
	<-m.Done()
	expectClosed(t, a)
	if !s.isClosed() {
		t.Error("stream must be closed on stop")
	}
	if err := m.Deliver(a, wire.Envelope{Type: wire.TypeClose}); !errors.Is(err, ErrStopped) {
		t.Errorf("Deliver after stop = %v, want ErrStopped", err)
	}
	if _, err := m.Snapshot(); !errors.Is(err, ErrStopped) {
		t.Errorf("Snapshot after stop = %v, want ErrStopped", err)
	}
	if err := m.Run(t.Context()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateConnecting:    "connecting",
		StateOpen:          "open",
		StateError:         "error",
		State(42):          "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", int(s), got, want)
		}
		text, _ := s.MarshalText()
		if string(text) != want {
			t.Errorf("MarshalText = %q", text)
		}
	}
}
