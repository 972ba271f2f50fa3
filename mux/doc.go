// Package mux shares one upstream server-sent event stream among many
// consumer ports.
//
// A Multiplexer is an actor: one goroutine owns the connection, the merged
// options and the port set, and runs each inbound envelope (init, close,
// reconnect) to completion. The first init fixes the endpoint; later inits
// must name the same endpoint and credentials mode or are rejected with a
// configuration error. The merged retry interval is the minimum requested
// and auto-reconnect is enabled if any port asked for it. When the last
// port leaves, the connection is torn down and the multiplexer returns to
// its uninitialized state.
//
//	pool := mux.NewPool(dialer, mux.Config{}, nil)
//	m, _ := pool.Get(mux.NameFor("/events"))
//	port := pool.NewPort()
//	_ = m.Deliver(port, wire.Envelope{Type: wire.TypeInit, Data: wire.InitOptions{SSEURL: "/events"}})
//	for env := range port.Envelopes() {
//		...
//	}
package mux
