// Package client is the consumer side of a shared connection.
//
// A Dispatcher plays the part of one tab: it attaches a port to the
// multiplexer for its endpoint, sends init, and fans the envelopes it
// receives out to handlers registered by type (sse:connected, sse:message,
// custom event names, worker:error, ...). A Registry hands out one
// Dispatcher per endpoint URL.
//
//	reg := client.NewRegistry(pool, log)
//	d, err := reg.Get(wire.InitOptions{SSEURL: "/api/notices", Events: []string{"notice"}})
//	d.On("notice", func(data any) { ... })
//	defer d.Close()
package client
