// Package upstream opens server-sent event streams for the multiplexer.
//
// A Dialer returns a Stream immediately and reports progress through a
// Handler: OnOpen once the server accepts, OnEvent per delivered event and
// a single OnError when the stream fails or the server ends it. Unnamed
// events are delivered as "message"; named events only after Listen.
//
//	d, err := upstream.NewHTTPDialer(upstream.Config{Origin: "https://app.example.com"}, nil)
//	stream, err := d.Dial(ctx, upstream.Request{URL: "/events"}, handler)
//	stream.Listen("price")
//	defer stream.Close()
package upstream
