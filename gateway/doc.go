// Package gateway serves shared connections and tab bus channels to remote
// consumers over websockets.
//
// Routes:
//
//	GET /shared?name=<worker>   one multiplexer port per websocket; JSON envelopes both ways
//	GET /bus/:channel           relay between the websocket and a tab bus channel
//	GET /health                 component health, 503 when unhealthy
//	GET /workers                status of every live multiplexer
//
// A websocket on /shared behaves like a tab's port: it sends init, close
// and reconnect envelopes and receives sse:* and worker:* envelopes.
// Disconnecting is the same as sending close.
package gateway
