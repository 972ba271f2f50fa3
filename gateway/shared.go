package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/mux"
	"github.com/kbukum/noticemux/observability"
	"github.com/kbukum/noticemux/wire"
)

// serveShared attaches one websocket as a port of the multiplexer named by
// the "name" query parameter, or derived from "sseUrl" when name is absent.
// The multiplexer is released when its last socket disconnects.
func (s *Server) serveShared(c *gin.Context) {
	if s.deps.Pool == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "shared connections are disabled"})
		return
	}
	name := c.Query("name")
	if name == "" {
		if u := c.Query("sseUrl"); u != "" {
			name = mux.NameFor(u)
		}
	}
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name query parameter is required"})
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, s.acceptOptions())
	if err != nil {
		s.log.Debug("Websocket accept failed", logger.ErrorFields("accept", err))
		return
	}
	defer conn.CloseNow()

	// The multiplexer lives while at least one socket holds it.
	m, release, err := s.deps.Pool.Acquire(name)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "multiplexer pool stopped")
		return
	}
	defer release()

	ctx, done := s.session(c.Request)
	defer done()
	ctx, span := observability.StartSpan(ctx, observability.SpanGatewayPort)
	defer span.End()

	port := s.deps.Pool.NewPort(mux.WithMetadata("remote", c.ClientIP()))
	observability.SetSpanAttribute(ctx, observability.AttrPortID, port.ID())
	observability.SetSpanAttribute(ctx, observability.AttrWorkerID, m.WorkerID())
	log := s.log.WithFields(logger.Fields(logger.FieldPortID, port.ID(), "mux", name))

	if err := m.Register(port); err != nil {
		observability.SetSpanError(ctx, err)
		conn.Close(websocket.StatusTryAgainLater, "multiplexer stopped")
		return
	}
	log.Debug("Port attached")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	written := make(chan struct{})
	go func() {
		defer close(written)
		defer cancel()
		s.writeEnvelopes(ctx, conn, port)
	}()

	s.readEnvelopes(ctx, conn, m, port, log)

	if err := m.Deliver(port, wire.Envelope{Type: wire.TypeClose}); err != nil && err != mux.ErrStopped {
		log.Debug("Close not delivered", logger.ErrorFields("close", err))
	}
	_ = port.Close()
	cancel()
	<-written
	conn.Close(websocket.StatusNormalClosure, "")
	log.Debug("Port detached")
}

// readEnvelopes routes inbound envelopes to the multiplexer until the
// socket fails or ctx ends.
func (s *Server) readEnvelopes(ctx context.Context, conn *websocket.Conn, m *mux.Multiplexer, port mux.Port, log *logger.Logger) {
	for {
		var in wire.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug("Websocket read ended", logger.ErrorFields("read", err))
			}
			return
		}
		if err := m.Deliver(port, wire.Envelope{Type: in.Type, Data: in.Data}); err != nil {
			return
		}
	}
}

// writeEnvelopes forwards outbound envelopes until the port is closed. A
// port closed by the multiplexer (for example after a configuration error)
// ends the session.
func (s *Server) writeEnvelopes(ctx context.Context, conn *websocket.Conn, port *mux.ChanPort) {
	timeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	for env := range port.Envelopes() {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		err := wsjson.Write(wctx, conn, env)
		cancel()
		if err != nil {
			_ = port.Close()
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "port closed")
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	return &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
}
