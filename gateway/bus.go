package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/tabbus"
)

// serveBus relays a websocket onto the tab bus channel named in the path.
// Every JSON object the socket sends is posted; payloads posted by other
// members are written back to it.
func (s *Server) serveBus(c *gin.Context) {
	channel := c.Param("channel")
	if channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, s.acceptOptions())
	if err != nil {
		s.log.Debug("Websocket accept failed", logger.ErrorFields("accept", err))
		return
	}
	defer conn.CloseNow()

	ctx, done := s.session(c.Request)
	defer done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := tabbus.New(channel, s.deps.Bus, s.log)
	defer bus.Close()
	log := s.log.WithFields(logger.Fields(logger.FieldChannel, bus.Name()))

	out := make(chan tabbus.Payload, s.cfg.BusBuffer)
	unsubscribe := bus.Subscribe(func(p tabbus.Payload) {
		select {
		case out <- p:
		default:
			log.Warn("Bus relay buffer full, dropping payload", logger.Fields("type", p.Type()))
		}
	})
	defer unsubscribe()

	written := make(chan struct{})
	go func() {
		defer close(written)
		defer cancel()
		timeout := time.Duration(s.cfg.WriteTimeout) * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-out:
				wctx, wcancel := context.WithTimeout(ctx, timeout)
				err := wsjson.Write(wctx, conn, p)
				wcancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var p tabbus.Payload
		if err := wsjson.Read(ctx, conn, &p); err != nil {
			break
		}
		if p == nil {
			continue
		}
		if err := bus.Post(p); err != nil {
			log.Warn("Bus post failed", logger.ErrorFields("post", err))
		}
	}
	cancel()
	<-written
	conn.Close(websocket.StatusNormalClosure, "")
}
