package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/noticemux/component"
)

// Component wraps Server for lifecycle management.
type Component struct {
	server  *Server
	running atomic.Bool
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent returns a component backed by s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

// Server returns the wrapped server.
func (c *Component) Server() *Server { return c.server }

// Name returns the component name.
func (c *Component) Name() string { return "gateway" }

// Start binds and serves.
func (c *Component) Start(ctx context.Context) error {
	if err := c.server.Start(ctx); err != nil {
		return err
	}
	c.running.Store(true)
	return nil
}

// Stop shuts the server down.
func (c *Component) Stop(ctx context.Context) error {
	c.running.Store(false)
	return c.server.Stop(ctx)
}

// Health reports whether the server is serving.
func (c *Component) Health(_ context.Context) component.Health {
	if !c.running.Load() {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "not serving"}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns summary info for the startup log.
func (c *Component) Describe() component.Description {
	cfg := c.server.cfg
	return component.Description{
		Name:    "Gateway",
		Type:    "server",
		Details: fmt.Sprintf("%s:%d /shared /bus/:channel", cfg.Host, cfg.Port),
		Port:    cfg.Port,
	}
}
