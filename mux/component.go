package mux

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/noticemux/component"
)

// Component wraps a Pool as a lifecycle-managed component.
type Component struct {
	pool *Pool

	mu      sync.Mutex
	started bool
}

// ensure Component satisfies component.Component and Describable.
var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a component around pool.
func NewComponent(pool *Pool) *Component {
	return &Component{pool: pool}
}

// Pool returns the underlying pool.
func (c *Component) Pool() *Pool { return c.pool }

// Name returns the component name.
func (c *Component) Name() string { return "mux" }

// Start marks the pool ready. Multiplexers start lazily on first use.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

// Stop closes every multiplexer in the pool.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool.Close()
	c.started = false
	return nil
}

// Health reports the number of live multiplexers and attached ports.
func (c *Component) Health(_ context.Context) component.Health {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}

	snaps := c.pool.Snapshots()
	ports, failing := 0, 0
	for _, st := range snaps {
		ports += st.Ports
		if st.State == StateError {
			failing++
		}
	}
	status := component.StatusHealthy
	if failing > 0 {
		status = component.StatusDegraded
	}
	return component.Health{
		Name:    c.Name(),
		Status:  status,
		Message: fmt.Sprintf("%d multiplexers, %d ports, %d failing", len(snaps), ports, failing),
	}
}

// Describe returns summary info for the startup log.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Connection multiplexer",
		Type:    "mux",
		Details: fmt.Sprintf("inbox=%d port_buffer=%d", c.pool.cfg.InboxSize, c.pool.cfg.PortBuffer),
	}
}
