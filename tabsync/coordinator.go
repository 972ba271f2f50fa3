// Package tabsync coordinates closing a shared connection across contexts.
//
// When one context closes its connection it tells the others on a tab bus
// channel, and they close too. A context that closes because it was told
// to does not announce its own close, so closes never echo back and forth.
package tabsync

import (
	"sync"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/tabbus"
)

// MessageClose is the payload type announcing a close.
const MessageClose = "close"

// CloseCoordinator is one context's participant in the close protocol.
type CloseCoordinator struct {
	bus         *tabbus.Bus
	isOpen      func() bool
	onClose     func()
	unsubscribe func()
	log         *logger.Logger

	mu           sync.Mutex
	remoteClosed bool
}

// New joins the close protocol on channel name. isOpen reports whether the
// local connection is open; nil means always open. onClose is called when
// another context closes while the local connection is open.
func New(name string, isOpen func() bool, onClose func(), env tabbus.Env, log *logger.Logger) *CloseCoordinator {
	if log == nil {
		log = logger.WithComponent("tabsync")
	}
	if isOpen == nil {
		isOpen = func() bool { return true }
	}
	c := &CloseCoordinator{
		bus:     tabbus.New(name, env, log),
		isOpen:  isOpen,
		onClose: onClose,
		log:     log,
	}
	c.unsubscribe = c.bus.Subscribe(c.receive)
	return c
}

func (c *CloseCoordinator) receive(p tabbus.Payload) {
	if p.Type() != MessageClose || !c.isOpen() {
		return
	}
	c.mu.Lock()
	c.remoteClosed = true
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose()
	}
}

// OnLocalClosed must be called after the local connection closes. If the
// close was triggered by a remote announcement it publishes nothing;
// otherwise it announces the close to the other contexts.
func (c *CloseCoordinator) OnLocalClosed() {
	c.mu.Lock()
	remote := c.remoteClosed
	c.remoteClosed = false
	c.mu.Unlock()
	if remote {
		return
	}
	if err := c.bus.Post(tabbus.Payload{"type": MessageClose}); err != nil {
		c.log.Warn("Failed to announce close", logger.ErrorFields("post", err))
	}
}

// Destroy leaves the protocol and closes the bus.
func (c *CloseCoordinator) Destroy() {
	c.unsubscribe()
	if err := c.bus.Close(); err != nil {
		c.log.Debug("Tab bus close failed", logger.ErrorFields("close", err))
	}
}
