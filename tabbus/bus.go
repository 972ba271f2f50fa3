package tabbus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kbukum/noticemux/logger"
)

// ChannelPrefix is prepended to every logical channel name.
const ChannelPrefix = "tab-bus:"

// Payload is a bus message: a JSON object, conventionally with a "type" field.
type Payload map[string]any

// Type returns the payload's "type" field, or "" when absent.
func (p Payload) Type() string {
	s, _ := p["type"].(string)
	return s
}

// Subscriber receives payloads posted by other contexts.
type Subscriber func(Payload)

// Bus is one context's handle on a logical channel.
type Bus struct {
	name string
	log  *logger.Logger

	mu     sync.RWMutex
	t      transport
	subs   map[uint64]Subscriber
	order  []uint64
	nextID uint64
	closed bool
}

// New opens the logical channel name using the best transport env offers.
// A transport that fails to open is logged and the next one is tried.
func New(name string, env Env, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.WithComponent("tabbus")
	}
	b := &Bus{
		name: ChannelPrefix + name,
		subs: make(map[uint64]Subscriber),
	}
	b.log = log.WithFields(logger.Fields(logger.FieldChannel, b.name))
	b.t = b.open(env)
	b.log.Debug("Tab bus opened", logger.Fields("strategy", b.t.kind()))
	return b
}

func (b *Bus) open(env Env) transport {
	if env.Broadcast != nil {
		ch, err := env.Broadcast.Open(b.name, b.receive)
		if err == nil {
			return &broadcastTransport{ch: ch}
		}
		b.log.Warn("Broadcast channel unavailable", logger.ErrorFields("open", err))
	}
	if env.Storage != nil {
		area, err := env.Storage.Open(b.onStorage)
		if err == nil {
			return &storageTransport{key: b.name, area: area}
		}
		b.log.Warn("Storage area unavailable", logger.ErrorFields("open", err))
	}
	return noopTransport{}
}

// Name returns the prefixed channel name.
func (b *Bus) Name() string { return b.name }

// Strategy reports which transport the bus selected.
func (b *Bus) Strategy() string { return b.t.kind() }

// Post sends payload to every other subscriber of the channel.
func (b *Bus) Post(payload Payload) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tabbus: encode payload: %w", err)
	}
	if err := b.t.post(data); err != nil {
		b.log.Debug("Tab bus post failed", logger.ErrorFields("post", err))
		return err
	}
	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Close releases the transport and drops every subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[uint64]Subscriber)
	b.order = nil
	b.mu.Unlock()
	return b.t.close()
}

func (b *Bus) onStorage(ev StorageEvent) {
	if ev.Key != b.name || ev.Removed || ev.NewValue == "" {
		return
	}
	b.receive([]byte(ev.NewValue))
}

func (b *Bus) receive(data []byte) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil || p == nil {
		b.log.Debug("Dropping malformed tab bus value", logger.Fields("size", len(data)))
		return
	}
	b.notify(p)
}

func (b *Bus) notify(p Payload) {
	b.mu.RLock()
	fns := make([]Subscriber, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}
