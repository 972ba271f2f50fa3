package tabbus

import (
	"sync"
)

// MemoryBroadcaster is an in-process Broadcaster. Delivery is
// asynchronous; each member receives messages in post order.
type MemoryBroadcaster struct {
	mu      sync.Mutex
	members map[string]map[*memoryChannel]struct{}
}

// NewMemoryBroadcaster creates an empty broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{members: make(map[string]map[*memoryChannel]struct{})}
}

// Open joins the channel called name.
func (b *MemoryBroadcaster) Open(name string, onMessage func([]byte)) (BroadcastChannel, error) {
	ch := &memoryChannel{hub: b, name: name, box: newMailbox(onMessage)}
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.members[name]
	if set == nil {
		set = make(map[*memoryChannel]struct{})
		b.members[name] = set
	}
	set[ch] = struct{}{}
	return ch, nil
}

// Members returns how many channels are open on name.
func (b *MemoryBroadcaster) Members(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members[name])
}

func (b *MemoryBroadcaster) post(from *memoryChannel, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.members[from.name] {
		if ch == from {
			continue
		}
		ch.box.enqueue(append([]byte(nil), data...))
	}
}

func (b *MemoryBroadcaster) leave(ch *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.members[ch.name]
	delete(set, ch)
	if len(set) == 0 {
		delete(b.members, ch.name)
	}
}

type memoryChannel struct {
	hub  *MemoryBroadcaster
	name string
	box  *mailbox[[]byte]

	mu     sync.Mutex
	closed bool
}

func (c *memoryChannel) Post(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.hub.post(c, data)
	return nil
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.hub.leave(c)
	c.box.close()
	return nil
}

// MemoryStorage is an in-process Storage shared by every view opened on it.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]string
	views map[*memoryArea]struct{}
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]string),
		views: make(map[*memoryArea]struct{}),
	}
}

// Open returns a new view that is notified of changes made by other views.
func (s *MemoryStorage) Open(onChange func(StorageEvent)) (StorageArea, error) {
	a := &memoryArea{store: s, box: newMailbox(onChange)}
	s.mu.Lock()
	s.views[a] = struct{}{}
	s.mu.Unlock()
	return a, nil
}

// GetItem returns the stored value for key.
func (s *MemoryStorage) GetItem(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *MemoryStorage) write(from *memoryArea, ev StorageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Removed {
		if _, ok := s.items[ev.Key]; !ok {
			return
		}
		delete(s.items, ev.Key)
	} else {
		if old, ok := s.items[ev.Key]; ok && old == ev.NewValue {
			return
		}
		s.items[ev.Key] = ev.NewValue
	}
	for a := range s.views {
		if a != from {
			a.box.enqueue(ev)
		}
	}
}

type memoryArea struct {
	store *MemoryStorage
	box   *mailbox[StorageEvent]

	mu     sync.Mutex
	closed bool
}

func (a *memoryArea) SetItem(key, value string) error {
	if a.isClosed() {
		return ErrClosed
	}
	a.store.write(a, StorageEvent{Key: key, NewValue: value})
	return nil
}

func (a *memoryArea) RemoveItem(key string) error {
	if a.isClosed() {
		return ErrClosed
	}
	a.store.write(a, StorageEvent{Key: key, Removed: true})
	return nil
}

func (a *memoryArea) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	a.store.mu.Lock()
	delete(a.store.views, a)
	a.store.mu.Unlock()
	a.box.close()
	return nil
}

func (a *memoryArea) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
