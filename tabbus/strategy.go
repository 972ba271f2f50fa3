package tabbus

import "errors"

// ErrClosed is returned when posting on a closed Bus or channel.
var ErrClosed = errors.New("tabbus: closed")

// Broadcaster is a native broadcast primitive. Open joins the channel
// called name; data posted through the returned channel reaches every
// other channel opened on the same name, never the poster itself.
type Broadcaster interface {
	Open(name string, onMessage func(data []byte)) (BroadcastChannel, error)
}

// BroadcastChannel is one context's membership in a broadcast channel.
type BroadcastChannel interface {
	Post(data []byte) error
	Close() error
}

// StorageEvent reports a change to a shared key made by another context.
type StorageEvent struct {
	Key      string
	NewValue string
	Removed  bool
}

// Storage is a shared key/value area that notifies other contexts of
// changes. Open returns this context's view; changes made through a view
// are not reported back to it.
type Storage interface {
	Open(onChange func(StorageEvent)) (StorageArea, error)
}

// StorageArea is one context's view of a Storage.
type StorageArea interface {
	SetItem(key, value string) error
	RemoveItem(key string) error
	Close() error
}

// Env describes the capabilities available to a Bus.
type Env struct {
	Broadcast Broadcaster
	Storage   Storage
}

// transport is the strategy selected by New.
type transport interface {
	post(data []byte) error
	close() error
	kind() string
}

type broadcastTransport struct{ ch BroadcastChannel }

func (t *broadcastTransport) post(data []byte) error { return t.ch.Post(data) }
func (t *broadcastTransport) close() error           { return t.ch.Close() }
func (t *broadcastTransport) kind() string           { return StrategyBroadcast }

type storageTransport struct {
	key  string
	area StorageArea
}

func (t *storageTransport) post(data []byte) error {
	if err := t.area.SetItem(t.key, string(data)); err != nil {
		return err
	}
	return t.area.RemoveItem(t.key)
}

func (t *storageTransport) close() error { return t.area.Close() }
func (t *storageTransport) kind() string { return StrategyStorage }

type noopTransport struct{}

func (noopTransport) post([]byte) error { return nil }
func (noopTransport) close() error      { return nil }
func (noopTransport) kind() string      { return StrategyNone }

// Strategy names reported by Bus.Strategy.
const (
	StrategyBroadcast = "broadcast"
	StrategyStorage   = "storage"
	StrategyNone      = "none"
)
