package client

import (
	"sync"

	"github.com/kbukum/noticemux/errors"
	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/mux"
	"github.com/kbukum/noticemux/wire"
)

// Registry keeps one Dispatcher per endpoint URL.
type Registry struct {
	pool *mux.Pool
	log  *logger.Logger

	mu    sync.Mutex
	items map[string]*Dispatcher
}

// NewRegistry creates an empty registry over pool.
func NewRegistry(pool *mux.Pool, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.WithComponent("client")
	}
	return &Registry{pool: pool, log: log, items: make(map[string]*Dispatcher)}
}

// Get returns the connected Dispatcher for opts.SSEURL, creating it on
// first use. Options of later calls for the same URL are ignored. A missing
// URL is a configuration error.
func (r *Registry) Get(opts wire.InitOptions) (*Dispatcher, error) {
	if opts.SSEURL == "" {
		return nil, errors.Configuration("SSE URL is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.items[opts.SSEURL]; ok {
		return d, nil
	}
	d := New(r.pool, opts, r.log)
	d.release = r.remove
	if err := d.Connect(); err != nil {
		return nil, err
	}
	r.items[opts.SSEURL] = d
	return d, nil
}

// Release closes and removes the dispatcher for url. It reports whether
// one was present.
func (r *Registry) Release(url string) bool {
	r.mu.Lock()
	d, ok := r.items[url]
	r.mu.Unlock()
	if !ok {
		return false
	}
	d.Close()
	return true
}

// Len returns the number of registered dispatchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Close closes every dispatcher.
func (r *Registry) Close() {
	r.mu.Lock()
	items := make([]*Dispatcher, 0, len(r.items))
	for _, d := range r.items {
		items = append(items, d)
	}
	r.mu.Unlock()
	for _, d := range items {
		d.Close()
	}
}

func (r *Registry) remove(d *Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[d.opts.SSEURL] == d {
		delete(r.items, d.opts.SSEURL)
	}
}
