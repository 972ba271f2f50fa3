package mux

import (
	"context"
	"sort"
	"sync"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/upstream"
)

// NamePrefix prefixes multiplexer names derived from endpoint URLs.
const NamePrefix = "notice-dispatcher:"

// NameFor returns the conventional multiplexer name for an endpoint URL.
func NameFor(url string) string {
	return NamePrefix + url
}

// Pool holds named multiplexers, one per shared execution context. Entries
// obtained with Get live until Release; entries obtained only through
// Acquire are stopped when the last reference is released.
type Pool struct {
	dialer upstream.Dialer
	cfg    Config
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	muxes  map[string]*poolEntry
	closed bool
}

type poolEntry struct {
	m      *Multiplexer
	refs   int
	pinned bool
}

// NewPool creates an empty pool.
func NewPool(dialer upstream.Dialer, cfg Config, log *logger.Logger) *Pool {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.WithComponent("mux")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		dialer: dialer,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		muxes:  make(map[string]*poolEntry),
	}
}

// Get returns the multiplexer with the given name, starting it if needed.
// The entry stays until Release.
func (p *Pool) Get(name string) (*Multiplexer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.entry(name)
	if err != nil {
		return nil, err
	}
	e.pinned = true
	return e.m, nil
}

// Acquire returns the named multiplexer, starting it if needed, with a
// release func. When the last acquirer releases an entry nobody obtained
// through Get, the multiplexer is stopped and removed. release is
// idempotent.
func (p *Pool) Acquire(name string) (*Multiplexer, func(), error) {
	p.mu.Lock()
	e, err := p.entry(name)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	e.refs++
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { p.unref(name, e) })
	}
	return e.m, release, nil
}

func (p *Pool) unref(name string, e *poolEntry) {
	p.mu.Lock()
	e.refs--
	idle := e.refs == 0 && !e.pinned && p.muxes[name] == e
	if idle {
		delete(p.muxes, name)
	}
	p.mu.Unlock()

	if idle {
		p.stop(name, e.m)
	}
}

// entry returns or creates the named entry. p.mu must be held.
func (p *Pool) entry(name string) (*poolEntry, error) {
	if p.closed {
		return nil, ErrStopped
	}
	if e, ok := p.muxes[name]; ok {
		return e, nil
	}

	m, err := New(name, p.dialer, p.cfg, p.log)
	if err != nil {
		return nil, err
	}
	e := &poolEntry{m: m}
	p.muxes[name] = e
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = m.Run(p.ctx)
	}()

	p.log.Info("multiplexer created", map[string]interface{}{
		"mux":                name,
		logger.FieldWorkerID: m.WorkerID(),
	})
	return e, nil
}

// Lookup returns an existing multiplexer without creating one.
func (p *Pool) Lookup(name string) (*Multiplexer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.muxes[name]
	if !ok {
		return nil, false
	}
	return e.m, true
}

// Release stops and removes the named multiplexer, waiting for its loop
// to exit. It reports whether the name was present.
func (p *Pool) Release(name string) bool {
	p.mu.Lock()
	e, ok := p.muxes[name]
	delete(p.muxes, name)
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.stop(name, e.m)
	return true
}

func (p *Pool) stop(name string, m *Multiplexer) {
	m.Stop()
	<-m.Done()
	p.log.Info("multiplexer released", map[string]interface{}{"mux": name})
}

// Names returns the names of live multiplexers, sorted.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.muxes))
	for name := range p.muxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the status of every live multiplexer, sorted by name.
// Multiplexers that stop concurrently are skipped.
func (p *Pool) Snapshots() []Status {
	names := p.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		m, ok := p.Lookup(name)
		if !ok {
			continue
		}
		if st, err := m.Snapshot(); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// NewPort creates a ChanPort sized by the pool configuration.
func (p *Pool) NewPort(opts ...PortOption) *ChanPort {
	return NewChanPort(append([]PortOption{WithBuffer(p.cfg.PortBuffer)}, opts...)...)
}

// Close stops every multiplexer and waits for their loops. Further Get
// calls fail with ErrStopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.muxes = make(map[string]*poolEntry)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.log.Info("multiplexer pool closed")
}
