package component

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/noticemux/logger"
)

// Default timeouts applied per component.
const (
	DefaultStopTimeout   = 10 * time.Second
	DefaultHealthTimeout = 2 * time.Second
)

type entry struct {
	component Component
	started   bool
}

// Registry starts components in registration order and stops the started
// ones in reverse.
type Registry struct {
	mu            sync.RWMutex
	entries       []*entry
	stopTimeout   time.Duration
	healthTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithStopTimeout bounds each Stop call.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) { r.stopTimeout = d }
}

// WithHealthTimeout bounds each Health call.
func WithHealthTimeout(d time.Duration) Option {
	return func(r *Registry) { r.healthTimeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{stopTimeout: DefaultStopTimeout, healthTimeout: DefaultHealthTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends c. Register dependencies first.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if slices.ContainsFunc(r.entries, func(e *entry) bool { return e.component.Name() == name }) {
		return fmt.Errorf("component %s already registered", name)
	}
	r.entries = append(r.entries, &entry{component: c})
	logger.Debug("Component registered", logger.Fields(logger.FieldComponent, name))
	return nil
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartAll starts components in order. The first failure aborts; the ones
// already started stay started so StopAll can unwind them.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger.Info("Starting components", logger.Fields("count", len(r.entries)))
	for _, e := range r.entries {
		name := e.component.Name()
		if err := e.component.Start(ctx); err != nil {
			logger.Error("Component start failed", logger.Fields(
				logger.FieldComponent, name,
				logger.FieldError, err.Error(),
			))
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		e.started = true
		logger.Info("Component started", describe(e.component))
	}
	return nil
}

func describe(c Component) map[string]interface{} {
	fields := logger.Fields(logger.FieldComponent, c.Name())
	d, ok := c.(Describable)
	if !ok {
		return fields
	}
	desc := d.Describe()
	fields["type"] = desc.Type
	fields["details"] = desc.Details
	if desc.Port > 0 {
		fields["port"] = desc.Port
	}
	return fields
}

// StopAll stops started components in reverse order, each bounded by the
// stop timeout. Every component is attempted; errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, e := range slices.Backward(r.entries) {
		if !e.started {
			continue
		}
		name := e.component.Name()
		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		err := e.component.Stop(stopCtx)
		cancel()
		e.started = false
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			logger.Error("Component stop failed", logger.Fields(
				logger.FieldComponent, name,
				logger.FieldError, err.Error(),
			))
			continue
		}
		logger.Info("Component stopped", logger.Fields(logger.FieldComponent, name))
	}
	return errors.Join(errs...)
}

// HealthAll checks every component concurrently and returns the results
// in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	comps := make([]Component, len(r.entries))
	for i, e := range r.entries {
		comps[i] = e.component
	}
	r.mu.RUnlock()

	results := make([]Health, len(comps))
	var wg sync.WaitGroup
	for i, c := range comps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
			defer cancel()
			h := c.Health(hctx)
			if h.Name == "" {
				h.Name = c.Name()
			}
			results[i] = h
		}()
	}
	wg.Wait()
	return results
}
