package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Func releases one resource during shutdown. It should give up when ctx
// expires.
type Func func(ctx context.Context) error

// Priorities used by the serve command. Lower runs first.
const (
	PriorityHTTP     = 10 // stop accepting requests
	PriorityWorkers  = 20 // background schedulers
	PriorityPipeline = 30 // free model weights
	PriorityStorage  = 40 // history writer and database
	PriorityLogger   = 90 // flush logs last
)

type registryEntry struct {
	name     string
	priority int
	fn       Func
}

// Registry holds cleanup functions and runs them once, in priority order.
// Entries with the same priority run in registration order.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
	closed  bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registration after Run is ignored.
func (r *Registry) Register(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, registryEntry{name: name, priority: priority, fn: fn})
}

func (r *Registry) sorted() []registryEntry {
	out := make([]registryEntry, len(r.entries))
	copy(out, r.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

// Run calls every function, even after failures, and joins their errors.
// Only the first call does anything.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists registered functions in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
