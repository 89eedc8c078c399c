package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bgstudio/core"
)

// Cleanup priorities used by main. Lower runs first: the HTTP server stops
// taking requests, live workflows are flushed, queued audit writes drain,
// then storage, files and finally the logger are closed.
const (
	PriorityHTTPServer  = 10
	PriorityWorkflows   = 20
	PriorityAsyncWriter = 25
	PriorityStorage     = 30
	PriorityFiles       = 40
	PriorityLogger      = 90
)

// shutdownEntry holds a registered shutdown function with metadata.
type shutdownEntry struct {
	name     string
	fn       core.ShutdownFunc
	priority int // lower = earlier execution
}

// ShutdownRegistry runs cleanup functions in priority order. Entries with
// the same priority run in registration order.
//
// This is a molecule that composes core.ShutdownFunc with priority ordering
// and thread-safe registration.
//
// Usage:
//
//	registry := NewShutdownRegistry()
//	registry.Register("http-server", PriorityHTTPServer, server.Shutdown)
//	registry.Register("database", PriorityStorage, func(ctx context.Context) error {
//	    return database.Close()
//	})
//
//	for _, err := range registry.Shutdown(ctx) {
//	    logger.Error("cleanup failed", zap.Error(err))
//	}
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []shutdownEntry
	closed  bool
}

// NewShutdownRegistry creates an empty registry ready to accept
// registrations.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds a shutdown function with a name and priority.
// Lower priority values execute earlier during shutdown.
// Registration after Shutdown has been called is a no-op.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, shutdownEntry{name: name, fn: fn, priority: priority})
}

// Shutdown executes all registered functions in priority order. Every
// function runs even when an earlier one fails, and each receives ctx for
// its deadline. The returned errors are prefixed with the entry name.
//
// Only the first call does anything; later calls return nil.
func (r *ShutdownRegistry) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, entry := range sorted {
		if err := entry.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		}
	}
	return errs
}

// Names returns entry names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	sorted := r.sortedLocked()
	r.mu.Unlock()

	names := make([]string, len(sorted))
	for i, entry := range sorted {
		names[i] = entry.name
	}
	return names
}

// Count returns the number of registered functions.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *ShutdownRegistry) sortedLocked() []shutdownEntry {
	sorted := make([]shutdownEntry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}
