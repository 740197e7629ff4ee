package router

import (
	"maps"
	"sync"

	rtsup "quotebot/internal/runtime/supervisor"
)

// SupervisorRegistry names the subsystem supervisors shown by /health.
// A nil registry ignores writes.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers sup under name; a nil sup deletes the entry.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) { r.Set(name, nil) }

func (r *SupervisorRegistry) Snapshot() map[string]*rtsup.Supervisor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.m)
}
