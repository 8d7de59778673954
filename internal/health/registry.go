// Package health tracks the schedulers and notifiers of this process for
// liveness and readiness probes.
package health

import (
	"sort"
	"sync"

	"github.com/RezaEskandarii/gofire/internal/scheduler"
)

type Scheduler interface {
	Name() string
	State() scheduler.State
	Stats() scheduler.Stats
}

type Notifier interface {
	Connected() bool
}

// Registry is the explicit list of components a process runs. Components
// register on start and deregister on shutdown.
type Registry struct {
	mu         sync.RWMutex
	schedulers map[Scheduler]struct{}
	notifiers  map[Notifier]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		schedulers: map[Scheduler]struct{}{},
		notifiers:  map[Notifier]struct{}{},
	}
}

func (r *Registry) RegisterScheduler(s Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedulers[s] = struct{}{}
}

func (r *Registry) DeregisterScheduler(s Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedulers, s)
}

func (r *Registry) RegisterNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n] = struct{}{}
}

func (r *Registry) DeregisterNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notifiers, n)
}

// Started reports whether at least one scheduler exists and every
// scheduler is running.
func (r *Registry) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.schedulers) == 0 {
		return false
	}
	for s := range r.schedulers {
		if s.State() != scheduler.StateRunning {
			return false
		}
	}
	return true
}

// Connected reports Started and at least one connected notifier.
func (r *Registry) Connected() bool {
	if !r.Started() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.notifiers {
		if n.Connected() {
			return true
		}
	}
	return false
}

// SchedulerStatus is one scheduler as reported by Snapshot.
type SchedulerStatus struct {
	Name  string          `json:"name"`
	State string          `json:"state"`
	Stats scheduler.Stats `json:"stats"`
}

type Snapshot struct {
	Started    bool              `json:"started"`
	Connected  bool              `json:"connected"`
	Schedulers []SchedulerStatus `json:"schedulers"`
}

func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Started: r.Started(), Connected: r.Connected()}

	r.mu.RLock()
	for s := range r.schedulers {
		snap.Schedulers = append(snap.Schedulers, SchedulerStatus{
			Name:  s.Name(),
			State: s.State().String(),
			Stats: s.Stats(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(snap.Schedulers, func(i, j int) bool { return snap.Schedulers[i].Name < snap.Schedulers[j].Name })
	return snap
}
