// Package registry owns the set of active sagas in the process and answers
// aggregate queries. It is the only mutable structure shared across saga
// goroutines.
package registry

import (
	"fmt"
	"sync"

	"github.com/narenallam/e-commerce-saga/internal/metrics"
	"github.com/narenallam/e-commerce-saga/internal/saga"
)

// Statistics 聚合统计
type Statistics struct {
	TotalActive         int                 `json:"total_active"`
	StatusBreakdown     map[saga.Status]int `json:"status_breakdown"`
	TotalSteps          int                 `json:"total_steps"`
	CompletedSteps      int                 `json:"completed_steps"`
	StepCompletionRate  float64             `json:"step_completion_rate"`
	AverageStepsPerSaga float64             `json:"average_steps_per_saga"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	sagas map[string]*saga.Saga
}

func New() *Registry {
	return &Registry{sagas: make(map[string]*saga.Saga)}
}

// Register inserts a saga at creation. An ID collision is a programming
// error.
func (r *Registry) Register(s *saga.Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sagas[s.ID]; exists {
		return fmt.Errorf("saga already registered: %s", s.ID)
	}
	r.sagas[s.ID] = s
	metrics.SetActiveSagas(len(r.sagas))
	return nil
}

// Get returns a read-only snapshot of one saga.
func (r *Registry) Get(id string) (saga.Snapshot, bool) {
	r.mu.RLock()
	s, ok := r.sagas[id]
	r.mu.RUnlock()

	if !ok {
		return saga.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// List returns snapshots of every registered saga.
func (r *Registry) List() []saga.Snapshot {
	r.mu.RLock()
	live := make([]*saga.Saga, 0, len(r.sagas))
	for _, s := range r.sagas {
		live = append(live, s)
	}
	r.mu.RUnlock()

	out := make([]saga.Snapshot, len(live))
	for i, s := range live {
		out[i] = s.Snapshot()
	}
	return out
}

// Abort flags a running saga for cancellation. The engine samples the flag
// between step boundaries.
func (r *Registry) Abort(id string) (saga.Snapshot, error) {
	r.mu.RLock()
	s, ok := r.sagas[id]
	r.mu.RUnlock()

	if !ok {
		return saga.Snapshot{}, ErrNotFound
	}
	if s.Status().Terminal() {
		return s.Snapshot(), ErrNotRunning
	}
	s.Abort()
	return s.Snapshot(), nil
}

// Evict removes a saga; retention policy belongs to the caller.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sagas[id]; !ok {
		return false
	}
	delete(r.sagas, id)
	metrics.SetActiveSagas(len(r.sagas))
	return true
}

// Statistics aggregates over a consistent snapshot of the registry.
func (r *Registry) Statistics() Statistics {
	snaps := r.List()

	stats := Statistics{
		TotalActive:     len(snaps),
		StatusBreakdown: make(map[saga.Status]int),
	}
	for _, snap := range snaps {
		stats.StatusBreakdown[snap.Status]++
		stats.TotalSteps += snap.TotalSteps
		stats.CompletedSteps += snap.StepsCompleted
	}
	if stats.TotalSteps > 0 {
		stats.StepCompletionRate = float64(stats.CompletedSteps) / float64(stats.TotalSteps)
	}
	if stats.TotalActive > 0 {
		stats.AverageStepsPerSaga = float64(stats.TotalSteps) / float64(stats.TotalActive)
	}
	return stats
}

var (
	ErrNotFound   = fmt.Errorf("saga not found")
	ErrNotRunning = fmt.Errorf("saga is not running")
)
