// Package registry tracks the worker's in-flight workflow executions and
// enforces the configured concurrency capacity.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workernode/internal/metrics"
)

// ActiveWorkflow is one execution currently occupying a slot.
type ActiveWorkflow struct {
	ExecID    string
	SlotToken string
	StartedAt time.Time
	Cancel    context.CancelFunc

	pauseOnce sync.Once
	pauseCh   chan struct{}
}

// RequestPause asks the execution to suspend at its next safe point; the
// interpreter observes the request cooperatively. Safe to call more than
// once; only the first call has effect.
func (aw *ActiveWorkflow) RequestPause() {
	aw.pauseOnce.Do(func() { close(aw.pauseCh) })
}

// Paused returns the channel that closes once RequestPause has been called.
func (aw *ActiveWorkflow) Paused() <-chan struct{} {
	return aw.pauseCh
}

// Registry bounds concurrent executions to Capacity slots and maps
// execution ids to their ActiveWorkflow for control-plane lookups.
type Registry struct {
	mu       sync.Mutex
	slots    chan string // available slot tokens
	byExec   map[string]*ActiveWorkflow
	byToken  map[string]*ActiveWorkflow
	capacity int
}

// New creates a Registry with the given capacity, pre-filled with capacity
// distinct slot tokens.
func New(capacity int) *Registry {
	r := &Registry{
		slots:    make(chan string, capacity),
		byExec:   make(map[string]*ActiveWorkflow),
		byToken:  make(map[string]*ActiveWorkflow),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		r.slots <- uuid.NewString()
	}
	return r
}

// Capacity returns the configured concurrency bound.
func (r *Registry) Capacity() int { return r.capacity }

// Occupancy returns the number of slots currently bound.
func (r *Registry) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

// TryReserveSlot attempts to take one slot token without blocking. Returns
// ok=false immediately when the registry is at capacity, so the admission
// loop never parks inside the registry.
func (r *Registry) TryReserveSlot() (token string, ok bool) {
	select {
	case token = <-r.slots:
		return token, true
	default:
		return "", false
	}
}

// Bind associates a reserved slot token with an execution id. Calling Bind
// twice for the same execId without an intervening Release is a caller
// error and returns a descriptive error instead of silently overwriting
// bookkeeping; execution ids are unique while active.
func (r *Registry) Bind(token, execID string, cancel context.CancelFunc) (*ActiveWorkflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExec[execID]; exists {
		return nil, fmt.Errorf("registry: execution %s already active", execID)
	}

	aw := &ActiveWorkflow{
		ExecID:    execID,
		SlotToken: token,
		StartedAt: time.Now(),
		Cancel:    cancel,
		pauseCh:   make(chan struct{}),
	}
	r.byExec[execID] = aw
	r.byToken[token] = aw
	metrics.RegistryOccupancy.Set(float64(len(r.byToken)))
	return aw, nil
}

// Unreserve returns a reserved-but-never-bound slot token to the pool, used
// when admission is abandoned before Bind (a poll tick with no request, or a
// Bind rejected for a duplicate execution id). Calling it for a token that
// is still bound is a caller error; use Release for those.
func (r *Registry) Unreserve(token string) {
	r.slots <- token
}

// Release returns a bound slot token to the pool and removes the execution
// from the registry. Safe to call once per Bind; a second call for the same
// token is a no-op.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	aw, ok := r.byToken[token]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byToken, token)
	delete(r.byExec, aw.ExecID)
	metrics.RegistryOccupancy.Set(float64(len(r.byToken)))
	r.mu.Unlock()

	r.slots <- token
}

// LookupByExecID finds the ActiveWorkflow for a running execution, used by
// the control intake to route pause/abort commands.
func (r *Registry) LookupByExecID(execID string) (*ActiveWorkflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	aw, ok := r.byExec[execID]
	return aw, ok
}
