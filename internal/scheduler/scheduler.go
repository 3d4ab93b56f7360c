// Package scheduler implements the worker's main admission loop: pulling
// requests from the intake, reserving a capacity slot, loading and running
// a workflow, and releasing the slot exactly once per admitted request.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/workernode/internal/bridge"
	"github.com/ocx/workernode/internal/interpreter"
	"github.com/ocx/workernode/internal/poisonwindow"
	"github.com/ocx/workernode/internal/registry"
	"github.com/ocx/workernode/internal/store"
	"github.com/ocx/workernode/internal/transport"
	"github.com/ocx/workernode/internal/wire"
)

// Requester yields the next decoded request, blocking up to its own poll
// timeout. intake.RequestIntake satisfies this.
type Requester interface {
	Next(ctx context.Context) (*wire.ExecuteRequest, error)
}

// WorkflowLoader resolves a workflow id to a runnable definition. Kept
// abstract: this worker does not own workflow compilation.
type WorkflowLoader interface {
	Load(ctx context.Context, workflowID string) (*interpreter.Workflow, error)
}

// SnapshotStore is the persistence surface the scheduler needs for resume
// state. *store.Store satisfies this.
type SnapshotStore interface {
	Save(ctx context.Context, sw *store.SavedWorkflow) error
	Load(ctx context.Context, executionID string) (*store.SavedWorkflow, error)
	Delete(ctx context.Context, executionID string) error
}

// ErrWorkflowNotFound is returned by a WorkflowLoader when workflowID has no
// definition. The scheduler treats this distinctly from other load errors:
// it publishes an aborted-workflow event instead of only logging.
var ErrWorkflowNotFound = errors.New("scheduler: workflow not found")

// statusAbortedNotFound is the WorkflowPacket status published when a
// request names a workflow id the loader cannot resolve.
const statusAbortedNotFound = "aborted: not found"

// Scheduler runs the admission loop against a fixed capacity.
type Scheduler struct {
	// RequestShutdown, when set, is invoked once an Exit control message
	// arrives; the process wires it to its own shutdown path. The control
	// stream itself ends as part of that shutdown.
	RequestShutdown func()

	requests Requester
	loader   WorkflowLoader
	runner   interpreter.Runner
	reg      *registry.Registry
	store    SnapshotStore
	cache    *bridge.SubscriptionCache
	fwd      bridge.Forwarder
	poison   *poisonwindow.Window
	quantum  time.Duration

	wg sync.WaitGroup
}

// New builds a Scheduler. store may be nil when resume/persistence is not
// configured; the scheduler then runs every request fresh. quantum is how
// long the admission loop sleeps while the registry is at capacity.
func New(
	requests Requester,
	loader WorkflowLoader,
	runner interpreter.Runner,
	reg *registry.Registry,
	st SnapshotStore,
	cache *bridge.SubscriptionCache,
	fwd bridge.Forwarder,
	poison *poisonwindow.Window,
	quantum time.Duration,
) *Scheduler {
	if quantum <= 0 {
		quantum = 100 * time.Millisecond
	}
	return &Scheduler{
		requests: requests,
		loader:   loader,
		runner:   runner,
		reg:      reg,
		store:    st,
		cache:    cache,
		fwd:      fwd,
		poison:   poison,
		quantum:  quantum,
	}
}

// Run loops admitting requests until ctx is canceled, then waits for all
// in-flight dispatches to finish.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		default:
		}

		// Capacity is checked before anything is popped: while the registry
		// is full no request leaves the shared queue, so other workers can
		// pick it up instead of it sitting in this worker's memory.
		token, ok := s.reg.TryReserveSlot()
		if !ok {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return
			case <-time.After(s.quantum):
			}
			continue
		}

		req, err := s.requests.Next(ctx)
		if err != nil {
			s.reg.Unreserve(token)
			if errors.Is(err, context.Canceled) {
				s.wg.Wait()
				return
			}
			if errors.Is(err, transport.ErrNoRequest) {
				continue
			}
			if s.poison.RecordFailure(time.Now()) {
				slog.Error("scheduler: dropping unreadable request, poison window escalated", "error", err)
			} else {
				slog.Warn("scheduler: dropping unreadable request", "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go s.dispatch(ctx, token, req)
	}
}

// dispatch runs one admitted request to completion. The slot is always
// released exactly once, even on panic, and a panicking runner is
// contained here rather than taking the process down.
func (s *Scheduler) dispatch(ctx context.Context, token string, req *wire.ExecuteRequest) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: dispatch panicked", "exec_id", req.WorkflowExecutionID, "panic", r)
		}
	}()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	aw, err := s.reg.Bind(token, req.WorkflowExecutionID, cancel)
	if err != nil {
		s.reg.Unreserve(token)
		slog.Warn("scheduler: bind failed", "exec_id", req.WorkflowExecutionID, "error", err)
		return
	}
	defer s.reg.Release(token)
	execCtx = interpreter.WithPauseSignal(execCtx, aw.Paused())

	wf, err := s.loader.Load(execCtx, req.WorkflowID)
	if errors.Is(err, ErrWorkflowNotFound) {
		notFoundSink := bridge.NewSink(s.cache, s.fwd, nil, req.WorkflowID, req.WorkflowExecutionID, wire.WorkflowRef{
			ID:          req.WorkflowID,
			ExecutionID: req.WorkflowExecutionID,
		})
		notFoundSink.OnWorkflowEvent(statusAbortedNotFound)
		return
	}
	if err != nil {
		slog.Error("scheduler: load workflow failed", "workflow_id", req.WorkflowID, "error", err)
		s.recordFailure()
		return
	}

	var resumeState []byte
	if req.Resume && s.store != nil {
		saved, err := s.store.Load(execCtx, req.WorkflowExecutionID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("scheduler: resume snapshot load failed", "exec_id", req.WorkflowExecutionID, "error", err)
			}
		} else {
			resumeState = saved.State
		}
	}

	var snapshotStore bridge.SnapshotStore
	if s.store != nil {
		snapshotStore = s.store
	}

	sink := bridge.NewSink(s.cache, s.fwd, snapshotStore, wf.ID, req.WorkflowExecutionID, wire.WorkflowRef{
		Name:        wf.Name,
		ID:          wf.ID,
		ExecutionID: req.WorkflowExecutionID,
	})

	if err := s.runner.Execute(execCtx, wf, req.WorkflowExecutionID, req.Resume, resumeState, sink); err != nil {
		slog.Error("scheduler: execution failed", "exec_id", req.WorkflowExecutionID, "error", err)
		s.recordFailure()
		return
	}

	s.poison.RecordSuccess()
	if s.store != nil {
		if err := s.store.Delete(execCtx, req.WorkflowExecutionID); err != nil {
			slog.Warn("scheduler: clear snapshot failed", "exec_id", req.WorkflowExecutionID, "error", err)
		}
	}
}

// Drain blocks until every in-flight dispatch has finished or ctx expires,
// returning ctx.Err() on timeout so the caller can report an unclean exit.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordFailure feeds the same poison window used for unreadable frames:
// both are symptoms of poisoned input repeatedly reaching the
// scheduler, and should escalate together rather than tripping two
// independent thresholds.
func (s *Scheduler) recordFailure() {
	if s.poison.RecordFailure(time.Now()) {
		slog.Error("scheduler: poison window escalated after repeated execution-start failures")
	}
}

// HandleControl implements intake.Handler.
func (s *Scheduler) HandleControl(msg *wire.ControlMessage) {
	switch msg.Kind {
	case wire.ControlWorkflow:
		s.handleWorkflowControl(msg.Workflow)
	case wire.ControlCase:
		s.handleCaseControl(msg.Case)
	case wire.ControlExit:
		// Exit tears down this worker only, never the fleet; the warning
		// flags the message for operators since upstream senders have been
		// observed to intend either.
		slog.Warn("scheduler: received exit control message, shutting down this worker")
		if s.RequestShutdown != nil {
			s.RequestShutdown()
		}
	default:
		slog.Warn("scheduler: unknown control message kind", "kind", msg.Kind)
	}
}

func (s *Scheduler) handleWorkflowControl(wc *wire.WorkflowControl) {
	if wc == nil {
		return
	}
	aw, ok := s.reg.LookupByExecID(wc.WorkflowExecutionID)
	if !ok {
		// Idempotent: a pause/abort for an execution that already finished
		// (or never existed here) is not an error.
		return
	}
	switch wc.Kind {
	case wire.WorkflowAbort:
		aw.Cancel()
	case wire.WorkflowPause:
		aw.RequestPause()
	default:
		slog.Warn("scheduler: unknown workflow control kind", "kind", wc.Kind)
	}
}

func (s *Scheduler) handleCaseControl(cc *wire.CaseControl) {
	if cc == nil {
		return
	}
	subs := make(map[string][]string, len(cc.Subscriptions))
	for _, sub := range cc.Subscriptions {
		subs[sub.ID] = sub.Events
	}
	switch cc.Kind {
	case wire.CaseCreate:
		s.cache.Create(cc.CaseID, subs)
	case wire.CaseUpdate:
		s.cache.Update(cc.CaseID, subs)
	case wire.CaseDelete:
		s.cache.Delete(cc.CaseID)
	default:
		slog.Warn("scheduler: unknown case control kind", "kind", cc.Kind)
	}
}
