package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ocx/workernode/internal/interpreter"
	"github.com/ocx/workernode/internal/store"
	"github.com/ocx/workernode/internal/wire"
)

// consoleLogEventName is the fixed event name logged/matched for every
// ConsoleLog callback, regardless of which sender produced it.
const consoleLogEventName = "ConsoleLog"

// sendMessageEventName is the fixed event name for OnSendMessage callbacks.
const sendMessageEventName = "SendMessage"

// Statuses that require a SavedWorkflow snapshot to be persisted before
// the corresponding event is published.
const (
	statusAwaitingData = "TriggerActionAwaitingData"
	statusPaused       = "WorkflowPaused"
)

// Forwarder hands an encoded event frame to the results publisher. The
// publisher package implements this.
type Forwarder interface {
	Forward(payload []byte)
}

// SnapshotStore is the narrow persistence contract the bridge needs to save
// resume state. *store.Store satisfies it.
type SnapshotStore interface {
	Save(ctx context.Context, sw *store.SavedWorkflow) error
}

// Sink implements interpreter.WorkflowSink for one execution: it resolves
// matching subscriptions against every live case (not just one tied to
// this execution; cases are a worker-global concept, see
// SubscriptionCache), persists resume snapshots when the interpreter
// requests it, and forwards every event to the results publisher
// unconditionally. Subscription matching only governs the per-case log,
// never whether the results channel sees the event.
type Sink struct {
	cache      *SubscriptionCache
	fwd        Forwarder
	store      SnapshotStore
	workflowID string
	execID     string
	workflow   wire.WorkflowRef

	// currentAction is the sender id of the action most recently reported
	// by the interpreter. Console logs are attributed to it: the log is
	// logically produced by the executing action, not the framework hook
	// that captured it. All callbacks arrive on the runner's goroutine, so
	// no lock guards it.
	currentAction string

	pending    interpreter.Snapshot
	hasPending bool
}

// NewSink builds a Sink for one execution. store may be nil when
// persistence is not configured; snapshot events are then published without
// being saved.
func NewSink(cache *SubscriptionCache, fwd Forwarder, st SnapshotStore, workflowID, execID string, wf wire.WorkflowRef) *Sink {
	return &Sink{cache: cache, fwd: fwd, store: st, workflowID: workflowID, execID: execID, workflow: wf}
}

// encodeArgValue serializes a native argument value to the JSON text the
// wire schema carries. Pre-encoded JSON passes through untouched; any other
// value is marshaled, and one that cannot be marshaled is carried as its
// string form instead. An argument is never dropped for an unserializable
// value.
func encodeArgValue(v any) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			b, _ = json.Marshal(fmt.Sprint(val))
		}
		return b
	}
}

// emit records a (sender, event) match against every case's subscriptions
// and always forwards the encoded event to the results channel; the
// subscription cache filters the case log only.
func (s *Sink) emit(ev *wire.WireEvent, senderID, eventName string) {
	s.cache.Record(senderID, eventName, ev.AdditionalData)

	payload, err := wire.EncodeEvent(ev)
	if err != nil {
		slog.Warn("bridge: encode event failed", "exec_id", s.execID, "error", err)
		return
	}
	s.fwd.Forward(payload)
}

// OnSnapshot stashes the interpreter's current state; it is persisted by the
// next OnWorkflowEvent call carrying a persisting status.
func (s *Sink) OnSnapshot(snap interpreter.Snapshot) {
	s.pending = snap
	s.hasPending = true
}

func (s *Sink) persistPending(status string) {
	if status != statusAwaitingData && status != statusPaused {
		return
	}
	if !s.hasPending || s.store == nil {
		return
	}
	s.hasPending = false

	state, err := json.Marshal(struct {
		Accumulator  json.RawMessage `json:"accumulator"`
		Branches     json.RawMessage `json:"branches"`
		AppInstances json.RawMessage `json:"app_instances"`
	}{s.pending.Accumulator, s.pending.Branches, s.pending.AppInstances})
	if err != nil {
		slog.Warn("bridge: marshal snapshot failed", "exec_id", s.execID, "error", err)
		return
	}

	sw := &store.SavedWorkflow{ExecutionID: s.execID, WorkflowID: s.workflowID, State: state}
	if err := s.store.Save(context.Background(), sw); err != nil {
		slog.Warn("bridge: persist snapshot failed", "exec_id", s.execID, "error", err)
	}
}

// OnWorkflowEvent reports a workflow-level status change.
func (s *Sink) OnWorkflowEvent(status string) {
	s.persistPending(status)
	s.emit(&wire.WireEvent{
		Kind:     wire.EventWorkflow,
		Sender:   wire.SenderRef{ID: s.workflow.ID},
		Workflow: s.workflow,
		Status:   status,
	}, s.workflow.ID, status)
}

// OnActionEvent reports one action invocation.
func (s *Sink) OnActionEvent(ev interpreter.ActionEvent) {
	s.currentAction = ev.SenderID

	args := make([]wire.Argument, 0, len(ev.Arguments))
	for _, a := range ev.Arguments {
		args = append(args, wire.Argument{
			Name:      a.Name,
			Value:     encodeArgValue(a.Value),
			Reference: a.Reference,
			Selection: a.Selection,
		})
	}
	s.emit(&wire.WireEvent{
		Kind:       wire.EventAction,
		Sender:     wire.SenderRef{ID: ev.SenderID},
		Workflow:   s.workflow,
		AppName:    ev.AppName,
		ActionName: ev.ActionName,
		DeviceID:   ev.DeviceID,
		Status:     ev.Status,
		Arguments:  args,
	}, ev.SenderID, ev.Status)
}

// OnLog reports one log line. Sender rewriting: anything logged through the
// interpreter's console hook is re-stamped with the currently executing
// action's sender id, since that action is what logically produced the
// line. The workflow id stands in when no action has started yet.
func (s *Sink) OnLog(ev interpreter.LogEvent) {
	sender := ev.Sender
	if sender == "" || sender == "ConsoleLog" {
		sender = s.currentAction
		if sender == "" {
			sender = s.workflow.ID
		}
	}
	out := &wire.WireEvent{
		Kind:     wire.EventLog,
		Workflow: s.workflow,
		Sender:   wire.SenderRef{ID: sender},
		Level:    ev.Level,
		Message:  ev.Message,
	}
	// A log call only carries AdditionalData when its originating call
	// attached a data payload. Presence of the payload is what matters,
	// not its value.
	if len(ev.Data) > 0 {
		out.AdditionalData = json.RawMessage(ev.Data)
	}
	s.emit(out, sender, consoleLogEventName)
}

// OnSendMessage reports a user-directed message.
func (s *Sink) OnSendMessage(message string) {
	s.emit(&wire.WireEvent{
		Kind:     wire.EventUserMessage,
		Sender:   wire.SenderRef{ID: s.workflow.ID},
		Workflow: s.workflow,
		Message:  message,
	}, s.workflow.ID, sendMessageEventName)
}

// OnBranchEvent reports a branch/general status change.
func (s *Sink) OnBranchEvent(status string) {
	s.emit(&wire.WireEvent{
		Kind:     wire.EventGeneral,
		Sender:   wire.SenderRef{ID: s.workflow.ID},
		Workflow: s.workflow,
		Status:   status,
	}, s.workflow.ID, status)
}
