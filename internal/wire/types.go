// Package wire implements the three message schemas the worker exchanges
// with the rest of the platform (inbound request, inbound control, outbound
// event) and their length-delimited binary framing.
package wire

import "encoding/json"

// ExecuteRequest is one unit admitted by the request intake. Immutable
// once constructed.
type ExecuteRequest struct {
	WorkflowID          string
	WorkflowExecutionID string
	Start               *string
	StartArguments      []Argument
	Resume              bool
}

// Argument is name plus exactly one of {value, reference, selection}.
type Argument struct {
	Name string
	// Value holds the JSON-encoded text of the argument's value, when set.
	Value     json.RawMessage
	Reference *string
	Selection *string
}

// ControlKind discriminates the ControlMessage tagged union.
type ControlKind string

const (
	ControlWorkflow ControlKind = "workflow_control"
	ControlCase     ControlKind = "case_control"
	ControlExit     ControlKind = "exit"
)

// WorkflowControlKind is {Pause, Abort}.
type WorkflowControlKind string

const (
	WorkflowPause WorkflowControlKind = "pause"
	WorkflowAbort WorkflowControlKind = "abort"
)

// CaseControlKind is {Create, Update, Delete}.
type CaseControlKind string

const (
	CaseCreate CaseControlKind = "create"
	CaseUpdate CaseControlKind = "update"
	CaseDelete CaseControlKind = "delete"
)

// Subscription is a record (sender_id, set<event_name>): ID is the sender
// id whose events are watched, Events the event names wanted from it.
type Subscription struct {
	ID     string
	Events []string
}

// ControlMessage is the tagged union {WorkflowControl, CaseControl, Exit}.
type ControlMessage struct {
	Kind     ControlKind
	Workflow *WorkflowControl
	Case     *CaseControl
}

// WorkflowControl carries {kind, workflow_execution_id}.
type WorkflowControl struct {
	Kind                WorkflowControlKind
	WorkflowExecutionID string
}

// CaseControl carries {kind, case_id, subscriptions?}.
type CaseControl struct {
	Kind          CaseControlKind
	CaseID        string
	Subscriptions []Subscription
}

// EventKind discriminates the WireEvent tagged union.
type EventKind string

const (
	EventWorkflow     EventKind = "workflow"
	EventAction       EventKind = "action"
	EventUserMessage  EventKind = "user_message"
	EventLog          EventKind = "log"
	EventGeneral      EventKind = "general"
)

// SenderRef identifies the entity that produced a WireEvent.
type SenderRef struct {
	ID string
}

// WorkflowRef identifies the workflow a WireEvent pertains to.
type WorkflowRef struct {
	Name        string
	ID          string
	ExecutionID string
}

// WireEvent is the tagged union over {WorkflowPacket, ActionPacket,
// UserMessagePacket, LogPacket, GeneralPacket}. Every packet carries a
// Sender and a Workflow descriptor; the Kind selects which of the
// kind-specific payload fields below is populated.
type WireEvent struct {
	Kind     EventKind
	Sender   SenderRef
	Workflow WorkflowRef

	// Workflow / General packets.
	Status string

	// Action packets.
	AppName    string
	ActionName string
	DeviceID   int // -1 when absent
	Arguments  []Argument

	// User-message / Log packets.
	Message string
	Level   string

	// AdditionalData is JSON text, attached only when the emitting call
	// supplied a data payload.
	AdditionalData json.RawMessage
}
