package wire

import (
	"encoding/json"
	"fmt"
)

// CodecError wraps a decode failure with the offending tag, when known.
type CodecError struct {
	Tag string
	Err error
}

func (e *CodecError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("wire: %s (tag=%q)", e.Err, e.Tag)
	}
	return fmt.Sprintf("wire: %s", e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// ErrUnknownTag is returned (wrapped in a *CodecError) when a frame's
// discriminator does not match any known schema.
var ErrUnknownTag = fmt.Errorf("unknown tag")

// argumentWire is the JSON shape of Argument on the wire.
type argumentWire struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value,omitempty"`
	Reference *string         `json:"reference,omitempty"`
	Selection *string         `json:"selection,omitempty"`
}

func decodeArguments(raw []argumentWire) []Argument {
	out := make([]Argument, 0, len(raw))
	for _, a := range raw {
		out = append(out, Argument{
			Name:      a.Name,
			Value:     a.Value,
			Reference: a.Reference,
			Selection: a.Selection,
		})
	}
	return out
}

func encodeArguments(args []Argument) []argumentWire {
	out := make([]argumentWire, 0, len(args))
	for _, a := range args {
		out = append(out, argumentWire{
			Name:      a.Name,
			Value:     a.Value,
			Reference: a.Reference,
			Selection: a.Selection,
		})
	}
	return out
}

// requestWire is the on-the-wire ExecuteWorkflowMessage schema.
type requestWire struct {
	Type                string         `json:"type"`
	WorkflowID          string         `json:"workflow_id"`
	WorkflowExecutionID string         `json:"workflow_execution_id"`
	Start               *string        `json:"start,omitempty"`
	StartArguments      []argumentWire `json:"start_arguments,omitempty"`
	Resume              bool           `json:"resume,omitempty"`
}

// DecodeRequest parses one ExecuteWorkflowMessage frame.
func DecodeRequest(payload []byte) (*ExecuteRequest, error) {
	var w requestWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &CodecError{Err: err}
	}
	if w.Type != "" && w.Type != "execute" {
		return nil, &CodecError{Tag: w.Type, Err: ErrUnknownTag}
	}
	return &ExecuteRequest{
		WorkflowID:          w.WorkflowID,
		WorkflowExecutionID: w.WorkflowExecutionID,
		Start:               w.Start,
		StartArguments:      decodeArguments(w.StartArguments),
		Resume:              w.Resume,
	}, nil
}

// EncodeRequest serializes an ExecuteRequest, mainly for tests and replay.
func EncodeRequest(req *ExecuteRequest) ([]byte, error) {
	w := requestWire{
		Type:                "execute",
		WorkflowID:          req.WorkflowID,
		WorkflowExecutionID: req.WorkflowExecutionID,
		Start:               req.Start,
		StartArguments:      encodeArguments(req.StartArguments),
		Resume:              req.Resume,
	}
	return json.Marshal(w)
}

// controlWire is the on-the-wire CommunicationPacket schema: one envelope
// with a type tag and one populated kind-specific field.
type controlWire struct {
	Type string `json:"type"`

	WorkflowControlKind string `json:"kind,omitempty"`
	WorkflowExecutionID string `json:"workflow_execution_id,omitempty"`

	CaseControlKind string               `json:"case_kind,omitempty"`
	CaseID          string               `json:"case_id,omitempty"`
	Subscriptions   []subscriptionWire   `json:"subscriptions,omitempty"`
}

type subscriptionWire struct {
	ID     string   `json:"id"`
	Events []string `json:"events"`
}

// DecodeControl parses one CommunicationPacket frame into a ControlMessage.
func DecodeControl(payload []byte) (*ControlMessage, error) {
	var w controlWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &CodecError{Err: err}
	}

	switch ControlKind(w.Type) {
	case ControlWorkflow:
		return &ControlMessage{
			Kind: ControlWorkflow,
			Workflow: &WorkflowControl{
				Kind:                WorkflowControlKind(w.WorkflowControlKind),
				WorkflowExecutionID: w.WorkflowExecutionID,
			},
		}, nil
	case ControlCase:
		subs := make([]Subscription, 0, len(w.Subscriptions))
		for _, s := range w.Subscriptions {
			subs = append(subs, Subscription{ID: s.ID, Events: s.Events})
		}
		return &ControlMessage{
			Kind: ControlCase,
			Case: &CaseControl{
				Kind:          CaseControlKind(w.CaseControlKind),
				CaseID:        w.CaseID,
				Subscriptions: subs,
			},
		}, nil
	case ControlExit:
		return &ControlMessage{Kind: ControlExit}, nil
	default:
		return nil, &CodecError{Tag: w.Type, Err: ErrUnknownTag}
	}
}

// eventWire is the on-the-wire Message schema for outbound events.
type eventWire struct {
	Type string `json:"type"`

	SenderID     string `json:"sender_id"`
	WorkflowName string `json:"workflow_name"`
	WorkflowID   string `json:"workflow_id"`
	ExecutionID  string `json:"workflow_execution_id"`

	Status string `json:"status,omitempty"`

	AppName    string         `json:"app_name,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	DeviceID   *int           `json:"device_id,omitempty"`
	Arguments  []argumentWire `json:"arguments,omitempty"`

	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	AdditionalData json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent serializes a WireEvent for the results channel.
func EncodeEvent(ev *WireEvent) ([]byte, error) {
	w := eventWire{
		Type:           string(ev.Kind),
		SenderID:       ev.Sender.ID,
		WorkflowName:   ev.Workflow.Name,
		WorkflowID:     ev.Workflow.ID,
		ExecutionID:    ev.Workflow.ExecutionID,
		Status:         ev.Status,
		AppName:        ev.AppName,
		ActionName:     ev.ActionName,
		Arguments:      encodeArguments(ev.Arguments),
		Message:        ev.Message,
		Level:          ev.Level,
		AdditionalData: ev.AdditionalData,
	}
	// device_id only exists on action packets; absent devices stay off the
	// wire and decode back to -1.
	if ev.Kind == EventAction && ev.DeviceID >= 0 {
		w.DeviceID = &ev.DeviceID
	}
	return json.Marshal(w)
}

// DecodeEvent parses a Message frame, mainly used by tests asserting on
// publisher output.
func DecodeEvent(payload []byte) (*WireEvent, error) {
	var w eventWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &CodecError{Err: err}
	}

	kind := EventKind(w.Type)
	switch kind {
	case EventWorkflow, EventAction, EventUserMessage, EventLog, EventGeneral:
	default:
		return nil, &CodecError{Tag: w.Type, Err: ErrUnknownTag}
	}

	deviceID := -1
	if w.DeviceID != nil {
		deviceID = *w.DeviceID
	}

	return &WireEvent{
		Kind:   kind,
		Sender: SenderRef{ID: w.SenderID},
		Workflow: WorkflowRef{
			Name:        w.WorkflowName,
			ID:          w.WorkflowID,
			ExecutionID: w.ExecutionID,
		},
		Status:         w.Status,
		AppName:        w.AppName,
		ActionName:     w.ActionName,
		DeviceID:       deviceID,
		Arguments:      decodeArguments(w.Arguments),
		Message:        w.Message,
		Level:          w.Level,
		AdditionalData: w.AdditionalData,
	}, nil
}
