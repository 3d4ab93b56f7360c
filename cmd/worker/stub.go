package main

import (
	"context"
	"fmt"

	"github.com/ocx/workernode/internal/interpreter"
)

// loaderStub and runnerStub stand in for the platform's actual workflow
// compiler and execution engine, which live outside this component's
// scope. A real deployment wires its own interpreter.Runner and
// WorkflowLoader here.
type loaderStub struct{}

func (loaderStub) Load(_ context.Context, workflowID string) (*interpreter.Workflow, error) {
	return nil, fmt.Errorf("worker: no workflow loader configured for %s", workflowID)
}

type runnerStub struct{}

func (runnerStub) Execute(_ context.Context, wf *interpreter.Workflow, execID string, resume bool, resumeState []byte, sink interpreter.WorkflowSink) error {
	return fmt.Errorf("worker: no workflow runner configured")
}
