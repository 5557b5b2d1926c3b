// Package protocol defines the contracts between the execution engine and
// pluggable action handlers.
package protocol

import (
	"context"

	"github.com/vendelabs/fluxo/pkg/models"
)

// DispatchOutcome is the settled result of one action dispatch.
type DispatchOutcome string

const (
	// DispatchSucceeded means the side effect happened.
	DispatchSucceeded DispatchOutcome = "succeeded"

	// DispatchFailed means the side effect definitively did not happen.
	DispatchFailed DispatchOutcome = "failed"

	// DispatchPending means the side effect was handed off to an external
	// system; the engine parks the execution until a callback settles it.
	DispatchPending DispatchOutcome = "pending"
)

// DispatchRequest carries everything a handler needs to perform one action.
type DispatchRequest struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	Action      string
	Parameters  map[string]any
	Subject     models.Subject
	Context     map[string]any
	Attempt     int
}

// DispatchResult is what a handler reports back. Output is merged into the
// execution context under the node's ID.
type DispatchResult struct {
	Outcome DispatchOutcome
	Output  map[string]any
	Detail  string
}

// ActionDispatcher is the engine's only gateway to side effects. The engine
// never performs I/O toward external systems itself.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, request DispatchRequest) (*DispatchResult, error)
}
