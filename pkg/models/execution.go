package models

import (
	"fmt"
	"time"
)

// ExecutionStatus represents the state of a single workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status machine allows moving from s to
// next. Transitions are monotonic forward except running <-> waiting.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next.IsTerminal()
	case ExecutionStatusRunning:
		return next == ExecutionStatusWaiting || next.IsTerminal()
	case ExecutionStatusWaiting:
		return next == ExecutionStatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// WaitReason records why a waiting execution is parked.
type WaitReason string

const (
	WaitReasonDelay    WaitReason = "delay"    // Delay node, resume at ResumeAt
	WaitReasonDispatch WaitReason = "dispatch" // Asynchronous action, resumed by callback
	WaitReasonRetry    WaitReason = "retry"    // Transient failure backoff, resume at ResumeAt
)

// Subject identifies the domain entity a run was started for, e.g. a lead.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// WorkflowExecution is one run of a workflow for a specific subject. Version
// implements optimistic locking: every save must carry the version it loaded,
// and a stale save is rejected so two actors can never double-advance a run.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	ProjectID     string          `json:"project_id"`
	Subject       Subject         `json:"subject"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id"`
	Context       map[string]any  `json:"context"`
	WaitReason    WaitReason      `json:"wait_reason,omitempty"`
	ResumeAt      *time.Time      `json:"resume_at,omitempty"`
	AwaitedNodeID string          `json:"awaited_node_id,omitempty"`
	Attempts      int             `json:"attempts"`
	Version       int64           `json:"version"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
}

// IsTerminal reports whether the execution reached a final state.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// TransitionTo moves the execution into next, rejecting any move the status
// machine does not allow. Every engine status change goes through here.
func (e *WorkflowExecution) TransitionTo(next ExecutionStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("execution %s cannot transition from %s to %s", e.ID, e.Status, next)
	}

	e.Status = next

	return nil
}

// ContextSnapshot returns a shallow copy of the execution context, safe to
// store in an append-only log entry.
func (e *WorkflowExecution) ContextSnapshot() map[string]any {
	snapshot := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		snapshot[k] = v
	}

	return snapshot
}
