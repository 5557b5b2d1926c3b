package models

import "time"

// StepOutcome is the recorded result of one settled node.
type StepOutcome string

const (
	StepOutcomeSuccess   StepOutcome = "success"
	StepOutcomeFailure   StepOutcome = "failure"
	StepOutcomeWaiting   StepOutcome = "waiting"
	StepOutcomeCancelled StepOutcome = "cancelled"
	StepOutcomeTimedOut  StepOutcome = "timed_out"
)

// WorkflowLog is one entry of the append-only audit ledger. Entries for a
// single execution are strictly ordered by Seq and are never mutated or
// deleted. ToNodeID is empty when the walk terminated at FromNodeID.
type WorkflowLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Seq         int            `json:"seq"`
	FromNodeID  string         `json:"from_node_id"`
	ToNodeID    string         `json:"to_node_id,omitempty"`
	Outcome     StepOutcome    `json:"outcome"`
	Detail      string         `json:"detail,omitempty"`
	Context     map[string]any `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
}
