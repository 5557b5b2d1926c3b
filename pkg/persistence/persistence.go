// Package persistence provides the storage abstraction for workflows,
// executions, logs, schedules and dispatch records.
package persistence

import (
	"context"
	"time"

	"github.com/vendelabs/fluxo/pkg/models"
)

// Persistence aggregates every repository one storage backend provides.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	LogRepository() LogRepository
	ScheduleRepository() ScheduleRepository
	DispatchRepository() DispatchRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. Delete is a soft delete;
// definitions referenced by executions are never removed.
type WorkflowRepository interface {
	All(ctx context.Context) ([]*models.Workflow, error)
	ByID(ctx context.Context, id string) (*models.Workflow, error)
	ListActive(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow runs. Save enforces optimistic
// locking: the stored version must match execution.Version, which is then
// incremented. A mismatch returns ErrExecutionConflict.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	ByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	// ListDueWaiting returns waiting executions whose resume deadline has
	// passed at the given time.
	ListDueWaiting(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error)

	// ListOverrunning returns non-terminal executions started before the
	// given cutoff.
	ListOverrunning(ctx context.Context, startedBefore time.Time) ([]*models.WorkflowExecution, error)

	// CountActiveByWorkflow counts the non-terminal executions of one workflow.
	CountActiveByWorkflow(ctx context.Context, workflowID string) (int, error)
}

// LogRepository is the append-only audit ledger.
type LogRepository interface {
	Append(ctx context.Context, entry *models.WorkflowLog) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowLog, error)
	NextSeq(ctx context.Context, executionID string) (int, error)
}

// ScheduleRepository stores cron schedules for schedule-triggered workflows.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.Schedule) error
	ByWorkflowID(ctx context.Context, workflowID string) (*models.Schedule, error)
	Due(ctx context.Context, now time.Time) ([]*models.Schedule, error)
	Delete(ctx context.Context, id string) error
}

// DispatchRecord is the idempotency ledger entry for one action dispatch.
type DispatchRecord struct {
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Outcome     string    `json:"outcome"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DispatchRepository guarantees an action fires at most once per
// (execution, node) pair. Record returns ErrDispatchAlreadyRecorded when a
// settled outcome already exists for the pair.
type DispatchRepository interface {
	Get(ctx context.Context, executionID, nodeID string) (*DispatchRecord, error)
	Record(ctx context.Context, record *DispatchRecord) error
}
