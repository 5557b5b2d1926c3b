package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
			id
		  , workflow_id
		  , project_id
		  , subject_type
		  , subject_id
		  , status
		  , current_node_id
		  , context
		  , wait_reason
		  , resume_at
		  , awaited_node_id
		  , attempts
		  , version
		  , started_at
		  , ended_at
		  , error_detail
`

// Create inserts a new execution at version 1.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.Version == 0 {
		execution.Version = 1
	}

	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (id, workflow_id, project_id,
subject_type, subject_id, status, current_node_id, context, wait_reason,
resume_at, awaited_node_id, attempts, version, started_at, ended_at, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.ProjectID,
		execution.Subject.Type,
		execution.Subject.ID,
		execution.Status,
		execution.CurrentNodeID,
		contextJSON,
		execution.WaitReason,
		execution.ResumeAt,
		execution.AwaitedNodeID,
		execution.Attempts,
		execution.Version,
		execution.StartedAt,
		execution.EndedAt,
		execution.ErrorDetail,
	)
	if err != nil {
		return persistence.NewExecutionError("create", execution.ID, err)
	}

	return nil
}

// Save updates an execution under optimistic locking. The UPDATE only
// matches when the stored version equals execution.Version; zero affected
// rows means another actor advanced the run first.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		UPDATE workflow_executions SET
			status = $3,
			current_node_id = $4,
			context = $5,
			wait_reason = $6,
			resume_at = $7,
			awaited_node_id = $8,
			attempts = $9,
			version = version + 1,
			ended_at = $10,
			error_detail = $11
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Version,
		execution.Status,
		execution.CurrentNodeID,
		contextJSON,
		execution.WaitReason,
		execution.ResumeAt,
		execution.AwaitedNodeID,
		execution.Attempts,
		execution.EndedAt,
		execution.ErrorDetail,
	)
	if err != nil {
		return persistence.NewExecutionError("save", execution.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Either the execution does not exist or the version is stale.
		// Distinguish so callers can treat conflicts as a lost race.
		_, lookupErr := r.ByID(ctx, execution.ID)
		if lookupErr != nil {
			return lookupErr
		}

		return persistence.NewExecutionError("save", execution.ID, persistence.ErrExecutionConflict)
	}

	execution.Version++

	return nil
}

// ByID returns a single execution or ErrExecutionNotFound.
func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("get", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ListByWorkflow returns all executions of a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	return r.queryExecutions(ctx, query, workflowID)
}

// ListDueWaiting returns waiting executions whose resume deadline passed.
func (r *ExecutionRepository) ListDueWaiting(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1 AND resume_at IS NOT NULL AND resume_at <= $2
		ORDER BY resume_at ASC
	`

	return r.queryExecutions(ctx, query, string(models.ExecutionStatusWaiting), now)
}

// ListOverrunning returns non-terminal executions started before the cutoff.
func (r *ExecutionRepository) ListOverrunning(ctx context.Context, startedBefore time.Time) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE status NOT IN ($1, $2, $3, $4) AND started_at < $5
		ORDER BY started_at ASC
	`

	return r.queryExecutions(ctx, query,
		string(models.ExecutionStatusCompleted),
		string(models.ExecutionStatusFailed),
		string(models.ExecutionStatusTimedOut),
		string(models.ExecutionStatusCancelled),
		startedBefore,
	)
}

// CountActiveByWorkflow counts the non-terminal executions of one workflow.
func (r *ExecutionRepository) CountActiveByWorkflow(ctx context.Context, workflowID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM workflow_executions
		WHERE workflow_id = $1 AND status NOT IN ($2, $3, $4, $5)
	`

	var count int

	err := r.db.QueryRowContext(ctx, query,
		workflowID,
		string(models.ExecutionStatusCompleted),
		string(models.ExecutionStatusFailed),
		string(models.ExecutionStatusTimedOut),
		string(models.ExecutionStatusCancelled),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}

	return count, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		contextJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.ProjectID,
		&execution.Subject.Type,
		&execution.Subject.ID,
		&execution.Status,
		&execution.CurrentNodeID,
		&contextJSON,
		&execution.WaitReason,
		&execution.ResumeAt,
		&execution.AwaitedNodeID,
		&execution.Attempts,
		&execution.Version,
		&execution.StartedAt,
		&execution.EndedAt,
		&execution.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(contextJSON, &execution.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	return &execution, nil
}
