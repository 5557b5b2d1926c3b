package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// ExecutionRepository stores one JSON file per execution under
// <root>/executions. A process-wide mutex stands in for the row lock a
// database would give the version check.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (r *ExecutionRepository) dir() string {
	return filepath.Join(r.root, "executions")
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution.Version = 1

	if err := writeJSON(r.dir(), execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Save persists the execution only when the stored version matches the one
// the caller loaded, then increments it.
func (r *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stored models.WorkflowExecution

	err := readJSON(r.dir(), execution.ID, &stored)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if stored.Version != execution.Version {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionConflict)
	}

	execution.Version++

	if err := writeJSON(r.dir(), execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	err := readJSON(r.dir(), id, &execution)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return r.list(ctx, func(execution *models.WorkflowExecution) bool {
		return execution.WorkflowID == workflowID
	})
}

func (r *ExecutionRepository) ListDueWaiting(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	return r.list(ctx, func(execution *models.WorkflowExecution) bool {
		return execution.Status == models.ExecutionStatusWaiting &&
			execution.ResumeAt != nil &&
			!execution.ResumeAt.After(now)
	})
}

func (r *ExecutionRepository) ListOverrunning(ctx context.Context, startedBefore time.Time) ([]*models.WorkflowExecution, error) {
	return r.list(ctx, func(execution *models.WorkflowExecution) bool {
		return !execution.IsTerminal() && execution.StartedAt.Before(startedBefore)
	})
}

func (r *ExecutionRepository) CountActiveByWorkflow(ctx context.Context, workflowID string) (int, error) {
	active, err := r.list(ctx, func(execution *models.WorkflowExecution) bool {
		return execution.WorkflowID == workflowID && !execution.IsTerminal()
	})
	if err != nil {
		return 0, err
	}

	return len(active), nil
}

func (r *ExecutionRepository) list(ctx context.Context, match func(*models.WorkflowExecution) bool) ([]*models.WorkflowExecution, error) {
	ids, err := listIDs(r.dir())
	if err != nil {
		return nil, persistence.NewExecutionError("list", "", err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		execution, err := r.ByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if match(execution) {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}
