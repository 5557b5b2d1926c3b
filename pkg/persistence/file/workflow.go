package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// WorkflowRepository stores one JSON file per workflow under
// <root>/workflows.
type WorkflowRepository struct {
	root string
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (r *WorkflowRepository) dir() string {
	return filepath.Join(r.root, "workflows")
}

func (r *WorkflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := listIDs(r.dir())
	if err != nil {
		return nil, persistence.NewWorkflowError("All", "", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.ByID(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		if workflow.DeletedAt != nil {
			continue
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) ByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := readJSON(r.dir(), id, &workflow)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("ByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("ByID", id, err)
	}

	// Soft-deleted workflows stay loadable so in-flight executions can
	// still resolve their definition; listings filter them out instead.
	return &workflow, nil
}

func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.IsActive() {
			active = append(active, workflow)
		}
	}

	return active, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := writeJSON(r.dir(), workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete soft-deletes a workflow; the definition file stays on disk so
// historical executions remain explicable.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	workflow, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}

	if workflow.DeletedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.Status = models.WorkflowStatusInactive

	return r.Save(ctx, workflow)
}
