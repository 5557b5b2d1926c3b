package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// ScheduleRepository stores one JSON file per schedule under
// <root>/schedules.
type ScheduleRepository struct {
	root string
}

func NewScheduleRepository(root string) *ScheduleRepository {
	return &ScheduleRepository{root: root}
}

func (r *ScheduleRepository) dir() string {
	return filepath.Join(r.root, "schedules")
}

func (r *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	return writeJSON(r.dir(), schedule.ID, schedule)
}

func (r *ScheduleRepository) ByWorkflowID(_ context.Context, workflowID string) (*models.Schedule, error) {
	ids, err := listIDs(r.dir())
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		var schedule models.Schedule
		if err := readJSON(r.dir(), id, &schedule); err != nil {
			return nil, err
		}

		if schedule.WorkflowID == workflowID {
			return &schedule, nil
		}
	}

	return nil, persistence.ErrScheduleNotFound
}

func (r *ScheduleRepository) Due(_ context.Context, now time.Time) ([]*models.Schedule, error) {
	ids, err := listIDs(r.dir())
	if err != nil {
		return nil, err
	}

	due := make([]*models.Schedule, 0)

	for _, id := range ids {
		var schedule models.Schedule
		if err := readJSON(r.dir(), id, &schedule); err != nil {
			return nil, err
		}

		if schedule.IsDue(now) {
			due = append(due, &schedule)
		}
	}

	return due, nil
}

func (r *ScheduleRepository) Delete(_ context.Context, id string) error {
	err := os.Remove(filepath.Join(r.dir(), id+".json"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}
