package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// LogRepository stores the audit ledger as one JSON array per execution
// under <root>/logs. Entries are only ever appended.
type LogRepository struct {
	root string
	mu   sync.Mutex
}

func NewLogRepository(root string) *LogRepository {
	return &LogRepository{root: root}
}

func (r *LogRepository) dir() string {
	return filepath.Join(r.root, "logs")
}

func (r *LogRepository) Append(_ context.Context, entry *models.WorkflowLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read(entry.ExecutionID)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	if err := writeJSON(r.dir(), entry.ExecutionID, entries); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	return nil
}

func (r *LogRepository) ListByExecution(_ context.Context, executionID string) ([]*models.WorkflowLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read(executionID)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})

	return entries, nil
}

func (r *LogRepository) NextSeq(_ context.Context, executionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read(executionID)
	if err != nil {
		return 0, err
	}

	next := 1

	for _, entry := range entries {
		if entry.Seq >= next {
			next = entry.Seq + 1
		}
	}

	return next, nil
}

func (r *LogRepository) read(executionID string) ([]*models.WorkflowLog, error) {
	var entries []*models.WorkflowLog

	err := readJSON(r.dir(), executionID, &entries)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.WorkflowLog{}, nil
		}

		return nil, persistence.NewExecutionError("ReadLog", executionID, err)
	}

	return entries, nil
}
