package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/vendelabs/fluxo/pkg/persistence"
)

// DispatchRepository stores the dispatch idempotency ledger under
// <root>/dispatches, keyed by execution and node.
type DispatchRepository struct {
	root string
	mu   sync.Mutex
}

func NewDispatchRepository(root string) *DispatchRepository {
	return &DispatchRepository{root: root}
}

func (r *DispatchRepository) dir() string {
	return filepath.Join(r.root, "dispatches")
}

func dispatchKey(executionID, nodeID string) string {
	return executionID + "_" + nodeID
}

func (r *DispatchRepository) Get(_ context.Context, executionID, nodeID string) (*persistence.DispatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var record persistence.DispatchRecord

	err := readJSON(r.dir(), dispatchKey(executionID, nodeID), &record)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return &record, nil
}

func (r *DispatchRepository) Record(_ context.Context, record *persistence.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dispatchKey(record.ExecutionID, record.NodeID)

	var existing persistence.DispatchRecord

	err := readJSON(r.dir(), key, &existing)
	if err == nil {
		return persistence.ErrDispatchAlreadyRecorded
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return writeJSON(r.dir(), key, record)
}
