package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vendelabs/fluxo/pkg/persistence"
)

// DispatchRepository stores settled action outcomes so a dispatch fires at
// most once per (execution, node) pair.
type DispatchRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDispatchRepository creates a new dispatch repository.
func NewDispatchRepository(db *sql.DB, logger *slog.Logger) *DispatchRepository {
	return &DispatchRepository{db: db, logger: logger}
}

// Get returns the recorded outcome for the pair, or nil when none exists.
func (r *DispatchRepository) Get(ctx context.Context, executionID, nodeID string) (*persistence.DispatchRecord, error) {
	query := `
		SELECT execution_id, node_id, outcome, recorded_at
		FROM dispatch_records
		WHERE execution_id = $1 AND node_id = $2
	`

	var record persistence.DispatchRecord

	err := r.db.QueryRowContext(ctx, query, executionID, nodeID).Scan(
		&record.ExecutionID,
		&record.NodeID,
		&record.Outcome,
		&record.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
	}

	return &record, nil
}

// Record inserts a settled outcome. The primary key makes duplicate callback
// deliveries surface as ErrDispatchAlreadyRecorded instead of a second write.
func (r *DispatchRepository) Record(ctx context.Context, record *persistence.DispatchRecord) error {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO dispatch_records (execution_id, node_id, outcome, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (execution_id, node_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ExecutionID,
		record.NodeID,
		record.Outcome,
		record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrDispatchAlreadyRecorded
	}

	return nil
}
