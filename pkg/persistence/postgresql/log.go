package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vendelabs/fluxo/pkg/models"
)

// LogRepository handles the append-only execution ledger. There is
// deliberately no update or delete operation.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// Append inserts a new ledger entry. The unique (execution_id, seq)
// constraint rejects concurrent writers racing for the same slot.
func (r *LogRepository) Append(ctx context.Context, entry *models.WorkflowLog) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal log context: %w", err)
	}

	query := `
		INSERT INTO workflow_logs (id, execution_id, workflow_id, seq,
from_node_id, to_node_id, outcome, detail, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ExecutionID,
		entry.WorkflowID,
		entry.Seq,
		entry.FromNodeID,
		entry.ToNodeID,
		entry.Outcome,
		entry.Detail,
		contextJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append workflow log: %w", err)
	}

	return nil
}

// ListByExecution returns all entries for an execution ordered by sequence.
func (r *LogRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowLog, error) {
	query := `
		SELECT
			id
		  , execution_id
		  , workflow_id
		  , seq
		  , from_node_id
		  , to_node_id
		  , outcome
		  , detail
		  , context
		  , created_at
		FROM workflow_logs
		WHERE execution_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow logs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.WorkflowLog, 0)

	for rows.Next() {
		var (
			entry       models.WorkflowLog
			contextJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.WorkflowID,
			&entry.Seq,
			&entry.FromNodeID,
			&entry.ToNodeID,
			&entry.Outcome,
			&entry.Detail,
			&contextJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow log: %w", err)
		}

		err = json.Unmarshal(contextJSON, &entry.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log context: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow logs: %w", err)
	}

	return entries, nil
}

// NextSeq returns the next free sequence number for an execution.
func (r *LogRepository) NextSeq(ctx context.Context, executionID string) (int, error) {
	query := `SELECT COALESCE(MAX(seq), 0) + 1 FROM workflow_logs WHERE execution_id = $1`

	var next int

	err := r.db.QueryRowContext(ctx, query, executionID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to query next log sequence: %w", err)
	}

	return next, nil
}
