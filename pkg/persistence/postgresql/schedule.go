package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// ScheduleRepository handles cron schedule database operations.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

// Save upserts a schedule by workflow so a workflow carries at most one.
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate schedule ID: %w", err)
		}

		schedule.ID = id.String()
	}

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	query := `
		INSERT INTO schedules (id, workflow_id, cron_expression, next_due_at, created_at, updated_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			next_due_at = EXCLUDED.next_due_at,
			updated_at = EXCLUDED.updated_at,
			active = EXCLUDED.active
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.WorkflowID,
		schedule.CronExpression,
		schedule.NextDueAt,
		schedule.CreatedAt,
		schedule.UpdatedAt,
		schedule.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// ByWorkflowID returns the schedule for a workflow or ErrScheduleNotFound.
func (r *ScheduleRepository) ByWorkflowID(ctx context.Context, workflowID string) (*models.Schedule, error) {
	query := `
		SELECT id, workflow_id, cron_expression, next_due_at, created_at, updated_at, active
		FROM schedules
		WHERE workflow_id = $1
	`

	var schedule models.Schedule

	err := r.db.QueryRowContext(ctx, query, workflowID).Scan(
		&schedule.ID,
		&schedule.WorkflowID,
		&schedule.CronExpression,
		&schedule.NextDueAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
		&schedule.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return &schedule, nil
}

// Due returns active schedules whose firing time has passed.
func (r *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `
		SELECT id, workflow_id, cron_expression, next_due_at, created_at, updated_at, active
		FROM schedules
		WHERE active AND next_due_at <= $1
		ORDER BY next_due_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		var schedule models.Schedule

		err := rows.Scan(
			&schedule.ID,
			&schedule.WorkflowID,
			&schedule.CronExpression,
			&schedule.NextDueAt,
			&schedule.CreatedAt,
			&schedule.UpdatedAt,
			&schedule.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, &schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

// Delete removes a schedule. Deleting an unknown schedule is not an error.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	return nil
}
