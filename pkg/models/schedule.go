package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is the stored counterpart of a schedule trigger. The next firing
// time is precomputed so the sweeper can query due schedules directly instead
// of keeping per-workflow timers.
type Schedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// WorkflowID references the workflow this schedule starts
	WorkflowID string `json:"workflow_id" validate:"required"`

	// CronExpression uses the standard 5-field format (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next firing time
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active schedules are the only ones the sweeper fires
	Active bool `json:"active"`
}

// NewSchedule creates a schedule with its first firing time computed from now.
func NewSchedule(id, workflowID, cronExpression string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt recomputes the next firing time after the schedule fired.
// The new time always lands strictly after the previous one, even when the
// sweeper fires at or before the due instant.
func (s *Schedule) UpdateNextDueAt() error {
	now := time.Now().UTC()
	s.UpdatedAt = now

	from := now
	if s.NextDueAt.After(from) {
		from = s.NextDueAt
	}

	return s.calculateNextDueAt(from)
}

// IsDue reports whether the schedule should fire at the given time.
func (s *Schedule) IsDue(at time.Time) bool {
	return s.Active && !s.NextDueAt.After(at)
}

func (s *Schedule) calculateNextDueAt(from time.Time) error {
	if s.CronExpression == "" {
		return errors.New("cron expression is required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	sched, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = sched.Next(from)

	return nil
}
