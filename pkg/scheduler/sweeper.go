// Package scheduler implements the timeout watcher and schedule sweeper: a
// ticker-driven loop that wakes due waiting executions, times out
// overrunning ones and fires due cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/triggers"
)

const (
	// DefaultInterval is how often the sweeper scans for due work.
	DefaultInterval = 15 * time.Second

	// DefaultMaxExecutionDuration bounds how long a run may stay
	// non-terminal before it is timed out.
	DefaultMaxExecutionDuration = 5 * time.Minute
)

// ExecutionControl is the part of the engine the sweeper drives.
type ExecutionControl interface {
	Resume(ctx context.Context, executionID, resumedBy string) error
	TimeOut(ctx context.Context, executionID string, limit time.Duration) error
}

// Sweeper polls the database on a fixed interval and processes everything
// that became due since the last pass, whatever its individual deadline.
type Sweeper struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      ExecutionControl
	router      *triggers.Router
	interval    time.Duration
	maxDuration time.Duration

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.RWMutex
}

func NewSweeper(
	logger *slog.Logger,
	persist persistence.Persistence,
	engine ExecutionControl,
	router *triggers.Router,
	interval time.Duration,
	maxDuration time.Duration,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if maxDuration <= 0 {
		maxDuration = DefaultMaxExecutionDuration
	}

	return &Sweeper{
		logger:      logger.With("module", "scheduler"),
		persistence: persist,
		engine:      engine,
		router:      router,
		interval:    interval,
		maxDuration: maxDuration,
	}
}

// Start begins the sweep loop. Starting a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Starting sweeper",
		"interval", s.interval, "max_execution_duration", s.maxDuration)

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.loop(ctx)

	return nil
}

// Stop gracefully shuts the sweep loop down.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping sweeper")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass. Exported so the binaries can force a pass at
// startup and tests can drive the sweeper without ticking.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	s.resumeDueExecutions(ctx, now)
	s.timeOutOverrunning(ctx, now)
	s.fireDueSchedules(ctx, now)
}

// resumeDueExecutions wakes waiting executions whose resume deadline passed:
// elapsed delays and retry backoffs. Dispatch waits carry no deadline and
// are settled by callbacks only.
func (s *Sweeper) resumeDueExecutions(ctx context.Context, now time.Time) {
	due, err := s.persistence.ExecutionRepository().ListDueWaiting(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due waiting executions", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Resuming due executions", "count", len(due))
	}

	for _, execution := range due {
		err := s.engine.Resume(ctx, execution.ID, "scheduler")
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to resume execution",
				"execution_id", execution.ID, "error", err)
		}
	}
}

func (s *Sweeper) timeOutOverrunning(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.maxDuration)

	overrunning, err := s.persistence.ExecutionRepository().ListOverrunning(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list overrunning executions", "error", err)

		return
	}

	if len(overrunning) > 0 {
		s.logger.InfoContext(ctx, "Timing out overrunning executions", "count", len(overrunning))
	}

	for _, execution := range overrunning {
		err := s.engine.TimeOut(ctx, execution.ID, s.maxDuration)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to time out execution",
				"execution_id", execution.ID, "error", err)
		}
	}
}

func (s *Sweeper) fireDueSchedules(ctx context.Context, now time.Time) {
	due, err := s.persistence.ScheduleRepository().Due(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due schedules", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Firing due schedules", "count", len(due))
	}

	for _, schedule := range due {
		_, err := s.router.FireSchedule(ctx, schedule)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire schedule",
				"schedule_id", schedule.ID,
				"workflow_id", schedule.WorkflowID,
				"error", err)
		}
	}
}
