package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/persistence/file"
	"github.com/vendelabs/fluxo/pkg/triggers"
)

type recordingControl struct {
	mu       sync.Mutex
	resumed  []string
	timedOut []string
}

func (c *recordingControl) Resume(_ context.Context, executionID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resumed = append(c.resumed, executionID)

	return nil
}

func (c *recordingControl) TimeOut(_ context.Context, executionID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timedOut = append(c.timedOut, executionID)

	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error { return nil }

func newSweeper(t *testing.T) (*Sweeper, persistence.Persistence, *recordingControl) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	control := &recordingControl{}
	router := triggers.NewRouter(logger, persist, nopPublisher{})

	return NewSweeper(logger, persist, control, router, time.Second, 5*time.Minute), persist, control
}

func waitingExecution(resumeAt *time.Time, startedAt time.Time) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:            uuid.New().String(),
		WorkflowID:    uuid.New().String(),
		Status:        models.ExecutionStatusWaiting,
		WaitReason:    models.WaitReasonDelay,
		ResumeAt:      resumeAt,
		Context:       map[string]any{},
		CurrentNodeID: "wait",
		StartedAt:     startedAt,
	}
}

func TestSweeper_ResumesDueExecutions(t *testing.T) {
	sweeper, persist, control := newSweeper(t)
	ctx := t.Context()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := waitingExecution(&past, time.Now().UTC())
	notDue := waitingExecution(&future, time.Now().UTC())
	require.NoError(t, persist.ExecutionRepository().Create(ctx, due))
	require.NoError(t, persist.ExecutionRepository().Create(ctx, notDue))

	// A dispatch wait has no deadline and must never be resumed by sweep.
	dispatchWait := waitingExecution(nil, time.Now().UTC())
	dispatchWait.WaitReason = models.WaitReasonDispatch
	require.NoError(t, persist.ExecutionRepository().Create(ctx, dispatchWait))

	sweeper.Sweep(ctx)

	assert.Equal(t, []string{due.ID}, control.resumed)
}

func TestSweeper_TimesOutOverrunningExecutions(t *testing.T) {
	sweeper, persist, control := newSweeper(t)
	ctx := t.Context()

	old := waitingExecution(nil, time.Now().UTC().Add(-time.Hour))
	old.WaitReason = models.WaitReasonDispatch
	fresh := waitingExecution(nil, time.Now().UTC())
	fresh.WaitReason = models.WaitReasonDispatch

	require.NoError(t, persist.ExecutionRepository().Create(ctx, old))
	require.NoError(t, persist.ExecutionRepository().Create(ctx, fresh))

	completed := waitingExecution(nil, time.Now().UTC().Add(-time.Hour))
	completed.Status = models.ExecutionStatusCompleted
	completed.WaitReason = ""
	require.NoError(t, persist.ExecutionRepository().Create(ctx, completed))

	sweeper.Sweep(ctx)

	assert.Equal(t, []string{old.ID}, control.timedOut)
}

func TestSweeper_FiresDueSchedules(t *testing.T) {
	sweeper, persist, _ := newSweeper(t)
	ctx := t.Context()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		ProjectID:   "proj-1",
		Name:        "daily digest",
		Status:      models.WorkflowStatusActive,
		EntryNodeID: "send-digest",
		Trigger:     models.TriggerSpec{Kind: models.TriggerKindSchedule, CronExpression: "* * * * *"},
		Nodes: []*models.WorkflowNode{
			{
				ID:     "send-digest",
				Kind:   models.NodeKindAction,
				Name:   "send digest",
				Config: map[string]any{"action": "send_email", "parameters": map[string]any{}},
			},
		},
	}
	require.NoError(t, persist.WorkflowRepository().Save(ctx, workflow))

	schedule, err := models.NewSchedule(uuid.New().String(), workflow.ID, "* * * * *")
	require.NoError(t, err)
	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, persist.ScheduleRepository().Save(ctx, schedule))

	sweeper.Sweep(ctx)

	executions, err := persist.ExecutionRepository().ListByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusPending, executions[0].Status)

	stored, err := persist.ScheduleRepository().ByWorkflowID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextDueAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestSweeper_StartStop(t *testing.T) {
	sweeper, _, _ := newSweeper(t)
	ctx := t.Context()

	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Start(ctx), "double start is a no-op")
	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx), "double stop is a no-op")
}
