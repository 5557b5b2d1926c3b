package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_NodeByID(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			{ID: "check-score", Kind: NodeKindCondition, Name: "Check score"},
			{ID: "send-email", Kind: NodeKindAction, Name: "Send email"},
		},
	}

	node := workflow.NodeByID("send-email")
	require.NotNil(t, node)
	assert.Equal(t, NodeKindAction, node.Kind)

	assert.Nil(t, workflow.NodeByID("missing"))
}

func TestWorkflow_IsActive(t *testing.T) {
	now := time.Now()

	assert.True(t, (&Workflow{Status: WorkflowStatusActive}).IsActive())
	assert.False(t, (&Workflow{Status: WorkflowStatusDraft}).IsActive())
	assert.False(t, (&Workflow{Status: WorkflowStatusInactive}).IsActive())
	assert.False(t, (&Workflow{Status: WorkflowStatusActive, DeletedAt: &now}).IsActive())
}

func TestNodeKind_IsValid(t *testing.T) {
	for _, kind := range KnownNodeKinds {
		assert.True(t, kind.IsValid(), string(kind))
	}

	assert.False(t, NodeKind("email_blast").IsValid())
	assert.False(t, NodeKind("").IsValid())
}

func TestWorkflowNode_ActionConfig(t *testing.T) {
	node := &WorkflowNode{
		ID:   "n1",
		Kind: NodeKindAction,
		Config: map[string]any{
			"action":     "send_email",
			"parameters": map[string]any{"template": "welcome"},
		},
	}

	config, err := node.ActionConfig()
	require.NoError(t, err)
	assert.Equal(t, "send_email", config.Name)
	assert.Equal(t, "welcome", config.Parameters["template"])
}

func TestWorkflowNode_ActionConfig_MissingName(t *testing.T) {
	node := &WorkflowNode{ID: "n1", Kind: NodeKindAction, Config: map[string]any{}}

	_, err := node.ActionConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestWorkflowNode_ConditionConfig(t *testing.T) {
	node := &WorkflowNode{
		ID:   "n1",
		Kind: NodeKindCondition,
		Config: map[string]any{
			"field":    "score",
			"operator": "greater_than",
			"value":    50, // numbers arrive as JSON numbers
		},
	}

	config, err := node.ConditionConfig()
	require.NoError(t, err)
	assert.Equal(t, "score", config.Field)
	assert.Equal(t, "greater_than", config.Operator)
	assert.Equal(t, "50", config.Value)
}

func TestWorkflowNode_DelayConfig(t *testing.T) {
	node := &WorkflowNode{
		ID:     "n1",
		Kind:   NodeKindDelay,
		Config: map[string]any{"seconds": float64(3600)},
	}

	config, err := node.DelayConfig()
	require.NoError(t, err)
	assert.Equal(t, 3600, config.Seconds)
}

func TestWorkflowNode_DelayConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing", map[string]any{}},
		{"zero", map[string]any{"seconds": 0}},
		{"negative", map[string]any{"seconds": -60}},
		{"wrong type", map[string]any{"seconds": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &WorkflowNode{ID: "n1", Kind: NodeKindDelay, Config: tt.config}

			_, err := node.DelayConfig()
			assert.Error(t, err)
		})
	}
}

func TestWorkflowNode_WebhookCallConfig(t *testing.T) {
	node := &WorkflowNode{
		ID:   "n1",
		Kind: NodeKindWebhookCall,
		Config: map[string]any{
			"url":     "https://hooks.example.com/crm",
			"headers": map[string]any{"X-Api-Key": "secret"},
		},
	}

	config, err := node.WebhookCallConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/crm", config.URL)
	assert.Equal(t, "POST", config.Method)
	assert.Equal(t, "secret", config.Headers["X-Api-Key"])
}

func TestWorkflowNode_WebhookCallConfig_BadURL(t *testing.T) {
	node := &WorkflowNode{
		ID:     "n1",
		Kind:   NodeKindWebhookCall,
		Config: map[string]any{"url": "not a url"},
	}

	_, err := node.WebhookCallConfig()
	assert.Error(t, err)
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusTimedOut,
		ExecutionStatusCancelled,
	}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), string(status))
	}

	for _, status := range []ExecutionStatus{ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusWaiting} {
		assert.False(t, status.IsTerminal(), string(status))
	}
}

func TestExecutionStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, ExecutionStatusPending.CanTransitionTo(ExecutionStatusRunning))
	assert.True(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusWaiting))
	assert.True(t, ExecutionStatusWaiting.CanTransitionTo(ExecutionStatusRunning))
	assert.True(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusCompleted))
	assert.True(t, ExecutionStatusWaiting.CanTransitionTo(ExecutionStatusTimedOut))
	assert.True(t, ExecutionStatusPending.CanTransitionTo(ExecutionStatusCancelled))

	// Terminal states are immutable.
	assert.False(t, ExecutionStatusCompleted.CanTransitionTo(ExecutionStatusRunning))
	assert.False(t, ExecutionStatusFailed.CanTransitionTo(ExecutionStatusCompleted))
	assert.False(t, ExecutionStatusCancelled.CanTransitionTo(ExecutionStatusRunning))

	// No skipping backwards.
	assert.False(t, ExecutionStatusWaiting.CanTransitionTo(ExecutionStatusPending))
	assert.False(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusPending))
}

func TestWorkflowExecution_TransitionTo(t *testing.T) {
	execution := &WorkflowExecution{ID: "exec-1", Status: ExecutionStatusPending}

	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning))
	require.NoError(t, execution.TransitionTo(ExecutionStatusWaiting))
	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning))
	require.NoError(t, execution.TransitionTo(ExecutionStatusCompleted))

	// A terminal execution refuses further moves and keeps its status.
	err := execution.TransitionTo(ExecutionStatusRunning)
	require.Error(t, err)
	assert.Equal(t, ExecutionStatusCompleted, execution.Status)
}

func TestWorkflowExecution_ContextSnapshot(t *testing.T) {
	execution := &WorkflowExecution{
		Context: map[string]any{"score": 80, "email": "ana@example.com"},
	}

	snapshot := execution.ContextSnapshot()
	snapshot["score"] = 10

	assert.Equal(t, 80, execution.Context["score"])
}

func TestNewSchedule(t *testing.T) {
	schedule, err := NewSchedule("sch-1", "wf-1", "*/5 * * * *")
	require.NoError(t, err)

	assert.True(t, schedule.Active)
	assert.False(t, schedule.NextDueAt.IsZero())
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestNewSchedule_InvalidExpression(t *testing.T) {
	_, err := NewSchedule("sch-1", "wf-1", "every five minutes")
	assert.Error(t, err)
}

func TestSchedule_UpdateNextDueAt_AdvancesPastPreviousDue(t *testing.T) {
	schedule, err := NewSchedule("sch-1", "wf-1", "0 9 * * *")
	require.NoError(t, err)

	// The sweeper can fire at or even before the due instant; the next due
	// time must still move strictly forward.
	previous := schedule.NextDueAt
	require.NoError(t, schedule.UpdateNextDueAt())
	assert.Equal(t, previous.Add(24*time.Hour), schedule.NextDueAt)
}

func TestSchedule_UpdateNextDueAt_OverdueComputesFromNow(t *testing.T) {
	schedule, err := NewSchedule("sch-1", "wf-1", "*/5 * * * *")
	require.NoError(t, err)

	schedule.NextDueAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, schedule.UpdateNextDueAt())
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC()))
}

func TestSchedule_IsDue(t *testing.T) {
	schedule := &Schedule{Active: true, NextDueAt: time.Now().UTC().Add(-time.Minute)}
	assert.True(t, schedule.IsDue(time.Now().UTC()))

	schedule.Active = false
	assert.False(t, schedule.IsDue(time.Now().UTC()))

	schedule = &Schedule{Active: true, NextDueAt: time.Now().UTC().Add(time.Hour)}
	assert.False(t, schedule.IsDue(time.Now().UTC()))
}
