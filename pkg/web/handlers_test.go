package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendelabs/fluxo/pkg/dispatch"
	"github.com/vendelabs/fluxo/pkg/engine"
	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/persistence/file"
	"github.com/vendelabs/fluxo/pkg/registry"
	"github.com/vendelabs/fluxo/pkg/triggers"
	"github.com/vendelabs/fluxo/pkg/web"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) published() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.events...)
}

type testEnv struct {
	app         *fiber.App
	persistence persistence.Persistence
	publisher   *capturePublisher
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	persist := file.NewPersistence(t.TempDir())
	publisher := &capturePublisher{}
	reg := registry.NewRegistry(logger)
	dispatcher := dispatch.NewDispatcher(logger, reg, persist.DispatchRepository())
	eng := engine.NewEngine(logger, persist, dispatcher, publisher)
	router := triggers.NewRouter(logger, persist, publisher)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(logger, persist, router, eng, reg, validate, publisher)

	app := fiber.New()
	handlers.Register(app)

	return &testEnv{app: app, persistence: persist, publisher: publisher}
}

func (env *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var payload []byte

	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error

		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := env.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

// singleActionWorkflow is an active workflow with one action node and a
// manual trigger.
func singleActionWorkflow(t *testing.T, env *testEnv) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		ProjectID:   "proj-1",
		Name:        "Welcome sequence",
		Status:      models.WorkflowStatusActive,
		Trigger:     models.TriggerSpec{Kind: models.TriggerKindManual},
		EntryNodeID: "send-email",
		Nodes: []*models.WorkflowNode{
			{
				ID:   "send-email",
				Kind: models.NodeKindAction,
				Name: "Send welcome email",
				Config: map[string]any{
					"action":     "send_email",
					"parameters": map[string]any{"template": "welcome"},
				},
			},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	return workflow
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateWorkflowRequest{
				ProjectID:   "proj-1",
				Name:        "Lead scoring",
				Description: "Scores inbound leads",
				Trigger:     models.TriggerSpec{Kind: models.TriggerKindManual},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing project",
			requestBody: web.CreateWorkflowRequest{
				Name:    "Lead scoring",
				Trigger: models.TriggerSpec{Kind: models.TriggerKindManual},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "name too short",
			requestBody: web.CreateWorkflowRequest{
				ProjectID: "proj-1",
				Name:      "ab",
				Trigger:   models.TriggerSpec{Kind: models.TriggerKindManual},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t)

			resp := env.request(t, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusCreated {
				_ = resp.Body.Close()

				return
			}

			var workflow models.Workflow

			decodeBody(t, resp, &workflow)
			assert.NotEmpty(t, workflow.ID)
			assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
			assert.Equal(t, "proj-1", workflow.ProjectID)
		})
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/workflows/"+uuid.New().String(), nil)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivateWorkflow(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	workflow := singleActionWorkflow(t, env)
	workflow.Status = models.WorkflowStatusDraft
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	resp := env.request(t, http.MethodPost, "/workflows/"+workflow.ID+"/activate",
		web.ActivateWorkflowRequest{ActivatedBy: "user-1"})

	var activated models.Workflow

	decodeBody(t, resp, &activated)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	require.Len(t, env.publisher.published(), 1)
}

func TestActivateWorkflow_InvalidGraph(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	workflow := singleActionWorkflow(t, env)
	workflow.Status = models.WorkflowStatusDraft
	workflow.EntryNodeID = "missing-node"
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	resp := env.request(t, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, env.publisher.published())
}

func TestActivateWorkflow_CreatesSchedule(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	workflow := singleActionWorkflow(t, env)
	workflow.Status = models.WorkflowStatusDraft
	workflow.Trigger = models.TriggerSpec{
		Kind:           models.TriggerKindSchedule,
		CronExpression: "0 9 * * *",
	}
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	resp := env.request(t, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	schedule, err := env.persistence.ScheduleRepository().ByWorkflowID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.True(t, schedule.Active)
	assert.Equal(t, "0 9 * * *", schedule.CronExpression)
	assert.False(t, schedule.NextDueAt.IsZero())
}

func TestDeactivateWorkflow_DisablesSchedule(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	workflow := singleActionWorkflow(t, env)
	workflow.Trigger = models.TriggerSpec{
		Kind:           models.TriggerKindSchedule,
		CronExpression: "*/5 * * * *",
	}
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	schedule, err := models.NewSchedule(uuid.New().String(), workflow.ID, "*/5 * * * *")
	require.NoError(t, err)
	require.NoError(t, env.persistence.ScheduleRepository().Save(context.Background(), schedule))

	resp := env.request(t, http.MethodPost, "/workflows/"+workflow.ID+"/deactivate", nil)

	var deactivated models.Workflow

	decodeBody(t, resp, &deactivated)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.WorkflowStatusInactive, deactivated.Status)

	stored, err := env.persistence.ScheduleRepository().ByWorkflowID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestStartExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	workflow := singleActionWorkflow(t, env)

	resp := env.request(t, http.MethodPost, "/workflows/"+workflow.ID+"/executions",
		web.StartExecutionRequest{
			Subject: models.Subject{Type: "lead", ID: "lead-9"},
			Context: map[string]any{"score": 80},
		})

	var execution models.WorkflowExecution

	decodeBody(t, resp, &execution)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, workflow.ID, execution.WorkflowID)
	assert.Equal(t, "lead-9", execution.Subject.ID)
}

func TestStartExecution_InactiveWorkflow(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	workflow := singleActionWorkflow(t, env)
	workflow.Status = models.WorkflowStatusDraft
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	resp := env.request(t, http.MethodPost, "/workflows/"+workflow.ID+"/executions", nil)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCancelExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	workflow := singleActionWorkflow(t, env)

	execution := &models.WorkflowExecution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		ProjectID:     workflow.ProjectID,
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: workflow.EntryNodeID,
		Context:       map[string]any{},
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, env.persistence.ExecutionRepository().Create(context.Background(), execution))

	resp := env.request(t, http.MethodPost, "/executions/"+execution.ID+"/cancel",
		web.CancelExecutionRequest{Reason: "lead unsubscribed"})

	var cancelled models.WorkflowExecution

	decodeBody(t, resp, &cancelled)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
}

func TestIngestLeadEvent(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	workflow := singleActionWorkflow(t, env)
	workflow.Trigger = models.TriggerSpec{
		Kind:      models.TriggerKindLeadEvent,
		EventType: "lead.captured",
	}
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), workflow))

	resp := env.request(t, http.MethodPost, "/triggers/events", web.LeadEventRequest{
		EventType: "lead.captured",
		Subject:   models.Subject{Type: "lead", ID: "lead-1"},
		Payload:   map[string]any{"source": "landing-page"},
	})

	var result struct {
		ExecutionsStarted int      `json:"executions_started"`
		Executions        []string `json:"executions"`
	}

	decodeBody(t, resp, &result)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, result.ExecutionsStarted)
	require.Len(t, result.Executions, 1)
}

func TestIngestLeadEvent_NoMatch(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	singleActionWorkflow(t, env) // manual trigger, never matched by events

	resp := env.request(t, http.MethodPost, "/triggers/events", web.LeadEventRequest{
		EventType: "lead.captured",
		Subject:   models.Subject{Type: "lead", ID: "lead-1"},
	})

	var result struct {
		ExecutionsStarted int `json:"executions_started"`
	}

	decodeBody(t, resp, &result)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Zero(t, result.ExecutionsStarted)
}

func TestDispatchCallback_SettlesWaitingExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	workflow := singleActionWorkflow(t, env)

	execution := &models.WorkflowExecution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		ProjectID:     workflow.ProjectID,
		Status:        models.ExecutionStatusWaiting,
		CurrentNodeID: "send-email",
		WaitReason:    models.WaitReasonDispatch,
		AwaitedNodeID: "send-email",
		Context:       map[string]any{},
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, env.persistence.ExecutionRepository().Create(context.Background(), execution))

	resp := env.request(t, http.MethodPost, "/callbacks/dispatch", web.DispatchCallbackRequest{
		ExecutionID: execution.ID,
		NodeID:      "send-email",
		Outcome:     "succeeded",
		Result:      map[string]any{"message_id": "msg-42"},
	})
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	settled, err := env.persistence.ExecutionRepository().ByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, settled.Status)
}

func TestDispatchCallback_Validation(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/callbacks/dispatch", web.DispatchCallbackRequest{
		ExecutionID: "exec-1",
		NodeID:      "node-1",
		Outcome:     "pending",
	})
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDispatchCallback_UnknownExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/callbacks/dispatch", web.DispatchCallbackRequest{
		ExecutionID: uuid.New().String(),
		NodeID:      "node-1",
		Outcome:     "failed",
	})
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetExecutionLogs(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	workflow := singleActionWorkflow(t, env)

	execution := &models.WorkflowExecution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		ProjectID:     workflow.ProjectID,
		Status:        models.ExecutionStatusRunning,
		CurrentNodeID: workflow.EntryNodeID,
		Context:       map[string]any{},
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, env.persistence.ExecutionRepository().Create(context.Background(), execution))

	entry := &models.WorkflowLog{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		Seq:         1,
		FromNodeID:  "send-email",
		Outcome:     models.StepOutcomeSuccess,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, env.persistence.LogRepository().Append(context.Background(), entry))

	resp := env.request(t, http.MethodGet, "/executions/"+execution.ID+"/logs", nil)

	var result struct {
		Logs       []*models.WorkflowLog `json:"logs"`
		TotalCount int                   `json:"total_count"`
	}

	decodeBody(t, resp, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, result.Logs, 1)
	assert.Equal(t, "send-email", result.Logs[0].FromNodeID)
}

func TestDeleteWorkflow(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	workflow := singleActionWorkflow(t, env)

	resp := env.request(t, http.MethodDelete, "/workflows/"+workflow.ID, nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := env.persistence.WorkflowRepository().ByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DeletedAt)
	assert.False(t, stored.IsActive())
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/health", nil)

	var result struct {
		Status string `json:"status"`
	}

	decodeBody(t, resp, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", result.Status)
}
