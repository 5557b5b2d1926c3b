// Package web provides HTTP handlers and REST API endpoints for workflow
// management, trigger ingestion and dispatch callbacks.
package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/vendelabs/fluxo/pkg/engine"
	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/events"
	"github.com/vendelabs/fluxo/pkg/graph"
	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/protocol"
	"github.com/vendelabs/fluxo/pkg/registry"
	"github.com/vendelabs/fluxo/pkg/triggers"
)

type APIHandlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	router      *triggers.Router
	engine      *engine.Engine
	registry    *registry.Registry
	validator   *validator.Validate
	publisher   eventbus.EventPublisher
}

func NewAPIHandlers(
	logger *slog.Logger,
	persist persistence.Persistence,
	router *triggers.Router,
	eng *engine.Engine,
	reg *registry.Registry,
	validate *validator.Validate,
	publisher eventbus.EventPublisher,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "api"),
		persistence: persist,
		router:      router,
		engine:      eng,
		registry:    reg,
		validator:   validate,
		publisher:   publisher,
	}
}

// Register mounts every route on the given app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Get("/:id/executions", h.GetExecutions)
	w.Post("/:id/executions", h.StartExecution)

	e := app.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/logs", h.GetExecutionLogs)
	e.Post("/:id/cancel", h.CancelExecution)

	t := app.Group("/triggers")
	t.Post("/events", h.IngestLeadEvent)
	t.Post("/external/:source", h.IngestExternalTrigger)

	app.Post("/callbacks/dispatch", h.DispatchCallback)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	regErr := h.registry.HealthCheck(c.Context())
	repErr := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if regErr != nil || repErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	checkers := fiber.Map{"registry": "ok", "repository": "ok"}
	if regErr != nil {
		checkers["registry"] = regErr.Error()
	}

	if repErr != nil {
		checkers["repository"] = repErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  checkers,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().All(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	projectID := c.Query("project_id")
	status := c.Query("status")

	filtered := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if projectID != "" && workflow.ProjectID != projectID {
			continue
		}

		if status != "" && workflow.Status != models.WorkflowStatus(status) {
			continue
		}

		filtered = append(filtered, workflow)
	}

	return c.JSON(fiber.Map{
		"workflows":   filtered,
		"total_count": len(filtered),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.WorkflowRepository().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.WorkflowStatusDraft,
		Trigger:     req.Trigger,
		EntryNodeID: req.EntryNodeID,
		Nodes:       req.Nodes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if workflow.Nodes == nil {
		workflow.Nodes = []*models.WorkflowNode{}
	}

	if err := h.persistence.WorkflowRepository().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.persistence.WorkflowRepository().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if workflow.DeletedAt != nil {
		return notFound(c, "Workflow has been deleted")
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	if req.Trigger != nil {
		workflow.Trigger = *req.Trigger
	}

	if req.EntryNodeID != nil {
		workflow.EntryNodeID = *req.EntryNodeID
	}

	if req.Nodes != nil {
		workflow.Nodes = req.Nodes
	}

	workflow.UpdatedAt = time.Now().UTC()

	if err := h.persistence.WorkflowRepository().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.persistence.WorkflowRepository().Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateWorkflow validates the workflow graph and, when it holds up,
// transitions the workflow to active. A schedule trigger gets its schedule
// row created or reactivated here.
func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	var req ActivateWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	workflow, err := h.persistence.WorkflowRepository().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	if workflow.DeletedAt != nil {
		return notFound(c, "Workflow has been deleted")
	}

	g := graph.New(workflow)

	if errs := g.Validate(); len(errs) > 0 {
		details := make([]string, 0, len(errs))
		for _, validationErr := range errs {
			details = append(details, validationErr.Error())
		}

		return unprocessable(c, strings.Join(details, "; "))
	}

	// Cycles and unreachable nodes are allowed (loops are a modeling choice,
	// dead branches a draft artifact) but worth surfacing.
	if g.HasCycle() {
		h.logger.WarnContext(c.Context(), "Activating workflow with a cycle", "workflow_id", workflow.ID)
	}

	if reachable := g.Reachable(); len(reachable) < len(workflow.Nodes) {
		h.logger.WarnContext(c.Context(), "Activating workflow with unreachable nodes",
			"workflow_id", workflow.ID,
			"unreachable", len(workflow.Nodes)-len(reachable))
	}

	if workflow.Trigger.Kind == models.TriggerKindSchedule {
		if err := h.ensureSchedule(c, workflow); err != nil {
			return unprocessable(c, err.Error())
		}
	}

	workflow.Status = models.WorkflowStatusActive
	workflow.UpdatedAt = time.Now().UTC()

	if err := h.persistence.WorkflowRepository().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	base := events.NewBaseEvent(events.WorkflowActivatedEvent, workflow.ID)
	base.ProjectID = workflow.ProjectID

	h.publishEvent(c, workflow.ID, events.WorkflowActivated{
		BaseEvent:    base,
		WorkflowName: workflow.Name,
		ActivatedBy:  req.ActivatedBy,
	})

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	var req DeactivateWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	workflow, err := h.persistence.WorkflowRepository().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	workflow.Status = models.WorkflowStatusInactive
	workflow.UpdatedAt = time.Now().UTC()

	if err := h.persistence.WorkflowRepository().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	schedule, err := h.persistence.ScheduleRepository().ByWorkflowID(c.Context(), workflow.ID)
	if err == nil && schedule.Active {
		schedule.Active = false
		schedule.UpdatedAt = time.Now().UTC()

		if err := h.persistence.ScheduleRepository().Save(c.Context(), schedule); err != nil {
			return internalError(c, err)
		}
	} else if err != nil && !persistence.IsScheduleNotFound(err) {
		return internalError(c, err)
	}

	base := events.NewBaseEvent(events.WorkflowDeactivatedEvent, workflow.ID)
	base.ProjectID = workflow.ProjectID

	h.publishEvent(c, workflow.ID, events.WorkflowDeactivated{
		BaseEvent:     base,
		WorkflowName:  workflow.Name,
		DeactivatedBy: req.DeactivatedBy,
	})

	return c.JSON(workflow)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	workflowID := c.Params("id")

	if _, err := h.persistence.WorkflowRepository().ByID(c.Context(), workflowID); err != nil {
		return handleRepositoryError(c, err)
	}

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), workflowID)
	if err != nil {
		return internalError(c, err)
	}

	activeCount, err := h.persistence.ExecutionRepository().CountActiveByWorkflow(c.Context(), workflowID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":   executions,
		"total_count":  len(executions),
		"active_count": activeCount,
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.router.StartManual(c.Context(), c.Params("id"), req.Subject, req.Context)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "workflow not found")
		}

		return unprocessable(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionRepository().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	executionID := c.Params("id")

	if _, err := h.persistence.ExecutionRepository().ByID(c.Context(), executionID); err != nil {
		return handleRepositoryError(c, err)
	}

	logs, err := h.persistence.LogRepository().ListByExecution(c.Context(), executionID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"logs":        logs,
		"total_count": len(logs),
	})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.engine.Cancel(c.Context(), c.Params("id"), req.Reason); err != nil {
		return handleRepositoryError(c, err)
	}

	execution, err := h.persistence.ExecutionRepository().ByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) IngestLeadEvent(c fiber.Ctx) error {
	var req LeadEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.router.OnDomainEvent(c.Context(), req.EventType, req.Subject, req.Payload)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"executions_started": len(started),
		"executions":         executionIDs(started),
	})
}

func (h *APIHandlers) IngestExternalTrigger(c fiber.Ctx) error {
	source := c.Params("source")
	if source == "" {
		return badRequest(c, "Source system is required")
	}

	var req ExternalTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	started, err := h.router.OnExternalTrigger(c.Context(), source, req.SourceID, req.Payload)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"executions_started": len(started),
		"executions":         executionIDs(started),
	})
}

// DispatchCallback settles a dispatch an external executor finished
// asynchronously. Duplicate callbacks for the same node are absorbed.
func (h *APIHandlers) DispatchCallback(c fiber.Ctx) error {
	var req DispatchCallbackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.HandleCallback(c.Context(), req.ExecutionID, req.NodeID,
		protocol.DispatchOutcome(req.Outcome), req.Result)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return notFound(c, "execution not found")
		}

		return conflict(c, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": req.ExecutionID,
		"node_id":      req.NodeID,
		"outcome":      req.Outcome,
	})
}

// ensureSchedule creates the schedule row for a schedule trigger or
// reactivates an existing one, recomputing the next firing time either way.
func (h *APIHandlers) ensureSchedule(c fiber.Ctx, workflow *models.Workflow) error {
	if workflow.Trigger.CronExpression == "" {
		return errEmptyCron
	}

	schedule, err := h.persistence.ScheduleRepository().ByWorkflowID(c.Context(), workflow.ID)

	switch {
	case persistence.IsScheduleNotFound(err):
		schedule, err = models.NewSchedule(uuid.New().String(), workflow.ID, workflow.Trigger.CronExpression)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		schedule.CronExpression = workflow.Trigger.CronExpression
		schedule.Active = true

		if err := schedule.UpdateNextDueAt(); err != nil {
			return err
		}
	}

	return h.persistence.ScheduleRepository().Save(c.Context(), schedule)
}

func (h *APIHandlers) publishEvent(c fiber.Ctx, key string, event eventbus.Event) {
	if err := h.publisher.Publish(c.Context(), key, event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish event", "error", err)
	}
}

func executionIDs(executions []*models.WorkflowExecution) []string {
	ids := make([]string, 0, len(executions))
	for _, execution := range executions {
		ids = append(ids, execution.ID)
	}

	return ids
}
