// Package triggers routes incoming stimuli — CRM domain events, external
// payloads, schedules and manual starts — to the active workflows whose
// trigger matches, creating one pending execution per match.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vendelabs/fluxo/pkg/conditions"
	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/events"
	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/persistence"
)

// Router matches stimuli against active workflow triggers and starts
// executions for the matches.
type Router struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
}

func NewRouter(logger *slog.Logger, persist persistence.Persistence, publisher eventbus.EventPublisher) *Router {
	return &Router{
		logger:      logger.With("module", "trigger_router"),
		persistence: persist,
		publisher:   publisher,
	}
}

// OnDomainEvent routes a CRM domain event, e.g. lead.captured. The payload
// seeds the execution context of every matched workflow. Returns the
// executions that were started.
func (r *Router) OnDomainEvent(ctx context.Context, eventType string, subject models.Subject, payload map[string]any) ([]*models.WorkflowExecution, error) {
	workflows, err := r.persistence.WorkflowRepository().ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}

	started := make([]*models.WorkflowExecution, 0)

	for _, workflow := range workflows {
		trigger := workflow.Trigger
		if trigger.Kind != models.TriggerKindLeadEvent || trigger.EventType != eventType {
			continue
		}

		if !matchCriteria(trigger.Criteria, payload) {
			continue
		}

		execution, err := r.start(ctx, workflow, subject, payload)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to start execution",
				"workflow_id", workflow.ID, "event_type", eventType, "error", err)

			continue
		}

		started = append(started, execution)
	}

	r.logger.InfoContext(ctx, "Routed domain event",
		"event_type", eventType, "matches", len(started))

	return started, nil
}

// OnExternalTrigger routes a payload posted by an external system. The
// payload must satisfy the trigger's JSON Schema when one is configured;
// criteria are evaluated afterwards.
func (r *Router) OnExternalTrigger(ctx context.Context, sourceSystem, sourceID string, payload map[string]any) ([]*models.WorkflowExecution, error) {
	workflows, err := r.persistence.WorkflowRepository().ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}

	subject := models.Subject{Type: sourceSystem, ID: sourceID}
	started := make([]*models.WorkflowExecution, 0)

	for _, workflow := range workflows {
		trigger := workflow.Trigger
		if trigger.Kind != models.TriggerKindExternal || trigger.SourceSystem != sourceSystem {
			continue
		}

		if trigger.Schema != nil {
			valid, err := validateSchema(trigger.Schema, payload)
			if err != nil {
				r.logger.ErrorContext(ctx, "Trigger schema validation errored",
					"workflow_id", workflow.ID, "error", err)

				continue
			}

			if !valid {
				r.logger.DebugContext(ctx, "Payload rejected by trigger schema",
					"workflow_id", workflow.ID, "source_system", sourceSystem)

				continue
			}
		}

		if !matchCriteria(trigger.Criteria, payload) {
			continue
		}

		execution, err := r.start(ctx, workflow, subject, payload)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to start execution",
				"workflow_id", workflow.ID, "source_system", sourceSystem, "error", err)

			continue
		}

		started = append(started, execution)
	}

	return started, nil
}

// StartManual starts one execution of a specific workflow regardless of its
// trigger kind, as long as the workflow is active.
func (r *Router) StartManual(ctx context.Context, workflowID string, subject models.Subject, payload map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := r.persistence.WorkflowRepository().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive() {
		return nil, fmt.Errorf("workflow %s is not active", workflowID)
	}

	return r.start(ctx, workflow, subject, payload)
}

// FireSchedule starts the execution a due schedule stands for and recomputes
// the schedule's next firing time. An inactive or deleted workflow
// deactivates the schedule instead.
func (r *Router) FireSchedule(ctx context.Context, schedule *models.Schedule) (*models.WorkflowExecution, error) {
	workflow, err := r.persistence.WorkflowRepository().ByID(ctx, schedule.WorkflowID)
	if err != nil || !workflow.IsActive() {
		schedule.Active = false

		saveErr := r.persistence.ScheduleRepository().Save(ctx, schedule)
		if saveErr != nil {
			return nil, fmt.Errorf("failed to deactivate orphaned schedule: %w", saveErr)
		}

		r.logger.InfoContext(ctx, "Deactivated schedule for inactive workflow",
			"schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID)

		return nil, nil
	}

	execution, err := r.start(ctx, workflow, models.Subject{Type: "schedule", ID: schedule.ID}, map[string]any{
		"fired_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	err = schedule.UpdateNextDueAt()
	if err != nil {
		return nil, fmt.Errorf("failed to recompute schedule: %w", err)
	}

	err = r.persistence.ScheduleRepository().Save(ctx, schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	return execution, nil
}

// start creates a pending execution seeded from the payload and announces it
// on the event bus; a worker picks it up from there.
func (r *Router) start(ctx context.Context, workflow *models.Workflow, subject models.Subject, payload map[string]any) (*models.WorkflowExecution, error) {
	executionContext := make(map[string]any, len(payload))
	for key, value := range payload {
		executionContext[key] = value
	}

	execution := &models.WorkflowExecution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		ProjectID:     workflow.ProjectID,
		Subject:       subject,
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: workflow.EntryNodeID,
		Context:       executionContext,
		StartedAt:     time.Now().UTC(),
	}

	err := r.persistence.ExecutionRepository().Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	base := events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID)
	base.ProjectID = workflow.ProjectID

	event := events.ExecutionStarted{
		BaseEvent:   base,
		ExecutionID: execution.ID,
		Subject:     subject,
		TriggerKind: string(workflow.Trigger.Kind),
		TriggerData: payload,
	}

	err = r.publisher.Publish(ctx, workflow.ID, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish execution started event",
			"execution_id", execution.ID, "error", err)
	}

	r.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"subject_type", subject.Type,
		"subject_id", subject.ID,
	)

	return execution, nil
}

// matchCriteria evaluates every criterion against the payload; all must
// hold. Criteria with unknown operators never match.
func matchCriteria(criteria []models.TriggerCriterion, payload map[string]any) bool {
	for _, criterion := range criteria {
		condition, err := conditions.Parse(criterion.Field, criterion.Operator, criterion.Value)
		if err != nil {
			return false
		}

		if !condition.Evaluate(payload) {
			return false
		}
	}

	return true
}

func validateSchema(schema map[string]any, payload map[string]any) (bool, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return false, err
	}

	return result.Valid(), nil
}
