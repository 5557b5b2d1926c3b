// Package engine implements the execution state machine: it walks a
// workflow's graph one node at a time, persists every advance under
// optimistic locking and hands all side effects to the action dispatcher.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/events"
	"github.com/vendelabs/fluxo/pkg/graph"
	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/otelhelper"
	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/protocol"
)

const (
	// DefaultMaxAttempts bounds dispatch retries per node.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the first retry delay; each further attempt
	// doubles it.
	DefaultBackoffBase = 30 * time.Second
)

// Engine steps workflow executions. It is stateless between calls; all run
// state lives in the execution record, so any number of workers can share
// the work as long as they share the persistence layer.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  protocol.ActionDispatcher
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

func NewEngine(
	logger *slog.Logger,
	persist persistence.Persistence,
	dispatcher protocol.ActionDispatcher,
	publisher eventbus.EventPublisher,
) *Engine {
	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: persist,
		dispatcher:  dispatcher,
		publisher:   publisher,
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		now:         time.Now,
	}
}

// WithTracer replaces the no-op tracer.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Run steps the execution until it parks or terminates. A lost optimistic
// lock means another worker advanced the run; Run backs off silently.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	execution, err := e.executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.IsTerminal() {
		return nil
	}

	workflow, err := e.workflows().ByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	g := graph.New(workflow)

	if execution.Status == models.ExecutionStatusPending {
		if err := execution.TransitionTo(models.ExecutionStatusRunning); err != nil {
			return err
		}

		execution.CurrentNodeID = workflow.EntryNodeID

		err := e.save(ctx, execution)
		if err != nil {
			return e.swallowConflict(ctx, execution.ID, err)
		}
	}

	// Waiting executions are woken explicitly through Resume or a dispatch
	// callback, never by Run.
	if execution.Status == models.ExecutionStatusWaiting {
		return nil
	}

	for execution.Status == models.ExecutionStatusRunning {
		proceed, err := e.step(ctx, g, execution)
		if err != nil {
			return e.swallowConflict(ctx, execution.ID, err)
		}

		if !proceed {
			return nil
		}
	}

	return nil
}

// Resume wakes a waiting execution and announces it on the event bus; the
// worker fleet picks the run up from there. An elapsed delay settles its node
// here so the run advances past it instead of re-parking. Resuming a
// terminal or non-waiting execution is a no-op, and dispatch parks are left
// alone: only the callback settles those.
func (e *Engine) Resume(ctx context.Context, executionID, resumedBy string) error {
	execution, err := e.executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return nil
	}

	if execution.WaitReason == models.WaitReasonDispatch {
		return nil
	}

	if execution.WaitReason == models.WaitReasonDelay {
		return e.resumeDelay(ctx, execution, resumedBy)
	}

	if err := execution.TransitionTo(models.ExecutionStatusRunning); err != nil {
		return err
	}

	execution.WaitReason = ""
	execution.ResumeAt = nil

	err = e.save(ctx, execution)
	if err != nil {
		return e.swallowConflict(ctx, execution.ID, err)
	}

	e.publishResumed(ctx, execution, resumedBy)

	return nil
}

// resumeDelay settles an elapsed delay node through its success edge. The
// wait is the node's whole job, so re-stepping it would only park the run
// again with a fresh deadline.
func (e *Engine) resumeDelay(ctx context.Context, execution *models.WorkflowExecution, resumedBy string) error {
	workflow, err := e.workflows().ByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	g := graph.New(workflow)
	node := g.Node(execution.CurrentNodeID)

	if err := execution.TransitionTo(models.ExecutionStatusRunning); err != nil {
		return err
	}

	execution.WaitReason = ""
	execution.ResumeAt = nil

	if node == nil {
		return e.failRun(ctx, execution, execution.CurrentNodeID,
			fmt.Sprintf("node %s no longer exists in workflow %s", execution.CurrentNodeID, execution.WorkflowID))
	}

	proceed, err := e.settle(ctx, g, execution, node, settlement{
		edge:    graph.OutcomeSuccess,
		outcome: models.StepOutcomeSuccess,
		detail:  "delay elapsed",
	})
	if err != nil {
		return e.swallowConflict(ctx, execution.ID, err)
	}

	if proceed {
		e.publishResumed(ctx, execution, resumedBy)
	}

	return nil
}

func (e *Engine) publishResumed(ctx context.Context, execution *models.WorkflowExecution, resumedBy string) {
	event := events.ExecutionResumed{
		BaseEvent:   e.newBaseEvent(events.ExecutionResumedEvent, execution),
		ExecutionID: execution.ID,
		ResumedBy:   resumedBy,
	}
	e.publish(ctx, execution.WorkflowID, event)
}

// HandleCallback settles a pending dispatch reported by the delivery fleet.
// Duplicate callbacks are absorbed by the dispatch ledger; callbacks for
// terminal executions or unexpected nodes are ignored.
func (e *Engine) HandleCallback(
	ctx context.Context,
	executionID, nodeID string,
	outcome protocol.DispatchOutcome,
	resultData map[string]any,
) error {
	if outcome != protocol.DispatchSucceeded && outcome != protocol.DispatchFailed {
		return fmt.Errorf("callback outcome must settle the dispatch, got %q", outcome)
	}

	execution, err := e.executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.IsTerminal() {
		e.logger.InfoContext(ctx, "Ignoring callback for terminal execution",
			"execution_id", executionID, "node_id", nodeID)

		return nil
	}

	if execution.Status != models.ExecutionStatusWaiting ||
		execution.WaitReason != models.WaitReasonDispatch ||
		execution.AwaitedNodeID != nodeID {
		return fmt.Errorf("execution %s is not awaiting a dispatch callback for node %s", executionID, nodeID)
	}

	err = e.dispatches().Record(ctx, &persistence.DispatchRecord{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Outcome:     string(outcome),
	})
	if err != nil {
		if persistence.IsDispatchAlreadyRecorded(err) {
			e.logger.InfoContext(ctx, "Duplicate dispatch callback ignored",
				"execution_id", executionID, "node_id", nodeID)

			return nil
		}

		return err
	}

	workflow, err := e.workflows().ByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	g := graph.New(workflow)

	node := g.Node(nodeID)
	if node == nil {
		return fmt.Errorf("node %s no longer exists in workflow %s", nodeID, execution.WorkflowID)
	}

	if resultData != nil {
		execution.Context[nodeID] = resultData
	}

	if err := execution.TransitionTo(models.ExecutionStatusRunning); err != nil {
		return err
	}

	execution.WaitReason = ""
	execution.AwaitedNodeID = ""
	execution.Attempts = 0

	st := settlement{
		edge:    graph.OutcomeSuccess,
		outcome: models.StepOutcomeSuccess,
		detail:  "dispatch settled by callback",
	}
	if outcome == protocol.DispatchFailed {
		st.edge = graph.OutcomeFailure
		st.outcome = models.StepOutcomeFailure
		st.detail = "dispatch failed, reported by callback"
		st.dispatchFailure = true
	}

	proceed, err := e.settle(ctx, g, execution, node, st)
	if err != nil {
		return e.swallowConflict(ctx, execution.ID, err)
	}

	if proceed {
		e.publishResumed(ctx, execution, "dispatch-callback")
	}

	return nil
}

// Cancel terminates an execution cooperatively. Terminal executions are left
// untouched.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	execution, err := e.executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.IsTerminal() {
		return nil
	}

	if err := execution.TransitionTo(models.ExecutionStatusCancelled); err != nil {
		return err
	}

	execution.WaitReason = ""
	execution.ResumeAt = nil
	execution.AwaitedNodeID = ""
	endedAt := e.now().UTC()
	execution.EndedAt = &endedAt

	err = e.save(ctx, execution)
	if err != nil {
		return e.swallowConflict(ctx, execution.ID, err)
	}

	_, err = e.appendLog(ctx, execution, execution.CurrentNodeID, "", models.StepOutcomeCancelled, reason)
	if err != nil {
		return err
	}

	event := events.ExecutionCancelled{
		BaseEvent:   e.newBaseEvent(events.ExecutionCancelledEvent, execution),
		ExecutionID: execution.ID,
		Reason:      reason,
	}
	e.publish(ctx, execution.WorkflowID, event)

	return nil
}

// TimeOut marks an overrunning execution timed_out. The scheduler calls this
// for runs older than the configured maximum duration.
func (e *Engine) TimeOut(ctx context.Context, executionID string, limit time.Duration) error {
	execution, err := e.executions().ByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.IsTerminal() {
		return nil
	}

	if err := execution.TransitionTo(models.ExecutionStatusTimedOut); err != nil {
		return err
	}

	execution.WaitReason = ""
	execution.ResumeAt = nil
	execution.AwaitedNodeID = ""
	endedAt := e.now().UTC()
	execution.EndedAt = &endedAt
	execution.ErrorDetail = fmt.Sprintf("execution exceeded the maximum duration of %s", limit)

	err = e.save(ctx, execution)
	if err != nil {
		return e.swallowConflict(ctx, execution.ID, err)
	}

	_, err = e.appendLog(ctx, execution, execution.CurrentNodeID, "", models.StepOutcomeTimedOut, execution.ErrorDetail)
	if err != nil {
		return err
	}

	event := events.ExecutionTimedOut{
		BaseEvent:   e.newBaseEvent(events.ExecutionTimedOutEvent, execution),
		ExecutionID: execution.ID,
		StuckNodeID: execution.CurrentNodeID,
		Limit:       limit,
		Duration:    e.now().Sub(execution.StartedAt),
	}
	e.publish(ctx, execution.WorkflowID, event)

	return nil
}

func (e *Engine) executions() persistence.ExecutionRepository {
	return e.persistence.ExecutionRepository()
}

func (e *Engine) workflows() persistence.WorkflowRepository {
	return e.persistence.WorkflowRepository()
}

func (e *Engine) dispatches() persistence.DispatchRepository {
	return e.persistence.DispatchRepository()
}

func (e *Engine) save(ctx context.Context, execution *models.WorkflowExecution) error {
	return e.executions().Save(ctx, execution)
}

// swallowConflict converts a lost optimistic-lock race into a clean stop:
// the competing actor owns the run now.
func (e *Engine) swallowConflict(ctx context.Context, executionID string, err error) error {
	if persistence.IsExecutionConflict(err) {
		e.logger.DebugContext(ctx, "Execution advanced by another actor, backing off",
			"execution_id", executionID)

		return nil
	}

	return err
}

func (e *Engine) newBaseEvent(eventType events.EventType, execution *models.WorkflowExecution) events.BaseEvent {
	base := events.NewBaseEvent(eventType, execution.WorkflowID)
	base.ProjectID = execution.ProjectID

	return base
}

func (e *Engine) publish(ctx context.Context, key string, evts ...eventbus.Event) {
	if e.publisher == nil {
		return
	}

	for _, event := range evts {
		err := e.publisher.Publish(ctx, key, event)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish event",
				"event_type", event.GetType(), "error", err)
		}
	}
}

func (e *Engine) appendLog(
	ctx context.Context,
	execution *models.WorkflowExecution,
	fromNodeID, toNodeID string,
	outcome models.StepOutcome,
	detail string,
) (int, error) {
	logs := e.persistence.LogRepository()

	seq, err := logs.NextSeq(ctx, execution.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate log sequence: %w", err)
	}

	entry := &models.WorkflowLog{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Seq:         seq,
		FromNodeID:  fromNodeID,
		ToNodeID:    toNodeID,
		Outcome:     outcome,
		Detail:      detail,
		Context:     execution.ContextSnapshot(),
		CreatedAt:   e.now().UTC(),
	}

	err = logs.Append(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("failed to append workflow log: %w", err)
	}

	return seq, nil
}

func executionAttributes(execution *models.WorkflowExecution) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, execution.CurrentNodeID),
		attribute.String(otelhelper.SubjectTypeKey, execution.Subject.Type),
		attribute.String(otelhelper.SubjectIDKey, execution.Subject.ID),
	}
}
