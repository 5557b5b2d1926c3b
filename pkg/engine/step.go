package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/vendelabs/fluxo/pkg/conditions"
	"github.com/vendelabs/fluxo/pkg/events"
	"github.com/vendelabs/fluxo/pkg/graph"
	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/otelhelper"
	"github.com/vendelabs/fluxo/pkg/protocol"
)

// settlement describes how a node ended: which edge to follow and what to
// record in the ledger.
type settlement struct {
	edge    graph.Outcome
	outcome models.StepOutcome
	detail  string
	output  map[string]any

	// dispatchFailure marks a failure reported by the dispatcher. Only these
	// fail the run when the node has no failure edge; a condition evaluating
	// to false on a node without one simply ends the walk.
	dispatchFailure bool
}

// step processes the execution's current node. It returns true when the run
// stayed in running and the loop should continue.
func (e *Engine) step(ctx context.Context, g *graph.Graph, execution *models.WorkflowExecution) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step", executionAttributes(execution)...)
	defer span.End()

	node := g.Node(execution.CurrentNodeID)
	if node == nil {
		err := fmt.Errorf("node %s not found in workflow %s", execution.CurrentNodeID, execution.WorkflowID)
		otelhelper.SetError(span, err)

		return false, e.failRun(ctx, execution, execution.CurrentNodeID, err.Error())
	}

	e.logger.InfoContext(ctx, "Processing node",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"node_kind", node.Kind,
	)

	switch node.Kind {
	case models.NodeKindCondition:
		return e.stepCondition(ctx, g, execution, node)
	case models.NodeKindDelay:
		return e.stepDelay(ctx, execution, node)
	case models.NodeKindAction, models.NodeKindWebhookCall:
		return e.stepDispatch(ctx, g, execution, node)
	default:
		err := fmt.Errorf("node %s has unknown kind %q", node.ID, node.Kind)
		otelhelper.SetError(span, err)

		return false, e.failRun(ctx, execution, node.ID, err.Error())
	}
}

func (e *Engine) stepCondition(
	ctx context.Context,
	g *graph.Graph,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
) (bool, error) {
	config, err := node.ConditionConfig()
	if err != nil {
		return e.failConfig(ctx, execution, node, err)
	}

	condition, err := conditions.Parse(config.Field, config.Operator, config.Value)
	if err != nil {
		return e.failConfig(ctx, execution, node, err)
	}

	matched := condition.Evaluate(execution.Context)

	st := settlement{
		edge:    graph.OutcomeSuccess,
		outcome: models.StepOutcomeSuccess,
		detail:  fmt.Sprintf("condition %s %s %q evaluated to true", config.Field, config.Operator, config.Value),
	}
	if !matched {
		st.edge = graph.OutcomeFailure
		st.outcome = models.StepOutcomeFailure
		st.detail = fmt.Sprintf("condition %s %s %q evaluated to false", config.Field, config.Operator, config.Value)
	}

	return e.settle(ctx, g, execution, node, st)
}

func (e *Engine) stepDelay(
	ctx context.Context,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
) (bool, error) {
	config, err := node.DelayConfig()
	if err != nil {
		// A delay node with broken config cannot pick an edge to follow;
		// the run fails in place.
		return false, e.failRun(ctx, execution, node.ID, err.Error())
	}

	resumeAt := e.now().UTC().Add(time.Duration(config.Seconds) * time.Second)

	return false, e.park(ctx, execution, node, models.WaitReasonDelay, &resumeAt,
		fmt.Sprintf("delaying %d seconds", config.Seconds))
}

func (e *Engine) stepDispatch(
	ctx context.Context,
	g *graph.Graph,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
) (bool, error) {
	request, err := e.buildDispatchRequest(execution, node)
	if err != nil {
		return e.failConfig(ctx, execution, node, err)
	}

	result, err := e.dispatcher.Dispatch(ctx, request)
	if err != nil {
		if protocol.IsTransient(err) {
			return e.handleTransientFailure(ctx, g, execution, node, err)
		}

		return e.failConfig(ctx, execution, node, err)
	}

	switch result.Outcome {
	case protocol.DispatchSucceeded:
		execution.Attempts = 0

		return e.settle(ctx, g, execution, node, settlement{
			edge:    graph.OutcomeSuccess,
			outcome: models.StepOutcomeSuccess,
			detail:  result.Detail,
			output:  result.Output,
		})
	case protocol.DispatchFailed:
		execution.Attempts = 0

		return e.settle(ctx, g, execution, node, settlement{
			edge:            graph.OutcomeFailure,
			outcome:         models.StepOutcomeFailure,
			detail:          result.Detail,
			output:          result.Output,
			dispatchFailure: true,
		})
	case protocol.DispatchPending:
		execution.AwaitedNodeID = node.ID

		return false, e.park(ctx, execution, node, models.WaitReasonDispatch, nil,
			"awaiting dispatch callback")
	default:
		return e.failConfig(ctx, execution, node,
			fmt.Errorf("dispatcher returned unknown outcome %q", result.Outcome))
	}
}

func (e *Engine) buildDispatchRequest(
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
) (protocol.DispatchRequest, error) {
	request := protocol.DispatchRequest{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		NodeID:      node.ID,
		Subject:     execution.Subject,
		Context:     execution.Context,
		Attempt:     execution.Attempts,
	}

	switch node.Kind {
	case models.NodeKindAction:
		config, err := node.ActionConfig()
		if err != nil {
			return request, err
		}

		request.Action = config.Name
		request.Parameters = config.Parameters
	case models.NodeKindWebhookCall:
		config, err := node.WebhookCallConfig()
		if err != nil {
			return request, err
		}

		headers := make(map[string]any, len(config.Headers))
		for name, value := range config.Headers {
			headers[name] = value
		}

		request.Action = "http_call"
		request.Parameters = map[string]any{
			"url":     config.URL,
			"method":  config.Method,
			"headers": headers,
		}
	default:
		return request, fmt.Errorf("node kind %q cannot be dispatched", node.Kind)
	}

	return request, nil
}

// handleTransientFailure parks the run for a backoff retry, or settles the
// node failed once the attempt budget is spent.
func (e *Engine) handleTransientFailure(
	ctx context.Context,
	g *graph.Graph,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	dispatchErr error,
) (bool, error) {
	attempt := execution.Attempts + 1

	if attempt >= e.maxAttempts {
		execution.Attempts = 0

		return e.settle(ctx, g, execution, node, settlement{
			edge:            graph.OutcomeFailure,
			outcome:         models.StepOutcomeFailure,
			detail:          fmt.Sprintf("dispatch failed after %d attempts: %v", attempt, dispatchErr),
			dispatchFailure: true,
		})
	}

	execution.Attempts = attempt
	backoff := e.backoffBase * (1 << (attempt - 1))
	resumeAt := e.now().UTC().Add(backoff)

	return false, e.park(ctx, execution, node, models.WaitReasonRetry, &resumeAt,
		fmt.Sprintf("transient dispatch failure, retry %d/%d in %s: %v",
			attempt, e.maxAttempts-1, backoff, dispatchErr))
}

// failConfig terminates the run for a broken node configuration. Config
// errors are never retried and never follow a failure edge; only the
// workflow author can fix them.
func (e *Engine) failConfig(
	ctx context.Context,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	err error,
) (bool, error) {
	execution.Attempts = 0

	return false, e.failRun(ctx, execution, node.ID, err.Error())
}

// settle records a node's outcome, follows the matching edge and persists
// the advance. A node with no edge for its outcome ends the run: completed
// in every case except a dispatcher-reported failure, which fails it.
func (e *Engine) settle(
	ctx context.Context,
	g *graph.Graph,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	st settlement,
) (bool, error) {
	if st.output != nil {
		execution.Context[node.ID] = st.output
	}

	next, hasNext := g.Successor(node.ID, st.edge)

	var endedAt *time.Time

	if !hasNext {
		now := e.now().UTC()
		endedAt = &now

		if st.dispatchFailure {
			if err := execution.TransitionTo(models.ExecutionStatusFailed); err != nil {
				return false, err
			}

			execution.ErrorDetail = st.detail
		} else if err := execution.TransitionTo(models.ExecutionStatusCompleted); err != nil {
			return false, err
		}

		execution.EndedAt = endedAt
	} else {
		execution.CurrentNodeID = next
	}

	err := e.save(ctx, execution)
	if err != nil {
		return false, err
	}

	seq, err := e.appendLog(ctx, execution, node.ID, next, st.outcome, st.detail)
	if err != nil {
		return false, err
	}

	e.publishSettlement(ctx, execution, node, next, hasNext, st, seq)

	return hasNext, nil
}

func (e *Engine) publishSettlement(
	ctx context.Context,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	next string,
	hasNext bool,
	st settlement,
	seq int,
) {
	e.publish(ctx, execution.WorkflowID, events.NodeProcessed{
		BaseEvent:   e.newBaseEvent(events.NodeProcessedEvent, execution),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeKind:    string(node.Kind),
		Outcome:     st.outcome,
	})

	if hasNext {
		e.publish(ctx, execution.WorkflowID, events.NodeTransitioned{
			BaseEvent:   e.newBaseEvent(events.NodeTransitionedEvent, execution),
			ExecutionID: execution.ID,
			FromNodeID:  node.ID,
			ToNodeID:    next,
		})

		return
	}

	duration := e.now().Sub(execution.StartedAt)

	if execution.Status == models.ExecutionStatusCompleted {
		e.publish(ctx, execution.WorkflowID, events.ExecutionCompleted{
			BaseEvent:     e.newBaseEvent(events.ExecutionCompletedEvent, execution),
			ExecutionID:   execution.ID,
			LastNodeID:    node.ID,
			NodesExecuted: seq,
			Duration:      duration,
		})

		return
	}

	e.publish(ctx, execution.WorkflowID, events.ExecutionFailed{
		BaseEvent:   e.newBaseEvent(events.ExecutionFailedEvent, execution),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		Error:       st.detail,
		Duration:    duration,
	})
}

// park moves the run to waiting and records a waiting ledger entry.
func (e *Engine) park(
	ctx context.Context,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	reason models.WaitReason,
	resumeAt *time.Time,
	detail string,
) error {
	if err := execution.TransitionTo(models.ExecutionStatusWaiting); err != nil {
		return err
	}

	execution.WaitReason = reason
	execution.ResumeAt = resumeAt

	err := e.save(ctx, execution)
	if err != nil {
		return err
	}

	_, err = e.appendLog(ctx, execution, node.ID, "", models.StepOutcomeWaiting, detail)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution parked",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"wait_reason", reason,
		"resume_at", resumeAt,
	)

	return nil
}

// failRun terminates the execution failed without settling a node edge.
func (e *Engine) failRun(ctx context.Context, execution *models.WorkflowExecution, nodeID, detail string) error {
	if err := execution.TransitionTo(models.ExecutionStatusFailed); err != nil {
		return err
	}

	execution.ErrorDetail = detail
	endedAt := e.now().UTC()
	execution.EndedAt = &endedAt

	err := e.save(ctx, execution)
	if err != nil {
		return err
	}

	_, err = e.appendLog(ctx, execution, nodeID, "", models.StepOutcomeFailure, detail)
	if err != nil {
		return err
	}

	e.publish(ctx, execution.WorkflowID, events.ExecutionFailed{
		BaseEvent:   e.newBaseEvent(events.ExecutionFailedEvent, execution),
		ExecutionID: execution.ID,
		NodeID:      nodeID,
		Error:       detail,
		Duration:    e.now().Sub(execution.StartedAt),
	})

	return nil
}
