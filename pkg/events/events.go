// Package events defines the event types the engine emits at each lifecycle
// and node transition. Notification and analytics consumers subscribe to
// these; the engine itself never blocks on delivery.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendelabs/fluxo/pkg/models"
)

type EventType string

// Topic is the event bus topic all engine events are published on.
const Topic = "fluxo.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow definition lifecycle.
	WorkflowActivatedEvent   EventType = "workflow.activated"
	WorkflowDeactivatedEvent EventType = "workflow.deactivated"

	// Execution lifecycle.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionTimedOutEvent  EventType = "execution.timed_out"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Node-level events.
	NodeProcessedEvent    EventType = "node.processed"
	NodeTransitionedEvent EventType = "node.transitioned"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type WorkflowActivated struct {
	BaseEvent

	WorkflowName string `json:"workflow_name"`
	ActivatedBy  string `json:"activated_by,omitempty"`
}

func (w WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowDeactivated struct {
	BaseEvent

	WorkflowName  string `json:"workflow_name"`
	DeactivatedBy string `json:"deactivated_by,omitempty"`
}

func (w WorkflowDeactivated) GetType() EventType {
	return WorkflowDeactivatedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Subject     models.Subject `json:"subject"`
	TriggerKind string         `json:"trigger_kind"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionResumed is published when the sweeper or a dispatcher callback
// wakes a waiting execution; the worker fleet picks it up and steps the run.
type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ResumedBy   string `json:"resumed_by"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string        `json:"execution_id"`
	LastNodeID    string        `json:"last_node_id"`
	NodesExecuted int           `json:"nodes_executed"`
	Duration      time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionTimedOut struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	StuckNodeID string        `json:"stuck_node_id"`
	Limit       time.Duration `json:"limit"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionTimedOut) GetType() EventType {
	return ExecutionTimedOutEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// NodeProcessed is emitted after a node settles, whatever the outcome.
type NodeProcessed struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	NodeID      string             `json:"node_id"`
	NodeKind    string             `json:"node_kind"`
	Outcome     models.StepOutcome `json:"outcome"`
	Duration    time.Duration      `json:"duration"`
}

func (e NodeProcessed) GetType() EventType {
	return NodeProcessedEvent
}

// NodeTransitioned is emitted when the walk moves from one node to the next.
// Terminal settles emit NodeProcessed only.
type NodeTransitioned struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FromNodeID  string `json:"from_node_id"`
	ToNodeID    string `json:"to_node_id"`
}

func (e NodeTransitioned) GetType() EventType {
	return NodeTransitionedEvent
}
