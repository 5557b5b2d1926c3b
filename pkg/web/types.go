// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/vendelabs/fluxo/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Workflows are always created as drafts; activation is a separate call.
type CreateWorkflowRequest struct {
	ProjectID   string                 `json:"project_id"    validate:"required"`
	Name        string                 `json:"name"          validate:"required,min=3"`
	Description string                 `json:"description"`
	Trigger     models.TriggerSpec     `json:"trigger"       validate:"required"`
	EntryNodeID string                 `json:"entry_node_id"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
}

// UpdateWorkflowRequest represents the request body for updating a workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string                `json:"name,omitempty"          validate:"omitempty,min=3"`
	Description *string                `json:"description,omitempty"`
	Trigger     *models.TriggerSpec    `json:"trigger,omitempty"`
	EntryNodeID *string                `json:"entry_node_id,omitempty"`
	Nodes       []*models.WorkflowNode `json:"nodes,omitempty"`
}

// ActivateWorkflowRequest carries the optional actor for the audit event.
type ActivateWorkflowRequest struct {
	ActivatedBy string `json:"activated_by,omitempty"`
}

// DeactivateWorkflowRequest carries the optional actor for the audit event.
type DeactivateWorkflowRequest struct {
	DeactivatedBy string `json:"deactivated_by,omitempty"`
}

// StartExecutionRequest represents a manual start of one workflow.
type StartExecutionRequest struct {
	Subject models.Subject `json:"subject"`
	Context map[string]any `json:"context"`
}

// LeadEventRequest represents an incoming CRM domain event, e.g. a lead
// capture, to be routed against active lead_event triggers.
type LeadEventRequest struct {
	EventType string         `json:"event_type" validate:"required"`
	Subject   models.Subject `json:"subject"    validate:"required"`
	Payload   map[string]any `json:"payload"`
}

// ExternalTriggerRequest represents a payload posted by an external system.
// The source system comes from the URL path.
type ExternalTriggerRequest struct {
	SourceID string         `json:"source_id"`
	Payload  map[string]any `json:"payload"`
}

// DispatchCallbackRequest settles a dispatch that was left pending. Outcome
// must be a final one; pending callbacks are rejected.
type DispatchCallbackRequest struct {
	ExecutionID string         `json:"execution_id" validate:"required"`
	NodeID      string         `json:"node_id"      validate:"required"`
	Outcome     string         `json:"outcome"      validate:"required,oneof=succeeded failed"`
	Result      map[string]any `json:"result,omitempty"`
}

// CancelExecutionRequest carries the reason recorded in the audit log.
type CancelExecutionRequest struct {
	Reason string `json:"reason"`
}
