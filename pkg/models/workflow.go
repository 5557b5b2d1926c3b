// Package models defines the core domain models for the workflow automation engine.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never triggered
	WorkflowStatusActive   WorkflowStatus = "active"   // Matched by the trigger router
	WorkflowStatusInactive WorkflowStatus = "inactive" // Deactivated by the user, kept for audit
)

// Workflow represents a user-defined automation graph owned by a project.
// Nodes are connected through per-node on_success/on_failure edges; the walk
// starts at EntryNodeID.
type Workflow struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"   validate:"required"`
	Name        string          `json:"name"         validate:"required,min=3"`
	Description string          `json:"description"`
	Status      WorkflowStatus  `json:"status"       validate:"required,oneof=draft active inactive"`
	Trigger     TriggerSpec     `json:"trigger"`
	EntryNodeID string          `json:"entry_node_id"`
	Nodes       []*WorkflowNode `json:"nodes"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// IsActive reports whether the workflow can be matched by the trigger router.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive && w.DeletedAt == nil
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}
