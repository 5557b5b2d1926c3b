package models

// TriggerKind distinguishes how a workflow gets started.
type TriggerKind string

const (
	TriggerKindLeadEvent TriggerKind = "lead_event" // Domain event from the CRM, e.g. lead.captured
	TriggerKindExternal  TriggerKind = "external"   // Payload posted by an external system
	TriggerKindSchedule  TriggerKind = "schedule"   // Cron schedule owned by the sweeper
	TriggerKindManual    TriggerKind = "manual"     // Explicit user start
)

// TriggerCriterion is one flat field predicate evaluated against the event
// payload. It uses the same operator set as condition nodes.
type TriggerCriterion struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    string `json:"value"`
}

// TriggerSpec defines when a workflow starts. EventType and Criteria apply to
// lead_event triggers; SourceSystem, Criteria and Schema apply to external
// triggers; CronExpression applies to schedule triggers. Manual triggers
// carry no matching data.
type TriggerSpec struct {
	Kind           TriggerKind        `json:"kind" validate:"required,oneof=lead_event external schedule manual"`
	EventType      string             `json:"event_type,omitempty"`
	SourceSystem   string             `json:"source_system,omitempty"`
	Criteria       []TriggerCriterion `json:"criteria,omitempty"`
	Schema         map[string]any     `json:"schema,omitempty"`
	CronExpression string             `json:"cron_expression,omitempty"`
}
