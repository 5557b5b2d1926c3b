package models

import (
	"errors"
	"fmt"
	"net/url"
)

// NodeKind represents the closed set of node types the engine can step.
type NodeKind string

const (
	NodeKindAction      NodeKind = "action"
	NodeKindCondition   NodeKind = "condition"
	NodeKindDelay       NodeKind = "delay"
	NodeKindWebhookCall NodeKind = "webhook_call"
)

// KnownNodeKinds lists every kind the engine understands, in a stable order.
var KnownNodeKinds = []NodeKind{NodeKindAction, NodeKindCondition, NodeKindDelay, NodeKindWebhookCall}

// IsValid reports whether the kind is one the engine can step.
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeKindAction, NodeKindCondition, NodeKindDelay, NodeKindWebhookCall:
		return true
	default:
		return false
	}
}

// WorkflowNode represents one step in a workflow graph. OnSuccess and
// OnFailure reference sibling node IDs; nil means the walk terminates on
// that outcome.
type WorkflowNode struct {
	ID        string         `json:"id"     validate:"required"`
	Kind      NodeKind       `json:"kind"   validate:"required"`
	Name      string         `json:"name"   validate:"required,min=1"`
	Config    map[string]any `json:"config"`
	OnSuccess *string        `json:"on_success,omitempty"`
	OnFailure *string        `json:"on_failure,omitempty"`
}

// ActionConfig is the decoded configuration of an action node.
type ActionConfig struct {
	Name       string
	Parameters map[string]any
}

// ConditionConfig is the decoded configuration of a condition node. The
// field/operator/value triple is evaluated against the execution context.
type ConditionConfig struct {
	Field    string
	Operator string
	Value    string
}

// DelayConfig is the decoded configuration of a delay node.
type DelayConfig struct {
	Seconds int
}

// WebhookCallConfig is the decoded configuration of a webhook_call node.
type WebhookCallConfig struct {
	URL     string
	Method  string
	Headers map[string]string
}

// ActionConfig decodes the node's config as an action configuration.
func (n *WorkflowNode) ActionConfig() (*ActionConfig, error) {
	name, ok := n.Config["action"].(string)
	if !ok || name == "" {
		return nil, errors.New("action node requires an 'action' name")
	}

	params, _ := n.Config["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	return &ActionConfig{Name: name, Parameters: params}, nil
}

// ConditionConfig decodes the node's config as a condition configuration.
// Operator validity is checked by the conditions package at activation time.
func (n *WorkflowNode) ConditionConfig() (*ConditionConfig, error) {
	field, ok := n.Config["field"].(string)
	if !ok || field == "" {
		return nil, errors.New("condition node requires a 'field' name")
	}

	operator, ok := n.Config["operator"].(string)
	if !ok || operator == "" {
		return nil, errors.New("condition node requires an 'operator'")
	}

	value := fmt.Sprintf("%v", n.Config["value"])
	if n.Config["value"] == nil {
		value = ""
	}

	return &ConditionConfig{Field: field, Operator: operator, Value: value}, nil
}

// DelayConfig decodes the node's config as a delay configuration. The delay
// is given in whole seconds and must be positive.
func (n *WorkflowNode) DelayConfig() (*DelayConfig, error) {
	seconds, err := intConfig(n.Config, "seconds")
	if err != nil {
		return nil, err
	}

	if seconds <= 0 {
		return nil, fmt.Errorf("delay node requires a positive 'seconds' value, got %d", seconds)
	}

	return &DelayConfig{Seconds: seconds}, nil
}

// WebhookCallConfig decodes the node's config as a webhook call configuration.
func (n *WorkflowNode) WebhookCallConfig() (*WebhookCallConfig, error) {
	rawURL, ok := n.Config["url"].(string)
	if !ok || rawURL == "" {
		return nil, errors.New("webhook_call node requires a 'url'")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("webhook_call node has an invalid url %q", rawURL)
	}

	method, _ := n.Config["method"].(string)
	if method == "" {
		method = "POST"
	}

	headers := make(map[string]string)

	if rawHeaders, ok := n.Config["headers"].(map[string]any); ok {
		for name, value := range rawHeaders {
			if str, ok := value.(string); ok {
				headers[name] = str
			}
		}
	}

	return &WebhookCallConfig{URL: rawURL, Method: method, Headers: headers}, nil
}

// intConfig reads an integer config value, tolerating the float64 that JSON
// decoding produces.
func intConfig(config map[string]any, key string) (int, error) {
	switch v := config[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case nil:
		return 0, fmt.Errorf("missing required field '%s'", key)
	default:
		return 0, fmt.Errorf("field '%s' must be a number, got %T", key, v)
	}
}
