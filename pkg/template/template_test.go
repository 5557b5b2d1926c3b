package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/protocol"
)

func testRequest() protocol.DispatchRequest {
	return protocol.DispatchRequest{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		NodeID:      "node-1",
		Subject:     models.Subject{Type: "lead", ID: "lead-42"},
		Context: map[string]any{
			"lead": map[string]any{
				"email": "ada@example.com",
				"score": 80,
			},
		},
	}
}

func TestRenderWithRequest(t *testing.T) {
	result, err := RenderWithRequest("{{.context.lead.email}}", testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", result)
}

func TestRenderWithRequest_SubjectAndExecution(t *testing.T) {
	result, err := RenderWithRequest("{{.subject.type}}/{{.subject.id}}@{{.execution.id}}", testRequest())
	require.NoError(t, err)
	assert.Equal(t, "lead/lead-42@exec-1", result)
}

func TestRender_CoercesNumbers(t *testing.T) {
	result, err := RenderWithRequest("{{.context.lead.score}}", testRequest())
	require.NoError(t, err)
	assert.InDelta(t, 80.0, result, 0.001)
}

func TestRender_CoercesJSON(t *testing.T) {
	result, err := RenderWithRequest(`{"email": "{{.context.lead.email}}"}`, testRequest())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, result)
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := RenderWithRequest("{{.context.lead", testRequest())
	require.Error(t, err)
}

func TestRenderParameters(t *testing.T) {
	params := map[string]any{
		"to":      "{{.context.lead.email}}",
		"retries": 3,
		"tags":    []any{"{{.subject.type}}", "static"},
		"nested": map[string]any{
			"score": "{{.context.lead.score}}",
		},
	}

	rendered, err := RenderParameters(params, testRequest())
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", rendered["to"])
	assert.Equal(t, 3, rendered["retries"])
	assert.Equal(t, []any{"lead", "static"}, rendered["tags"])

	nested, ok := rendered["nested"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 80.0, nested["score"], 0.001)
}

func TestRenderString(t *testing.T) {
	result, err := RenderString("lead {{.subject.id}} scored {{.context.lead.score}}", testRequest())
	require.NoError(t, err)
	assert.Equal(t, "lead lead-42 scored 80", result)
}
