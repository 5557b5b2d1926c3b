package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendelabs/fluxo/pkg/models"
)

func ref(id string) *string {
	return &id
}

func scoringWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-scoring",
		EntryNodeID: "check-score",
		Nodes: []*models.WorkflowNode{
			{
				ID:   "check-score",
				Kind: models.NodeKindCondition,
				Name: "Score above 50",
				Config: map[string]any{
					"field":    "score",
					"operator": "greater_than",
					"value":    "50",
				},
				OnSuccess: ref("send-email"),
				OnFailure: ref("tag-cold"),
			},
			{
				ID:   "send-email",
				Kind: models.NodeKindAction,
				Name: "Send welcome email",
				Config: map[string]any{
					"action":     "send_email",
					"parameters": map[string]any{"template": "welcome"},
				},
			},
			{
				ID:   "tag-cold",
				Kind: models.NodeKindAction,
				Name: "Tag as cold",
				Config: map[string]any{
					"action": "tag_lead",
					"parameters": map[string]any{
						"tag": "cold",
					},
				},
			},
		},
	}
}

func TestGraph_EntryNode(t *testing.T) {
	g := New(scoringWorkflow())

	entry := g.EntryNode()
	require.NotNil(t, entry)
	assert.Equal(t, "check-score", entry.ID)
}

func TestGraph_Successor(t *testing.T) {
	g := New(scoringWorkflow())

	next, ok := g.Successor("check-score", OutcomeSuccess)
	require.True(t, ok)
	assert.Equal(t, "send-email", next)

	next, ok = g.Successor("check-score", OutcomeFailure)
	require.True(t, ok)
	assert.Equal(t, "tag-cold", next)

	// Terminal on both outcomes.
	_, ok = g.Successor("send-email", OutcomeSuccess)
	assert.False(t, ok)
	_, ok = g.Successor("send-email", OutcomeFailure)
	assert.False(t, ok)

	// Unknown node.
	_, ok = g.Successor("missing", OutcomeSuccess)
	assert.False(t, ok)
}

func TestGraph_Reachable(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
		ID:     "orphan",
		Kind:   models.NodeKindAction,
		Name:   "Never reached",
		Config: map[string]any{"action": "noop"},
	})

	g := New(workflow)
	reachable := g.Reachable()

	assert.True(t, reachable["check-score"])
	assert.True(t, reachable["send-email"])
	assert.True(t, reachable["tag-cold"])
	assert.False(t, reachable["orphan"])
}

func TestGraph_Validate_Valid(t *testing.T) {
	g := New(scoringWorkflow())

	assert.Empty(t, g.Validate())
}

func TestGraph_Validate_MissingEntry(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.EntryNodeID = ""

	errs := New(workflow).Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no entry node")
}

func TestGraph_Validate_DanglingEntry(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.EntryNodeID = "does-not-exist"

	errs := New(workflow).Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "does-not-exist")
}

func TestGraph_Validate_DanglingEdge(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.Nodes[1].OnSuccess = ref("gone")

	errs := New(workflow).Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "dangling")
}

func TestGraph_Validate_SelfLoop(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.Nodes[1].OnFailure = ref("send-email")

	errs := New(workflow).Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "references itself")
}

func TestGraph_Validate_UnknownKind(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.Nodes[2].Kind = models.NodeKind("carrier_pigeon")

	errs := New(workflow).Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "carrier_pigeon")
}

func TestGraph_Validate_BadConditionOperator(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.Nodes[0].Config["operator"] = "is_kinda_like"

	errs := New(workflow).Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "is_kinda_like")
}

func TestGraph_Validate_CollectsAllErrors(t *testing.T) {
	workflow := scoringWorkflow()
	workflow.EntryNodeID = "nope"
	workflow.Nodes[0].Config["operator"] = "bogus"
	workflow.Nodes[1].OnSuccess = ref("gone")

	errs := New(workflow).Validate()
	assert.Len(t, errs, 3)
}

func TestGraph_HasCycle(t *testing.T) {
	workflow := scoringWorkflow()
	assert.False(t, New(workflow).HasCycle())

	// tag-cold loops back to the entry condition.
	workflow.Nodes[2].OnSuccess = ref("check-score")
	assert.True(t, New(workflow).HasCycle())
}
