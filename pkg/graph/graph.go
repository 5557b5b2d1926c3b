// Package graph holds the in-memory representation of a workflow's node graph
// and answers the structural queries the engine and the activation gate need.
package graph

import (
	"fmt"

	"github.com/vendelabs/fluxo/pkg/conditions"
	"github.com/vendelabs/fluxo/pkg/models"
)

// Outcome selects which edge to follow out of a settled node.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Graph is a read-only view over one workflow's nodes. Workflow definitions
// are immutable once active, so a Graph is safe for concurrent use.
type Graph struct {
	entryNodeID string
	nodes       map[string]*models.WorkflowNode
}

// New builds a graph from a workflow definition.
func New(workflow *models.Workflow) *Graph {
	nodes := make(map[string]*models.WorkflowNode, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		nodes[node.ID] = node
	}

	return &Graph{
		entryNodeID: workflow.EntryNodeID,
		nodes:       nodes,
	}
}

// EntryNode returns the node the walk starts at, or nil when the entry
// reference is missing or dangling.
func (g *Graph) EntryNode() *models.WorkflowNode {
	return g.nodes[g.entryNodeID]
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *models.WorkflowNode {
	return g.nodes[id]
}

// Successor returns the next node ID for the given outcome. The second
// return value is false when the node is terminal for that outcome.
func (g *Graph) Successor(nodeID string, outcome Outcome) (string, bool) {
	node, exists := g.nodes[nodeID]
	if !exists {
		return "", false
	}

	var next *string

	switch outcome {
	case OutcomeSuccess:
		next = node.OnSuccess
	case OutcomeFailure:
		next = node.OnFailure
	}

	if next == nil || *next == "" {
		return "", false
	}

	return *next, true
}

// Reachable returns the set of node IDs reachable from the entry node.
func (g *Graph) Reachable() map[string]bool {
	reachable := make(map[string]bool)
	g.walk(g.entryNodeID, reachable)

	return reachable
}

// HasCycle reports whether any walk from the entry node can revisit a node.
// Cycles through multiple nodes are legal in a definition but the engine
// needs to know they exist; immediate self-loops are rejected by Validate.
func (g *Graph) HasCycle() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(g.nodes))

	var visit func(id string) bool

	visit = func(id string) bool {
		node, exists := g.nodes[id]
		if !exists {
			return false
		}

		state[id] = visiting

		for _, next := range []*string{node.OnSuccess, node.OnFailure} {
			if next == nil || *next == "" {
				continue
			}

			switch state[*next] {
			case visiting:
				return true
			case unvisited:
				if visit(*next) {
					return true
				}
			}
		}

		state[id] = done

		return false
	}

	return visit(g.entryNodeID)
}

// Validate checks the structural invariants a workflow must satisfy before it
// can activate. It returns every problem found, not just the first:
// missing or dangling entry node, dangling successor references, immediate
// self-loops, unknown node kinds and undecodable node configurations.
func (g *Graph) Validate() []error {
	var errs []error

	if g.entryNodeID == "" {
		errs = append(errs, fmt.Errorf("workflow has no entry node"))
	} else if g.nodes[g.entryNodeID] == nil {
		errs = append(errs, fmt.Errorf("entry node %q does not exist", g.entryNodeID))
	}

	for _, node := range g.nodes {
		errs = append(errs, g.validateNode(node)...)
	}

	return errs
}

func (g *Graph) validateNode(node *models.WorkflowNode) []error {
	var errs []error

	for _, edge := range []struct {
		name string
		to   *string
	}{
		{"on_success", node.OnSuccess},
		{"on_failure", node.OnFailure},
	} {
		if edge.to == nil || *edge.to == "" {
			continue
		}

		if *edge.to == node.ID {
			errs = append(errs, fmt.Errorf("node %q references itself via %s", node.ID, edge.name))
			continue
		}

		if g.nodes[*edge.to] == nil {
			errs = append(errs, fmt.Errorf("node %q has a dangling %s reference to %q", node.ID, edge.name, *edge.to))
		}
	}

	if !node.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("node %q has unknown kind %q", node.ID, node.Kind))
		return errs
	}

	if err := validateConfig(node); err != nil {
		errs = append(errs, fmt.Errorf("node %q: %w", node.ID, err))
	}

	return errs
}

func validateConfig(node *models.WorkflowNode) error {
	switch node.Kind {
	case models.NodeKindAction:
		_, err := node.ActionConfig()
		return err
	case models.NodeKindCondition:
		config, err := node.ConditionConfig()
		if err != nil {
			return err
		}

		_, err = conditions.Parse(config.Field, config.Operator, config.Value)

		return err
	case models.NodeKindDelay:
		_, err := node.DelayConfig()
		return err
	case models.NodeKindWebhookCall:
		_, err := node.WebhookCallConfig()
		return err
	default:
		return fmt.Errorf("unknown node kind %q", node.Kind)
	}
}

func (g *Graph) walk(id string, seen map[string]bool) {
	if id == "" || seen[id] {
		return
	}

	node, exists := g.nodes[id]
	if !exists {
		return
	}

	seen[id] = true

	if node.OnSuccess != nil {
		g.walk(*node.OnSuccess, seen)
	}

	if node.OnFailure != nil {
		g.walk(*node.OnFailure, seen)
	}
}
