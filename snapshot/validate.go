package snapshot

import (
	"encoding/json"
	"fmt"
)

// IssueKind is the closed set of graph-level integrity problems Validate
// can detect, per spec.md §4.1.
type IssueKind string

const (
	IssueDuplicateAttributeValue IssueKind = "DuplicateAttributeValue"
	IssueMissingAttributeValue   IssueKind = "MissingAttributeValue"
	IssueDanglingSocketArgument  IssueKind = "DanglingSocketArgument"
	IssueCycle                   IssueKind = "Cycle"
)

// ValidationIssue is one integrity problem found by Validate, distinct
// from per-attribute (qualification) validation.
type ValidationIssue struct {
	Kind        IssueKind
	NodeID      NodeID
	Description string

	// duplicateOf is set for IssueDuplicateAttributeValue; Fix removes the
	// later of the pair and keeps duplicateOf.
	duplicateOf NodeID
	duplicate   NodeID
}

// propPayload is the minimal shape Validate needs to know about a Prop
// node's content: its structural kind. Full prop metadata lives in the
// content store; the graph only needs this sliver to enforce invariants.
type propPayload struct {
	Kind string `json:"kind"` // "object" | "array" | "map" | "scalar"
}

// Validate walks every node and reports every invariant violation it finds
// without mutating the graph, per spec.md §4.1 and the S6 scenario.
func (g *Graph) Validate() ([]ValidationIssue, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var issues []ValidationIssue

	for idx, n := range g.nodes {
		if n == tombstone || n.Kind != KindAttributeValue {
			continue
		}
		propTargets, err := g.targetsLocked(idx, EdgeProp)
		if err != nil {
			return nil, err
		}
		if len(propTargets) != 1 {
			continue
		}
		propIdx := propTargets[0]
		var prop propPayload
		if err := json.Unmarshal(g.nodes[propIdx].Payload, &prop); err != nil || prop.Kind != "object" {
			continue
		}

		issues = append(issues, g.checkObjectChildrenLocked(idx, propIdx)...)
	}

	for idx, n := range g.nodes {
		if n == tombstone || n.Kind != KindAttributePrototypeArgument {
			continue
		}
		issues = append(issues, g.checkSocketArgumentLocked(idx)...)
	}

	issues = append(issues, g.checkCyclesLocked()...)

	return issues, nil
}

func (g *Graph) targetsLocked(idx int, kind EdgeKind) ([]int, error) {
	var out []int
	for _, e := range g.outgoing[idx] {
		if e.weight.Kind == kind {
			out = append(out, e.to)
		}
	}
	return out, nil
}

// checkObjectChildrenLocked enforces spec.md §3 invariant 2: an object
// AttributeValue's Contain(None) children must be in bijection with its
// prop's Use children, and no two children may carry identical content
// (the S6 duplicate scenario).
func (g *Graph) checkObjectChildrenLocked(avIdx, propIdx int) []ValidationIssue {
	var issues []ValidationIssue

	childProps := make(map[NodeID]bool)
	for _, e := range g.outgoing[propIdx] {
		if e.weight.Kind == EdgeUse {
			childProps[g.nodes[e.to].ID] = true
		}
	}

	byContentHash := make(map[ContentHash]NodeID)
	coveredProps := make(map[NodeID]bool)

	for _, e := range g.outgoing[avIdx] {
		if e.weight.Kind != EdgeContain {
			continue
		}
		child := g.nodes[e.to]
		if first, ok := byContentHash[child.ContentHash]; ok {
			issues = append(issues, ValidationIssue{
				Kind:        IssueDuplicateAttributeValue,
				NodeID:      child.ID,
				Description: fmt.Sprintf("attribute value %s duplicates %s under object %s", child.ID, first, g.nodes[avIdx].ID),
				duplicateOf: first,
				duplicate:   child.ID,
			})
			continue
		}
		byContentHash[child.ContentHash] = child.ID

		for _, pe := range g.outgoing[e.to] {
			if pe.weight.Kind == EdgeProp {
				coveredProps[g.nodes[pe.to].ID] = true
			}
		}
	}

	for propID := range childProps {
		if !coveredProps[propID] {
			issues = append(issues, ValidationIssue{
				Kind:        IssueMissingAttributeValue,
				NodeID:      g.nodes[avIdx].ID,
				Description: fmt.Sprintf("object %s is missing an attribute value for prop %s", g.nodes[avIdx].ID, propID),
			})
		}
	}

	return issues
}

// checkSocketArgumentLocked enforces spec.md §3 invariant 5: every
// AttributePrototypeArgument with a socket target must have its source
// component expose an attribute value for that socket.
func (g *Graph) checkSocketArgumentLocked(argIdx int) []ValidationIssue {
	var issues []ValidationIssue

	for _, e := range g.outgoing[argIdx] {
		if e.weight.Kind != EdgeSocket {
			continue
		}
		socketID := g.nodes[e.to].ID
		hasValue := false
		for _, ve := range g.incoming[e.to] {
			if ve.weight.Kind == EdgeSocketValue {
				hasValue = true
				break
			}
		}
		if !hasValue {
			issues = append(issues, ValidationIssue{
				Kind:        IssueDanglingSocketArgument,
				NodeID:      g.nodes[argIdx].ID,
				Description: fmt.Sprintf("prototype argument %s targets socket %s with no attribute value", g.nodes[argIdx].ID, socketID),
			})
		}
	}

	return issues
}

// cycleDFSColor marks a node unvisited/in-progress/done during
// checkCyclesLocked's DFS.
type cycleDFSColor int

const (
	cycleWhite cycleDFSColor = iota
	cycleGray
	cycleBlack
)

// checkCyclesLocked enforces spec.md §3 invariant 7 across every edge kind,
// not just the FrameContains/Use pair AddEdge guards at insertion time
// (spec.md §4.1: "Cycle check: optional guard, enabled during FrameContains
// edits" — other edge kinds can still close a cycle structurally, and
// Validate is the backstop that catches it). A three-color DFS reports an
// IssueCycle at the node where a back-edge into an in-progress ancestor is
// found.
func (g *Graph) checkCyclesLocked() []ValidationIssue {
	color := make(map[int]cycleDFSColor, len(g.nodes))
	var issues []ValidationIssue

	var visit func(idx int)
	visit = func(idx int) {
		color[idx] = cycleGray
		for _, e := range g.outgoing[idx] {
			switch color[e.to] {
			case cycleWhite:
				visit(e.to)
			case cycleGray:
				issues = append(issues, ValidationIssue{
					Kind:        IssueCycle,
					NodeID:      g.nodes[idx].ID,
					Description: fmt.Sprintf("cycle detected: %s -> %s via %s edge", g.nodes[idx].ID, g.nodes[e.to].ID, e.weight.Kind),
				})
			}
		}
		color[idx] = cycleBlack
	}

	for idx, n := range g.nodes {
		if n == tombstone {
			continue
		}
		if color[idx] == cycleWhite {
			visit(idx)
		}
	}
	return issues
}

// Fix repairs trivially-broken issues: currently only
// IssueDuplicateAttributeValue, by removing the later node, per spec.md
// §4.1's "fix operation may repair trivially-broken duplicates by removing
// the later node" and the S6 scenario.
func (g *Graph) Fix(issues []ValidationIssue) error {
	for _, issue := range issues {
		if issue.Kind != IssueDuplicateAttributeValue {
			continue
		}
		if err := g.RemoveNode(issue.duplicate); err != nil {
			return err
		}
	}
	return nil
}
