// Package valueresolve resolves an attribute value's effective content,
// including lazy path traversal through ValueSubscription edges, per
// spec.md §9: "a subscription is lazy and resolves via path traversal at
// read/dispatch time; resolution failure is a first-class state
// (ValueNotYetPopulated) distinct from 'value is null'."
//
// Grounded on semantic/runtime/variables.go's VariableResolver/
// SubstituteVariables ${...} path-reference design, retargeted from
// action-field string substitution (resolving "action-id.field.path"
// against a completed action) to attribute-value subscription targets
// (resolving "domain/one" against another attribute value's subtree).
package valueresolve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/systeminit/workspace-engine/snapshot"
)

// Path is a sequence of prop names, e.g. "domain/one" parsed to
// ["domain", "one"].
type Path []string

// ParsePath splits a slash-delimited path string, mirroring variables.go's
// dotted action-reference paths but using "/" to match prop nesting.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func (p Path) String() string { return strings.Join(p, "/") }

// State is the outcome of resolving an attribute value, distinguishing an
// explicit null from an unresolved subscription per spec.md §9.
type State string

const (
	// StatePopulated means Value holds the resolved content.
	StatePopulated State = "populated"
	// StateNull means the attribute value is a literal with no content —
	// a deliberate null, not a resolution failure.
	StateNull State = "null"
	// StateNotYetPopulated means a ValueSubscription's target path could
	// not be traversed to a value (the child doesn't exist yet, or the
	// chain bottoms out in an unset subscription). Distinct from
	// StateNull per spec.md §9.
	StateNotYetPopulated State = "not_yet_populated"
)

// Result is the outcome of a single Resolve call.
type Result struct {
	State State
	Value json.RawMessage
}

// avPayload is the minimal shape this package needs from an
// AttributeValue's content, mirroring snapshot/validate.go's propPayload
// pattern of decoding only the sliver a caller needs rather than a full
// typed schema.
type avPayload struct {
	// Value holds a literal value. Absent (nil) means unset.
	Value json.RawMessage `json:"value,omitempty"`
	// SubscriptionPath, when non-empty, is the path to traverse under the
	// attribute value reached via this node's outgoing ValueSubscription
	// edge. Empty means "the subscription target itself, no further
	// traversal."
	SubscriptionPath string `json:"subscription_path,omitempty"`
}

// propPayload is the minimal shape this package needs from a Prop node's
// content: its name, for path-segment matching against an attribute
// value's Contain children.
type propPayload struct {
	Name string `json:"name"`
}

// maxSubscriptionChain bounds how many subscription hops Resolve will
// follow before giving up, guarding against a cycle that AddEdge does
// not reject (ValueSubscription isn't in
// cycleGuardedKinds since subscription chains are expected to be
// directed and acyclic by construction, not enforced at write time).
const maxSubscriptionChain = 32

// Resolver resolves attribute values against a single snapshot graph.
type Resolver struct {
	graph *snapshot.Graph
}

// New returns a Resolver over graph.
func New(graph *snapshot.Graph) *Resolver {
	return &Resolver{graph: graph}
}

// Resolve returns avID's effective value: its literal content, or — if it
// subscribes — the value reached by traversing its subscription path
// under the subscription target, recursively.
func (r *Resolver) Resolve(avID snapshot.NodeID) (Result, error) {
	return r.resolve(avID, 0)
}

func (r *Resolver) resolve(avID snapshot.NodeID, depth int) (Result, error) {
	if depth > maxSubscriptionChain {
		return Result{}, fmt.Errorf("subscription chain exceeds %d hops starting at %s", maxSubscriptionChain, avID)
	}

	node, err := r.graph.GetNodeWeight(avID)
	if err != nil {
		return Result{}, fmt.Errorf("load attribute value %s: %w", avID, err)
	}

	targets, err := r.graph.OutgoingTargetsForEdgeKind(avID, snapshot.EdgeValueSubscription)
	if err != nil {
		return Result{}, fmt.Errorf("load subscription edge for %s: %w", avID, err)
	}

	var payload avPayload
	if err := json.Unmarshal(node.Payload, &payload); err != nil {
		return Result{}, fmt.Errorf("decode attribute value %s payload: %w", avID, err)
	}

	if len(targets) == 0 {
		if len(payload.Value) == 0 {
			return Result{State: StateNull}, nil
		}
		return Result{State: StatePopulated, Value: payload.Value}, nil
	}

	anchor := targets[0]
	targetID, err := r.walk(anchor, ParsePath(payload.SubscriptionPath))
	if err != nil {
		// The path doesn't exist yet under the anchor — a first-class
		// unresolved state, not an error the caller needs to see.
		return Result{State: StateNotYetPopulated}, nil
	}

	return r.resolve(targetID, depth+1)
}

// Walk descends from anchor through path, matching each segment against a
// Contain child whose Prop edge target's name equals the segment. Exported
// for callers that need to locate an attribute value by its prop path
// without resolving its subscription chain (e.g. writing a component's
// resource payload).
func (r *Resolver) Walk(anchor snapshot.NodeID, path Path) (snapshot.NodeID, error) {
	return r.walk(anchor, path)
}

// walk descends from anchor through path, matching each segment against a
// Contain child whose Prop edge target's name equals the segment.
func (r *Resolver) walk(anchor snapshot.NodeID, path Path) (snapshot.NodeID, error) {
	current := anchor
	for _, segment := range path {
		next, err := r.childByName(current, segment)
		if err != nil {
			return "", err
		}
		current = next
	}
	return current, nil
}

func (r *Resolver) childByName(avID snapshot.NodeID, name string) (snapshot.NodeID, error) {
	children, err := r.graph.OutgoingTargetsForEdgeKind(avID, snapshot.EdgeContain)
	if err != nil {
		return "", err
	}
	for _, child := range children {
		propTargets, err := r.graph.OutgoingTargetsForEdgeKind(child, snapshot.EdgeProp)
		if err != nil {
			return "", err
		}
		if len(propTargets) != 1 {
			continue
		}
		propNode, err := r.graph.GetNodeWeight(propTargets[0])
		if err != nil {
			return "", err
		}
		var prop propPayload
		if err := json.Unmarshal(propNode.Payload, &prop); err != nil {
			continue
		}
		if prop.Name == name {
			return child, nil
		}
	}
	return "", fmt.Errorf("no child named %q under %s", name, avID)
}
