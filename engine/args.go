// Package engine wires the scheduler's ArgsFor and ResourceWriter
// collaborators to a live snapshot.Graph, bridging the scheduler
// (which only knows component IDs) to the graph and its attribute
// values without the scheduler package importing snapshot or
// valueresolve directly, per scheduler.go's own doc comment: "actions
// are dispatched by component ID; the caller resolves that against
// whichever change set is being applied."
//
// Grounded on semantic/runtime/variables.go's resolved-argument-map
// construction for action dispatch, retargeted from action-field
// string substitution to walking a component's domain subtree through
// valueresolve.
package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/systeminit/workspace-engine/snapshot"
	"github.com/systeminit/workspace-engine/valueresolve"
)

// domainPath is the root of every component's configurable attributes,
// per spec.md's domain/resource subtree split.
var domainPath = valueresolve.ParsePath("domain")

// resourcePayloadPath is where a successful action's result is written
// back, per spec.md §4.5: "writes the returned resource payload to the
// component's /resource subtree."
var resourcePayloadPath = valueresolve.ParsePath("resource/payload")

// GraphArgs resolves scheduler.ArgsFor and implements scheduler.ResourceWriter
// against a single snapshot graph.
type GraphArgs struct {
	graph    *snapshot.Graph
	resolver *valueresolve.Resolver
}

// NewGraphArgs wraps graph for use as a scheduler collaborator.
func NewGraphArgs(graph *snapshot.Graph) *GraphArgs {
	return &GraphArgs{graph: graph, resolver: valueresolve.New(graph)}
}

// ArgsFor implements scheduler.ArgsFor: it walks componentID's domain
// subtree and resolves each leaf attribute value, skipping any that are
// still ValueNotYetPopulated rather than failing the whole dispatch —
// an action with an unresolved dependency should never have been marked
// Ready in the first place (scheduler.Scheduler.Claim only claims actions
// whose Requires are all terminal-success).
func (a *GraphArgs) ArgsFor(ctx context.Context, componentID string) (map[string]interface{}, error) {
	domain, err := a.resolver.Walk(snapshot.NodeID(componentID), domainPath)
	if err != nil {
		return nil, fmt.Errorf("locate domain subtree for %s: %w", componentID, err)
	}

	children, err := a.graph.OutgoingTargetsForEdgeKind(domain, snapshot.EdgeContain)
	if err != nil {
		return nil, fmt.Errorf("list domain children for %s: %w", componentID, err)
	}

	args := make(map[string]interface{}, len(children))
	for _, child := range children {
		name, err := a.propName(child)
		if err != nil {
			return nil, err
		}
		result, err := a.resolver.Resolve(child)
		if err != nil {
			return nil, fmt.Errorf("resolve %s/domain/%s: %w", componentID, name, err)
		}
		if result.State != valueresolve.StatePopulated {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(result.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/domain/%s value: %w", componentID, name, err)
		}
		args[name] = v
	}
	return args, nil
}

func (a *GraphArgs) propName(avID snapshot.NodeID) (string, error) {
	propTargets, err := a.graph.OutgoingTargetsForEdgeKind(avID, snapshot.EdgeProp)
	if err != nil {
		return "", err
	}
	if len(propTargets) != 1 {
		return "", fmt.Errorf("attribute value %s has %d prop edges, want 1", avID, len(propTargets))
	}
	propNode, err := a.graph.GetNodeWeight(propTargets[0])
	if err != nil {
		return "", err
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(propNode.Payload, &payload); err != nil {
		return "", fmt.Errorf("decode prop %s: %w", propTargets[0], err)
	}
	return payload.Name, nil
}

// WriteResource implements scheduler.ResourceWriter: it overwrites
// componentID's /resource/payload attribute value in place with the
// executor's returned bytes, per spec.md §4.5.
func (a *GraphArgs) WriteResource(ctx context.Context, componentID string, payload []byte) error {
	avID, err := a.resolver.Walk(snapshot.NodeID(componentID), resourcePayloadPath)
	if err != nil {
		return fmt.Errorf("locate resource payload slot for %s: %w", componentID, err)
	}

	existing, err := a.graph.GetNodeWeight(avID)
	if err != nil {
		return fmt.Errorf("load resource payload node %s: %w", avID, err)
	}

	encoded, err := json.Marshal(struct {
		Value json.RawMessage `json:"value"`
	}{Value: json.RawMessage(payload)})
	if err != nil {
		return fmt.Errorf("encode resource payload: %w", err)
	}

	sum := blake3.Sum256(encoded)
	hash := snapshot.ContentHash(hex.EncodeToString(sum[:]))

	return a.graph.AddOrReplaceNode(existing.WithContent(hash, encoded))
}
