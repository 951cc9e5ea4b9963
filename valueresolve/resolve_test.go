package valueresolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systeminit/workspace-engine/snapshot"
)

func mustNode(t *testing.T, g *snapshot.Graph, kind snapshot.NodeKind, hash snapshot.ContentHash, payload json.RawMessage) *snapshot.NodeWeight {
	t.Helper()
	n, err := snapshot.NewNodeWeight(kind, g.GenerateULID(), hash, payload)
	require.NoError(t, err)
	require.NoError(t, g.AddOrReplaceNode(n))
	return n
}

func propPayloadFor(name string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"name": name})
	return b
}

func literalAVPayload(value string) json.RawMessage {
	b, _ := json.Marshal(map[string]json.RawMessage{"value": json.RawMessage(`"` + value + `"`)})
	return b
}

// buildAttr creates one AttributeValue node wired to a named Prop via an
// EdgeProp edge, and contains it under parent via EdgeContain.
func buildAttr(t *testing.T, g *snapshot.Graph, parent snapshot.NodeID, name string, payload json.RawMessage) snapshot.NodeID {
	t.Helper()
	prop := mustNode(t, g, snapshot.KindProp, snapshot.ContentHash("prop-"+name), propPayloadFor(name))
	av := mustNode(t, g, snapshot.KindAttributeValue, snapshot.ContentHash("av-"+name), payload)
	require.NoError(t, g.AddEdge(av.ID, prop.ID, snapshot.EdgeWeight{Kind: snapshot.EdgeProp}))
	if parent != "" {
		require.NoError(t, g.AddEdge(parent, av.ID, snapshot.EdgeWeight{Kind: snapshot.EdgeContain}))
	}
	return av.ID
}

func TestResolveReturnsLiteralValue(t *testing.T) {
	g := snapshot.NewGraph()
	av := buildAttr(t, g, "", "one", literalAVPayload("hello"))

	result, err := New(g).Resolve(av)
	require.NoError(t, err)
	require.Equal(t, StatePopulated, result.State)
	require.JSONEq(t, `"hello"`, string(result.Value))
}

func TestResolveReturnsNullForUnsetLiteral(t *testing.T) {
	g := snapshot.NewGraph()
	av := buildAttr(t, g, "", "one", json.RawMessage(`{}`))

	result, err := New(g).Resolve(av)
	require.NoError(t, err)
	require.Equal(t, StateNull, result.State)
}

func TestResolveFollowsSubscriptionToTargetValue(t *testing.T) {
	g := snapshot.NewGraph()

	// Component A: domain/one = "hello"
	rootA := mustNode(t, g, snapshot.KindComponent, "root-a", json.RawMessage(`{}`))
	domainA := buildAttr(t, g, rootA.ID, "domain", json.RawMessage(`{}`))
	oneA := buildAttr(t, g, domainA, "one", literalAVPayload("hello"))
	_ = oneA

	// Component B: domain/one subscribes to A's domain subtree, path "one"
	rootB := mustNode(t, g, snapshot.KindComponent, "root-b", json.RawMessage(`{}`))
	domainB := buildAttr(t, g, rootB.ID, "domain", json.RawMessage(`{}`))
	subPayload, _ := json.Marshal(map[string]string{"subscription_path": "one"})
	oneB := buildAttr(t, g, domainB, "one", subPayload)
	require.NoError(t, g.AddEdge(oneB, domainA, snapshot.EdgeWeight{Kind: snapshot.EdgeValueSubscription}))

	result, err := New(g).Resolve(oneB)
	require.NoError(t, err)
	require.Equal(t, StatePopulated, result.State)
	require.JSONEq(t, `"hello"`, string(result.Value))
}

func TestResolveIsNotYetPopulatedWhenSubscriptionTargetMissing(t *testing.T) {
	g := snapshot.NewGraph()

	rootA := mustNode(t, g, snapshot.KindComponent, "root-a", json.RawMessage(`{}`))
	domainA := buildAttr(t, g, rootA.ID, "domain", json.RawMessage(`{}`))
	// A/domain/one does not exist yet.

	rootB := mustNode(t, g, snapshot.KindComponent, "root-b", json.RawMessage(`{}`))
	domainB := buildAttr(t, g, rootB.ID, "domain", json.RawMessage(`{}`))
	subPayload, _ := json.Marshal(map[string]string{"subscription_path": "one"})
	oneB := buildAttr(t, g, domainB, "one", subPayload)
	require.NoError(t, g.AddEdge(oneB, domainA, snapshot.EdgeWeight{Kind: snapshot.EdgeValueSubscription}))

	result, err := New(g).Resolve(oneB)
	require.NoError(t, err)
	require.Equal(t, StateNotYetPopulated, result.State)
}

func TestResolveFollowsChainedSubscriptions(t *testing.T) {
	g := snapshot.NewGraph()

	rootA := mustNode(t, g, snapshot.KindComponent, "root-a", json.RawMessage(`{}`))
	domainA := buildAttr(t, g, rootA.ID, "domain", json.RawMessage(`{}`))
	buildAttr(t, g, domainA, "one", literalAVPayload("hello"))

	rootB := mustNode(t, g, snapshot.KindComponent, "root-b", json.RawMessage(`{}`))
	domainB := buildAttr(t, g, rootB.ID, "domain", json.RawMessage(`{}`))
	subPayloadB, _ := json.Marshal(map[string]string{"subscription_path": "one"})
	oneB := buildAttr(t, g, domainB, "one", subPayloadB)
	require.NoError(t, g.AddEdge(oneB, domainA, snapshot.EdgeWeight{Kind: snapshot.EdgeValueSubscription}))

	rootC := mustNode(t, g, snapshot.KindComponent, "root-c", json.RawMessage(`{}`))
	domainC := buildAttr(t, g, rootC.ID, "domain", json.RawMessage(`{}`))
	subPayloadC, _ := json.Marshal(map[string]string{"subscription_path": "one"})
	oneC := buildAttr(t, g, domainC, "one", subPayloadC)
	require.NoError(t, g.AddEdge(oneC, domainB, snapshot.EdgeWeight{Kind: snapshot.EdgeValueSubscription}))

	result, err := New(g).Resolve(oneC)
	require.NoError(t, err)
	require.Equal(t, StatePopulated, result.State)
	require.JSONEq(t, `"hello"`, string(result.Value))
}
