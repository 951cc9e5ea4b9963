package changeset

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systeminit/workspace-engine/snapshot"
)

func newIDGen(prefix string) func() ID {
	n := 0
	return func() ID {
		n++
		return ID(prefix + string(rune('0'+n)))
	}
}

func scalar() json.RawMessage { return json.RawMessage(`{"kind":"scalar"}`) }

func TestForkFromStartsOpenWithNoDelta(t *testing.T) {
	base := snapshot.NewGraph()
	m := NewManager(newIDGen("cs-"))

	cs := m.ForkFrom(base)
	require.Equal(t, StatusOpen, cs.Status)

	changes, err := cs.DetectChangesFromHead()
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestAbandonDropsDelta(t *testing.T) {
	base := snapshot.NewGraph()
	m := NewManager(newIDGen("cs-"))
	cs := m.ForkFrom(base)

	require.NoError(t, cs.Abandon())
	require.Equal(t, StatusAbandoned, cs.Status)

	err := cs.Abandon()
	require.Error(t, err)
}

func TestApplyToBaseMergesDisjointEdits(t *testing.T) {
	base := snapshot.NewGraph()
	a, err := snapshot.NewNodeWeight(snapshot.KindComponent, base.GenerateULID(), "a-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, base.AddOrReplaceNode(a))

	m := NewManager(newIDGen("cs-"))
	cs := m.ForkFrom(base)

	working := snapshot.NewGraph()
	aCopy, _ := snapshot.NewNodeWeight(snapshot.KindComponent, a.ID, "a-v1", scalar())
	require.NoError(t, working.AddOrReplaceNode(aCopy))
	b, err := snapshot.NewNodeWeight(snapshot.KindComponent, working.GenerateULID(), "b-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, working.AddOrReplaceNode(b))
	require.NoError(t, cs.Fork(working))

	overrides, err := cs.ApplyToBase(base, time.Now())
	require.NoError(t, err)
	require.Empty(t, overrides)
	require.Equal(t, StatusApplied, cs.Status)

	loadedA, err := base.GetNodeWeight(a.ID)
	require.NoError(t, err)
	require.Equal(t, snapshot.ContentHash("a-v1"), loadedA.ContentHash)

	loadedB, err := base.GetNodeWeight(b.ID)
	require.NoError(t, err)
	require.Equal(t, snapshot.ContentHash("b-v1"), loadedB.ContentHash)
}

func TestApplyToBaseRemovesDeletedLineageFromBase(t *testing.T) {
	base := snapshot.NewGraph()
	a, err := snapshot.NewNodeWeight(snapshot.KindComponent, base.GenerateULID(), "a-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, base.AddOrReplaceNode(a))

	m := NewManager(newIDGen("cs-"))
	cs := m.ForkFrom(base)

	working := snapshot.NewGraph() // a is absent: deleted in the working snapshot
	require.NoError(t, cs.Fork(working))

	overrides, err := cs.ApplyToBase(base, time.Now())
	require.NoError(t, err)
	require.Empty(t, overrides)

	_, err = base.GetNodeWeight(a.ID)
	require.Error(t, err, "a must be removed from the base snapshot on apply")
}

func TestApplyToBaseCopiesEdgesOfNewlyAddedLineages(t *testing.T) {
	base := snapshot.NewGraph()
	root, err := snapshot.NewNodeWeight(snapshot.KindComponent, base.GenerateULID(), "root-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, base.AddOrReplaceNode(root))

	m := NewManager(newIDGen("cs-"))
	cs := m.ForkFrom(base)

	working := snapshot.NewGraph()
	rootCopy, _ := snapshot.NewNodeWeight(snapshot.KindComponent, root.ID, "root-v1", scalar())
	require.NoError(t, working.AddOrReplaceNode(rootCopy))
	child, err := snapshot.NewNodeWeight(snapshot.KindProp, working.GenerateULID(), "child-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, working.AddOrReplaceNode(child))
	require.NoError(t, working.AddEdge(root.ID, child.ID, snapshot.EdgeWeight{Kind: snapshot.EdgeContain}))
	require.NoError(t, cs.Fork(working))

	_, err = cs.ApplyToBase(base, time.Now())
	require.NoError(t, err)

	children, err := base.OutgoingTargetsForEdgeKind(root.ID, snapshot.EdgeContain)
	require.NoError(t, err)
	require.Equal(t, []snapshot.NodeID{child.ID}, children)
}

func TestApplyToBaseRecordsLastWriterWinsOverride(t *testing.T) {
	base := snapshot.NewGraph()
	a, err := snapshot.NewNodeWeight(snapshot.KindComponent, base.GenerateULID(), "a-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, base.AddOrReplaceNode(a))

	m := NewManager(newIDGen("cs-"))
	cs := m.ForkFrom(base)

	working := snapshot.NewGraph()
	ourEdit, _ := snapshot.NewNodeWeight(snapshot.KindComponent, a.ID, "a-v2-ours", scalar())
	require.NoError(t, working.AddOrReplaceNode(ourEdit))
	require.NoError(t, cs.Fork(working))

	advancedBase := snapshot.NewGraph()
	theirEdit, _ := snapshot.NewNodeWeight(snapshot.KindComponent, a.ID, "a-v2-theirs", scalar())
	require.NoError(t, advancedBase.AddOrReplaceNode(theirEdit))

	overrides, err := cs.ApplyToBase(advancedBase, time.Now())
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.Equal(t, snapshot.ContentHash("a-v2-ours"), overrides[0].WinnerHash)
	require.True(t, overrides[0].WinnerIsUs)

	loaded, err := advancedBase.GetNodeWeight(a.ID)
	require.NoError(t, err)
	require.Equal(t, snapshot.ContentHash("a-v2-ours"), loaded.ContentHash, "winner's content must actually land in base, not just be audited")
}

func TestApprovalBecomesStaleWhenSubtreeChanges(t *testing.T) {
	base := snapshot.NewGraph()
	root, err := snapshot.NewNodeWeight(snapshot.KindComponent, base.GenerateULID(), "root-v1", scalar())
	require.NoError(t, err)
	require.NoError(t, base.AddOrReplaceNode(root))

	m := NewManager(newIDGen("cs-"))
	cs := m.ForkFrom(base)
	require.NoError(t, cs.Fork(base))

	cs.AddRequirement(ApprovalRequirement{ID: "req-1", Subtree: root.ID, Minimum: 1})
	require.NoError(t, cs.RecordApproval("req-1", root.ID, "alice"))

	ok, statuses, err := cs.CanApply()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, statuses[0].ValidCount)

	updated, _ := snapshot.NewNodeWeight(snapshot.KindComponent, root.ID, "root-v2", scalar())
	require.NoError(t, cs.working.AddOrReplaceNode(updated))

	ok, statuses, err = cs.CanApply()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, statuses[0].ValidCount)
	require.Equal(t, 1, statuses[0].StaleCount)
}
