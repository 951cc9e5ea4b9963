package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeComponentGraph map[string][]string

func (g fakeComponentGraph) Feeds(componentID string) []string { return g[componentID] }

func indexOf(actions []*Action, id ID) int {
	for i, a := range actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func TestExecutionOrderKeepsCreateBeforeUpdateBeforeDestroyWithinComponent(t *testing.T) {
	actions := []*Action{
		{ID: "destroy-a", Kind: KindDestroy, ComponentID: "a"},
		{ID: "update-a", Kind: KindUpdate, ComponentID: "a"},
		{ID: "create-a", Kind: KindCreate, ComponentID: "a"},
	}
	ordered, err := GetExecutionOrder(actions, fakeComponentGraph{})
	require.NoError(t, err)
	require.Less(t, indexOf(ordered, "create-a"), indexOf(ordered, "update-a"))
	require.Less(t, indexOf(ordered, "update-a"), indexOf(ordered, "destroy-a"))
}

func TestExecutionOrderCreateFollowsUpstreamComponent(t *testing.T) {
	// X feeds Y: X's Create precedes Y's Create.
	graph := fakeComponentGraph{"x": {"y"}}
	actions := []*Action{
		{ID: "create-y", Kind: KindCreate, ComponentID: "y"},
		{ID: "create-x", Kind: KindCreate, ComponentID: "x"},
	}
	ordered, err := GetExecutionOrder(actions, graph)
	require.NoError(t, err)
	require.Less(t, indexOf(ordered, "create-x"), indexOf(ordered, "create-y"))
}

func TestExecutionOrderDestroyReversesUpstreamComponent(t *testing.T) {
	// X feeds Y: Y's Destroy precedes X's Destroy.
	graph := fakeComponentGraph{"x": {"y"}}
	actions := []*Action{
		{ID: "destroy-x", Kind: KindDestroy, ComponentID: "x"},
		{ID: "destroy-y", Kind: KindDestroy, ComponentID: "y"},
	}
	ordered, err := GetExecutionOrder(actions, graph)
	require.NoError(t, err)
	require.Less(t, indexOf(ordered, "destroy-y"), indexOf(ordered, "destroy-x"))
}

func TestExecutionOrderTieBreaksByActionID(t *testing.T) {
	actions := []*Action{
		{ID: "b-action", Kind: KindCreate, ComponentID: "b"},
		{ID: "a-action", Kind: KindCreate, ComponentID: "a"},
	}
	ordered, err := GetExecutionOrder(actions, fakeComponentGraph{})
	require.NoError(t, err)
	require.Equal(t, ID("a-action"), ordered[0].ID)
	require.Equal(t, ID("b-action"), ordered[1].ID)
}

func TestExecutionOrderRejectsCircularComponentDependency(t *testing.T) {
	graph := fakeComponentGraph{"a": {"b"}, "b": {"a"}}
	actions := []*Action{
		{ID: "create-a", Kind: KindCreate, ComponentID: "a"},
		{ID: "create-b", Kind: KindCreate, ComponentID: "b"},
	}
	_, err := GetExecutionOrder(actions, graph)
	require.Error(t, err)
}

func TestExecutionOrderRespectsExplicitRequires(t *testing.T) {
	actions := []*Action{
		{ID: "second", Kind: KindCreate, ComponentID: "a", Requires: []ID{"first"}},
		{ID: "first", Kind: KindCreate, ComponentID: "b"},
	}
	ordered, err := GetExecutionOrder(actions, fakeComponentGraph{})
	require.NoError(t, err)
	require.Less(t, indexOf(ordered, "first"), indexOf(ordered, "second"))
}
