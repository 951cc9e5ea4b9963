package scheduler

import "fmt"

// ComponentGraph supplies the component-dependency subgraph (via
// subscriptions or socket connections) that cross-component action
// ordering must respect, per spec.md §4.5: "if component X's attributes
// feed component Y, X's Create runs before Y's Create; Y's Destroy runs
// before X's Destroy."
type ComponentGraph interface {
	// Feeds returns the IDs of components that this component feeds
	// (i.e. this component must Create before them, and Destroy after
	// them).
	Feeds(componentID string) []string
}

// validateNoCycle walks the component feed graph with DFS reachability,
// mirroring graph/dag.go's checkCycleRecursive, failing fast rather than
// looping forever in GetExecutionOrder's Kahn pass.
func validateNoCycle(g ComponentGraph, componentIDs []string) error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onStack[id] = true
		for _, dep := range g.Feeds(id) {
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				return fmt.Errorf("circular component dependency: %s -> %s", id, dep)
			}
		}
		onStack[id] = false
		return nil
	}

	for _, id := range componentIDs {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetExecutionOrder returns actions topologically sorted per spec.md
// §4.5's ordering rules:
//   - within one component: Create before Update/Refresh before Destroy;
//   - across components: if X feeds Y, X's Create-phase actions precede
//     Y's Create-phase actions, and Y's Destroy precedes X's Destroy;
//   - ties are broken by action ID for determinism.
//
// Adapted from graph/dag.go's GetExecutionOrder (Kahn's algorithm):
// in-degree tracking there was per-action "Requires" edges; here it is
// augmented with synthetic edges derived from component kind-ordering
// and the component feed graph.
func GetExecutionOrder(actions []*Action, components ComponentGraph) ([]*Action, error) {
	componentIDs := make([]string, 0, len(actions))
	seen := make(map[string]bool)
	for _, a := range actions {
		id := string(a.ComponentID)
		if !seen[id] {
			seen[id] = true
			componentIDs = append(componentIDs, id)
		}
	}
	if err := validateNoCycle(components, componentIDs); err != nil {
		return nil, err
	}

	byID := make(map[ID]*Action, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}

	graph := make(map[ID][]ID) // edge -> dependents
	inDegree := make(map[ID]int)
	for _, a := range actions {
		inDegree[a.ID] = 0
	}

	addEdge := func(from, to ID) {
		if from == to {
			return
		}
		graph[from] = append(graph[from], to)
		inDegree[to]++
	}

	for _, a := range actions {
		for _, dep := range a.Requires {
			if _, ok := byID[dep]; ok {
				addEdge(dep, a.ID)
			}
		}
	}

	// Within-component kind ordering: Create before Update/Refresh before
	// Destroy.
	byComponent := make(map[string][]*Action)
	for _, a := range actions {
		byComponent[string(a.ComponentID)] = append(byComponent[string(a.ComponentID)], a)
	}
	for _, group := range byComponent {
		var creates, mids, destroys []*Action
		for _, a := range group {
			switch a.Kind {
			case KindCreate:
				creates = append(creates, a)
			case KindDestroy:
				destroys = append(destroys, a)
			default:
				mids = append(mids, a)
			}
		}
		for _, c := range creates {
			for _, m := range mids {
				addEdge(c.ID, m.ID)
			}
			for _, d := range destroys {
				addEdge(c.ID, d.ID)
			}
		}
		for _, m := range mids {
			for _, d := range destroys {
				addEdge(m.ID, d.ID)
			}
		}
	}

	// Cross-component ordering: X feeds Y => X's Creates precede Y's
	// Creates, Y's Destroys precede X's Destroys.
	for componentID, group := range byComponent {
		for _, fedID := range components.Feeds(componentID) {
			fedGroup, ok := byComponent[fedID]
			if !ok {
				continue
			}
			for _, a := range group {
				if a.Kind != KindCreate {
					continue
				}
				for _, b := range fedGroup {
					if b.Kind == KindCreate {
						addEdge(a.ID, b.ID)
					}
				}
			}
			for _, a := range group {
				if a.Kind != KindDestroy {
					continue
				}
				for _, b := range fedGroup {
					if b.Kind == KindDestroy {
						addEdge(b.ID, a.ID)
					}
				}
			}
		}
	}

	return kahnSort(actions, graph, inDegree)
}

// kahnSort runs Kahn's algorithm with a deterministic tie-break by
// action ID, mirroring graph/dag.go's GetExecutionOrder but using a
// sorted-insert frontier instead of FIFO so ties are reproducible.
func kahnSort(actions []*Action, graph map[ID][]ID, inDegree map[ID]int) ([]*Action, error) {
	byID := make(map[ID]*Action, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}

	var frontier []ID
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sortIDs(frontier)

	var result []*Action
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		result = append(result, byID[current])

		var freed []ID
		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sortIDs(freed)
		frontier = mergeSorted(frontier, freed)
	}

	if len(result) != len(actions) {
		return nil, fmt.Errorf("circular dependency detected in action graph")
	}
	return result, nil
}

func sortIDs(ids []ID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// mergeSorted merges two already-sorted ID slices, keeping the result
// sorted so frontier order — and thus tie-break order — stays
// deterministic across iterations.
func mergeSorted(a, b []ID) []ID {
	if len(b) == 0 {
		return a
	}
	out := make([]ID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
