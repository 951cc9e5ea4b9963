package coordinator

import (
	"github.com/systeminit/workspace-engine/snapshot"
)

// depGraph is the per-change-set dependency state described in spec.md
// §4.4: "a dependency DAG G of attribute-value IDs with, for each node, a
// depends_on: set<node> and a wanted_by: queue<worker_reply_channel>, plus
// optional processing_by: worker_reply_channel."
//
// Grounded on graph/dag.go's GetExecutionOrder (in-degree tracking becomes
// depends_on-count tracking here) and worker/pool.go's dequeue/claim shape
// for wanted_by/processing_by.
type depGraph struct {
	dependsOn    map[snapshot.NodeID]map[snapshot.NodeID]bool
	wantedBy     map[snapshot.NodeID][]string // worker reply-channel topics, FIFO
	processingBy map[snapshot.NodeID]string
}

func newDepGraph() *depGraph {
	return &depGraph{
		dependsOn:    make(map[snapshot.NodeID]map[snapshot.NodeID]bool),
		wantedBy:     make(map[snapshot.NodeID][]string),
		processingBy: make(map[snapshot.NodeID]string),
	}
}

// ensureNode registers id in the graph if it is not already present, with
// no dependencies.
func (g *depGraph) ensureNode(id snapshot.NodeID) {
	if _, ok := g.dependsOn[id]; !ok {
		g.dependsOn[id] = make(map[snapshot.NodeID]bool)
	}
}

// merge folds a worker's declared edges into G: union of edges and
// wanted_by, per spec.md §4.4's ValueDependencyGraph handler. The worker
// is queued on both endpoints of every edge it declares.
func (g *depGraph) merge(edges []DependencyEdge, replyTo string) {
	for _, e := range edges {
		g.ensureNode(e.Node)
		g.ensureNode(e.DependsOn)
		g.dependsOn[e.Node][e.DependsOn] = true

		if !containsString(g.wantedBy[e.Node], replyTo) {
			g.wantedBy[e.Node] = append(g.wantedBy[e.Node], replyTo)
		}
		if !containsString(g.wantedBy[e.DependsOn], replyTo) {
			g.wantedBy[e.DependsOn] = append(g.wantedBy[e.DependsOn], replyTo)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// processed handles a ProcessedValue report: removes nodeID from every
// other node's depends_on set, clears its processing_by, pops the front of
// its wanted_by queue, and returns that popped worker (to notify
// BeenProcessed), per spec.md §4.4.
func (g *depGraph) processed(nodeID snapshot.NodeID) (poppedWorker string, ok bool) {
	for _, deps := range g.dependsOn {
		delete(deps, nodeID)
	}
	delete(g.processingBy, nodeID)

	queue := g.wantedBy[nodeID]
	if len(queue) == 0 {
		delete(g.dependsOn, nodeID)
		return "", false
	}
	poppedWorker = queue[0]
	remaining := queue[1:]
	if len(remaining) == 0 {
		delete(g.wantedBy, nodeID)
	} else {
		g.wantedBy[nodeID] = remaining
	}
	delete(g.dependsOn, nodeID)
	return poppedWorker, true
}

// failed removes nodeID and every transitive dependent (nodes whose
// depends_on chain reaches nodeID) from G, returning the full set of
// removed nodes together with every worker that had asked for one of them,
// per spec.md §4.4: "Coordinator removes the node and all transitive
// dependents from G and replies Failed{node_id} to every affected
// wanted_by."
func (g *depGraph) failed(nodeID snapshot.NodeID) (removed []snapshot.NodeID, notify map[string][]snapshot.NodeID) {
	toRemove := map[snapshot.NodeID]bool{nodeID: true}

	changed := true
	for changed {
		changed = false
		for node, deps := range g.dependsOn {
			if toRemove[node] {
				continue
			}
			for dep := range deps {
				if toRemove[dep] {
					toRemove[node] = true
					changed = true
					break
				}
			}
		}
	}

	notify = make(map[string][]snapshot.NodeID)
	for node := range toRemove {
		for _, worker := range g.wantedBy[node] {
			notify[worker] = append(notify[worker], node)
		}
		delete(g.dependsOn, node)
		delete(g.wantedBy, node)
		delete(g.processingBy, node)
		removed = append(removed, node)
	}
	return removed, notify
}

// bye removes a departing worker's reply channel from every wanted_by
// queue, per spec.md §4.4's Bye handler.
func (g *depGraph) bye(replyTo string) {
	for node, queue := range g.wantedBy {
		filtered := queue[:0]
		for _, w := range queue {
			if w != replyTo {
				filtered = append(filtered, w)
			}
		}
		if len(filtered) == 0 {
			delete(g.wantedBy, node)
		} else {
			g.wantedBy[node] = filtered
		}
	}
}

// dispatchable scans for nodes with an empty depends_on set and no
// processing_by, marks them processing_by, and returns, per worker, the
// batch of node IDs to send in a single OkToProcess message — per spec.md
// §4.4's dispatch rule: "on every inbound message, the coordinator scans
// for nodes with empty depends_on and no processing_by; for each it emits
// OkToProcess{node_ids} to the front of wanted_by, and marks
// processing_by."
func (g *depGraph) dispatchable() map[string][]snapshot.NodeID {
	batches := make(map[string][]snapshot.NodeID)
	for node, deps := range g.dependsOn {
		if len(deps) != 0 {
			continue
		}
		if _, busy := g.processingBy[node]; busy {
			continue
		}
		queue := g.wantedBy[node]
		if len(queue) == 0 {
			continue
		}
		worker := queue[0]
		g.processingBy[node] = worker
		batches[worker] = append(batches[worker], node)
	}
	return batches
}

// isEmpty reports whether the graph has no tracked nodes left, used by the
// coordinator to decide whether a change set's DVU state can be dropped.
func (g *depGraph) isEmpty() bool {
	return len(g.dependsOn) == 0
}
