package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cayleygraph/cayley"
	"github.com/cayleygraph/cayley/graph"
	_ "github.com/cayleygraph/cayley/graph/kv/bolt"
	"github.com/cayleygraph/quad"
)

// Predicates used to encode a snapshot graph as RDF-style quads. Every
// quad's Label is the snapshot root id, so one bbolt-backed store can hold
// many change sets' snapshots side by side without them bleeding into each
// other's traversals — adapted from semantic/workflowgraph.go's
// NewWorkflowGraph/ImportJSONLD, retargeted from JSON-LD workflow import to
// node/edge/lineage triples.
const (
	predKind        = quad.IRI("si:kind")
	predLineage     = quad.IRI("si:lineage")
	predContentHash = quad.IRI("si:contentHash")
	predPayload     = quad.IRI("si:payload")
	predEdge        = quad.IRI("si:edge") // subject -[edge]-> object, with edge kind/key carried in a companion quad
	predEdgeKind    = quad.IRI("si:edgeKind")
	predEdgeKey     = quad.IRI("si:edgeKey")
)

// Store persists snapshot graphs as quads in a BoltDB-backed cayley graph,
// per spec.md §4.2's content-store durability guarantee ("once write
// returns, the content is durable").
type Store struct {
	handle *cayley.Handle
}

// OpenStore opens (initializing if necessary) a bbolt-backed quad store at
// path.
func OpenStore(path string) (*Store, error) {
	err := graph.InitQuadStore("bolt", path, nil)
	if err != nil && err != graph.ErrDatabaseExists {
		return nil, fmt.Errorf("init quad store: %w", err)
	}
	handle, err := cayley.NewGraph("bolt", path, nil)
	if err != nil {
		return nil, fmt.Errorf("open quad store: %w", err)
	}
	return &Store{handle: handle}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	if s.handle == nil {
		return nil
	}
	return s.handle.Close()
}

// edgeSubject gives each edge a unique subject IRI of its own, since an
// edge carries attributes (kind, key) beyond its endpoints; the edge node
// then fans out to a "from"/"to" pair via si:edge quads.
func edgeSubject(label string, from, to NodeID, kind EdgeKind, key string) quad.IRI {
	return quad.IRI(fmt.Sprintf("edge:%s:%s:%s:%s:%s", label, from, to, kind, key))
}

func nodeSubject(id NodeID) quad.IRI {
	return quad.IRI("node:" + string(id))
}

// Save writes every live node and edge of g as quads labeled with
// rootLabel (typically the change set's id), so later callers can load the
// exact snapshot back with Load.
func (s *Store) Save(rootLabel string, g *Graph) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var quads []quad.Quad
	label := quad.String(rootLabel)

	for idx, n := range g.nodes {
		if n == tombstone {
			continue
		}
		subj := nodeSubject(n.ID)
		quads = append(quads,
			quad.Make(subj, predKind, quad.String(string(n.Kind)), label),
			quad.Make(subj, predLineage, quad.String(string(n.Lineage)), label),
			quad.Make(subj, predContentHash, quad.String(string(n.ContentHash)), label),
			quad.Make(subj, predPayload, quad.String(string(n.Payload)), label),
		)

		for _, e := range g.outgoing[idx] {
			to := g.nodes[e.to]
			esubj := edgeSubject(rootLabel, n.ID, to.ID, e.weight.Kind, e.weight.Key)
			quads = append(quads,
				quad.Make(esubj, predEdge, subj, label),
				quad.Make(esubj, predEdge, nodeSubject(to.ID), label),
				quad.Make(esubj, predEdgeKind, quad.String(string(e.weight.Kind)), label),
			)
			if e.weight.Key != "" {
				quads = append(quads, quad.Make(esubj, predEdgeKey, quad.String(e.weight.Key), label))
			}
		}
	}

	if len(quads) == 0 {
		return nil
	}
	if err := s.handle.AddQuadSet(quads); err != nil {
		return fmt.Errorf("save snapshot %q: %w", rootLabel, err)
	}
	return nil
}

// Load reconstructs a graph from every quad labeled rootLabel.
func (s *Store) Load(rootLabel string) (*Graph, error) {
	ctx := context.Background()
	g := NewGraph()

	nodesByID := make(map[NodeID]*NodeWeight)

	p := cayley.StartPath(s.handle).Has(predKind)
	it, err := p.BuildIterator().Optimize()
	if err != nil {
		return nil, fmt.Errorf("build iterator: %w", err)
	}
	defer it.Close()

	for it.Next(ctx) {
		subjVal := s.handle.NameOf(it.Result())
		subj, ok := subjVal.(quad.IRI)
		if !ok || !strings.HasPrefix(string(subj), "node:") {
			continue
		}
		id := NodeID(strings.TrimPrefix(string(subj), "node:"))

		kind, err := s.singleString(ctx, subj, predKind, rootLabel)
		if err != nil || kind == "" {
			continue
		}
		lineage, _ := s.singleString(ctx, subj, predLineage, rootLabel)
		contentHash, _ := s.singleString(ctx, subj, predContentHash, rootLabel)
		payload, _ := s.singleString(ctx, subj, predPayload, rootLabel)

		nodesByID[id] = &NodeWeight{
			ID:          id,
			Lineage:     LineageID(lineage),
			Kind:        NodeKind(kind),
			ContentHash: ContentHash(contentHash),
			Payload:     json.RawMessage(payload),
		}
	}

	for _, n := range nodesByID {
		if err := g.AddOrReplaceNode(n); err != nil {
			return nil, err
		}
	}

	// Edges: scan every si:edgeKind quad for this label, then resolve its
	// edge subject's two si:edge endpoints.
	kp := cayley.StartPath(s.handle).Has(predEdgeKind)
	kit, err := kp.BuildIterator().Optimize()
	if err != nil {
		return nil, fmt.Errorf("build edge iterator: %w", err)
	}
	defer kit.Close()

	for kit.Next(ctx) {
		esubjVal := s.handle.NameOf(kit.Result())
		esubj, ok := esubjVal.(quad.IRI)
		if !ok {
			continue
		}
		kind, _ := s.singleString(ctx, esubj, predEdgeKind, rootLabel)
		if kind == "" {
			continue
		}
		key, _ := s.singleString(ctx, esubj, predEdgeKey, rootLabel)

		ends := s.edgeEndpoints(ctx, esubj, rootLabel)
		if len(ends) != 2 {
			continue
		}
		from, to := ends[0], ends[1]
		if _, ok := nodesByID[from]; !ok {
			continue
		}
		if _, ok := nodesByID[to]; !ok {
			continue
		}
		if err := g.AddEdge(from, to, EdgeWeight{Kind: EdgeKind(kind), Key: key}); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (s *Store) singleString(ctx context.Context, subj quad.Value, pred quad.IRI, label string) (string, error) {
	p := cayley.StartPath(s.handle, subj).LabelContext(quad.String(label)).Out(pred)
	it, err := p.BuildIterator().Optimize()
	if err != nil {
		return "", err
	}
	defer it.Close()
	for it.Next(ctx) {
		v := s.handle.NameOf(it.Result())
		if str, ok := v.(quad.String); ok {
			return string(str), nil
		}
	}
	return "", nil
}

// edgeEndpoints returns the [from, to] node IDs an edge subject fans out
// to, in the order they were written by Save (from first, to second).
func (s *Store) edgeEndpoints(ctx context.Context, esubj quad.Value, label string) []NodeID {
	p := cayley.StartPath(s.handle, esubj).LabelContext(quad.String(label)).Out(predEdge)
	it, err := p.BuildIterator().Optimize()
	if err != nil {
		return nil
	}
	defer it.Close()

	var out []NodeID
	for it.Next(ctx) {
		v := s.handle.NameOf(it.Result())
		if iri, ok := v.(quad.IRI); ok && strings.HasPrefix(string(iri), "node:") {
			out = append(out, NodeID(strings.TrimPrefix(string(iri), "node:")))
		}
	}
	return out
}
