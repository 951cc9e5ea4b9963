package snapshot

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/systeminit/workspace-engine/errs"
)

// sortedChild is one (edge kind, key, target merkle) triple contributing to
// a node's merkle hash, kept sortable so hash order never depends on edge
// insertion order, per spec.md §3 invariant 6.
type sortedChild struct {
	kindByte byte
	key      string
	merkle   ContentHash
}

// Merkle returns the node's merkle hash, computing (and memoizing) it and
// any dirty descendants first. The computation is post-order: a node's hash
// folds in its own content hash plus the sorted merkle hashes of every
// outgoing edge's target, per spec.md §3 invariant 6 and §4.1's "Merkle
// computation" algorithm.
func (g *Graph) Merkle(id NodeID) (ContentHash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.indexOf(id)
	if !ok {
		return "", errs.NewNotFound("node", string(id))
	}
	return g.merkleLocked(idx, make(map[int]bool))
}

func (g *Graph) merkleLocked(idx int, visiting map[int]bool) (ContentHash, error) {
	if h, ok := g.merkle[idx]; ok && !g.dirty[idx] {
		return h, nil
	}
	if visiting[idx] {
		// A merkle-cycle can only happen if a non-guarded edge kind forms a
		// loop; guarded kinds are rejected at AddEdge time.
		return "", errs.NewCycle("cycle detected while computing merkle hash")
	}
	visiting[idx] = true
	defer delete(visiting, idx)

	children := make([]sortedChild, 0, len(g.outgoing[idx]))
	for _, e := range g.outgoing[idx] {
		childHash, err := g.merkleLocked(e.to, visiting)
		if err != nil {
			return "", err
		}
		children = append(children, sortedChild{
			kindByte: edgeKindByte[e.weight.Kind],
			key:      e.weight.Key,
			merkle:   childHash,
		})
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].kindByte != children[j].kindByte {
			return children[i].kindByte < children[j].kindByte
		}
		if children[i].key != children[j].key {
			return children[i].key < children[j].key
		}
		return children[i].merkle < children[j].merkle
	})

	h := blake3.New()
	h.Write([]byte(g.nodes[idx].ContentHash))
	h.Write([]byte{0x00})
	for _, c := range children {
		h.Write([]byte{c.kindByte})
		h.Write([]byte(c.key))
		h.Write([]byte{0x00})
		h.Write([]byte(c.merkle))
	}

	hash := ContentHash(hex.EncodeToString(h.Sum(nil)))
	g.merkle[idx] = hash
	delete(g.dirty, idx)
	return hash, nil
}
