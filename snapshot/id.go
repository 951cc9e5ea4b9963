package snapshot

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid"
)

// NodeID is the stable identifier of a node. It is assigned once, at
// creation, and never changes even when the node's content is edited.
type NodeID string

// LineageID identifies a node's lineage: the identity preserved across
// content edits, distinct from the content-addressed merkle hash. A
// freshly created node's lineage equals its NodeID; a content edit keeps
// the lineage but may produce a new NodeID depending on the caller's
// replace-vs-edit-in-place choice (the engine always edits in place, so in
// practice NodeID == LineageID for the lifetime of a node — the distinction
// exists because the spec's data model keeps them conceptually separate).
type LineageID string

// ulidSource produces monotonically increasing ULIDs so that within a
// single process, generated IDs sort by creation order even when two are
// minted in the same millisecond. Guarded by a mutex because ulid.Monotonic
// is not safe for concurrent use.
type ulidSource struct {
	mu     sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newULIDSource() *ulidSource {
	return &ulidSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *ulidSource) next(ms uint64) ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		// Monotonic entropy only errors on overflow after ~2^80 IDs in the
		// same millisecond; regenerate with fresh entropy rather than panic.
		s.entropy = ulid.Monotonic(rand.Reader, 0)
		id, _ = ulid.New(ms, s.entropy)
	}
	return id
}
