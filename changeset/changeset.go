// Package changeset implements the change-set layer: fork/apply/abandon
// lifecycle around a snapshot graph, per spec.md §4.3.
//
// Grounded on statemanager/manager.go's in-memory state-tracking shape
// (id-keyed map guarded by a RWMutex, bounded eviction) generalized from
// operation bookkeeping to change-set lifecycle, and on
// coordinator/phases.go's phase-name constants for the state machine.
package changeset

import (
	"sync"
	"time"

	"github.com/systeminit/workspace-engine/errs"
	"github.com/systeminit/workspace-engine/snapshot"
)

// Status is a change set's lifecycle state, per spec.md §4.3: "Open →
// Applied | Abandoned".
type Status string

const (
	StatusOpen      Status = "Open"
	StatusApplied   Status = "Applied"
	StatusAbandoned Status = "Abandoned"
)

// ID identifies a change set; change sets reuse the same ULID identity
// space as snapshot nodes.
type ID string

// ChangeSet is one fork of the workspace: a pointer to a base snapshot, the
// local working snapshot holding uncommitted mutations, and its lifecycle
// status plus approval bookkeeping.
type ChangeSet struct {
	ID     ID
	Status Status

	base    *snapshot.Graph
	working *snapshot.Graph

	appliedAt time.Time

	requirements []ApprovalRequirement
	approvals    []Approval
}

// Manager tracks every open change set by ID, the way statemanager.Manager
// tracks operations: an in-memory map guarded by a RWMutex, with no
// external persistence (persistence of the underlying snapshot is the
// content store's job, per spec.md §4.1's ownership note).
type Manager struct {
	mu          sync.RWMutex
	changeSets  map[ID]*ChangeSet
	idGenerator func() ID
}

// NewManager returns an empty change-set manager. idGenerator mints fresh
// change-set IDs; pass a snapshot.Graph's GenerateULID wrapped to ID, or any
// other monotonic source.
func NewManager(idGenerator func() ID) *Manager {
	return &Manager{
		changeSets:  make(map[ID]*ChangeSet),
		idGenerator: idGenerator,
	}
}

// ForkFrom clones base's root pointer into a brand-new Open change set with
// no delta yet, per spec.md §4.3's fork_from(base).
func (m *Manager) ForkFrom(base *snapshot.Graph) *ChangeSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := &ChangeSet{
		ID:      m.idGenerator(),
		Status:  StatusOpen,
		base:    base,
		working: base, // delta-free fork: working and base are the same graph until first mutation
	}
	m.changeSets[cs.ID] = cs
	return cs
}

// Get returns the change set registered under id.
func (m *Manager) Get(id ID) (*ChangeSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.changeSets[id]
	if !ok {
		return nil, errs.NewNotFound("change_set", string(id))
	}
	return cs, nil
}

// Working returns the change set's mutable working snapshot. Callers
// mutate this graph directly (it is the same *snapshot.Graph used by
// AddOrReplaceNode/AddEdge/etc); the change set only tracks lifecycle and
// the divergence from base.
func (cs *ChangeSet) Working() *snapshot.Graph {
	return cs.working
}

// Fork begins tracking a delta by swapping in workingGraph as the change
// set's working graph. The caller builds workingGraph (for example by
// copying base's nodes and edges into a new graph), since snapshot.Graph
// exposes no clone primitive of its own.
func (cs *ChangeSet) Fork(workingGraph *snapshot.Graph) error {
	if cs.Status != StatusOpen {
		return errs.NewWrongState(string(cs.Status), string(StatusOpen))
	}
	cs.working = workingGraph
	return nil
}

// DetectChangesFromHead returns the classified lineage delta between this
// change set's working graph and its base, per spec.md §4.3's
// detect_changes_from_head().
func (cs *ChangeSet) DetectChangesFromHead() ([]snapshot.Change, error) {
	return cs.working.DetectChangesFrom(cs.base)
}

// Abandon drops the working delta and detaches the change set, per
// spec.md §4.3's abandon().
func (cs *ChangeSet) Abandon() error {
	if cs.Status != StatusOpen {
		return errs.NewWrongState(string(cs.Status), string(StatusAbandoned))
	}
	cs.Status = StatusAbandoned
	cs.working = nil
	return nil
}
