package changeset

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/systeminit/workspace-engine/errs"
	"github.com/systeminit/workspace-engine/snapshot"
)

// Override is an audit record of a last-writer-wins conflict: the loser's
// content hash is never silently discarded, per spec.md §4.3: "the loser is
// logged (not discarded silently — a record of the override is written so
// operators can audit)." Grounded on db/couchdb.go's MVCC revision-conflict
// handling, adapted from document `_rev` comparison to merkle-hash
// comparison with an explicit audit trail instead of an HTTP 409.
type Override struct {
	ChangeSet  ID
	Lineage    snapshot.LineageID
	WinnerHash snapshot.ContentHash
	LoserHash  snapshot.ContentHash
	AppliedAt  time.Time
	WinnerIsUs bool
}

// ApplyToBase rebases cs's working mutations onto currentBase, the
// snapshot root that may have advanced since cs forked, per spec.md §4.3's
// apply_to_base(). appliedAt is the wall-clock timestamp used to break
// last-writer-wins ties; callers pass it explicitly since the package
// avoids calling time.Now() internally where determinism matters for
// tests.
//
// Returns the set of Overrides recorded (for audit logging) or a typed
// Conflict error if an incompatible structural edit pair was found.
func (cs *ChangeSet) ApplyToBase(currentBase *snapshot.Graph, appliedAt time.Time) ([]Override, error) {
	if cs.Status != StatusOpen {
		return nil, errs.NewWrongState(string(cs.Status), string(StatusApplied))
	}

	ourChanges, err := cs.working.DetectChangesFrom(cs.base)
	if err != nil {
		return nil, fmt.Errorf("detect local changes: %w", err)
	}
	theirChanges, err := currentBase.DetectChangesFrom(cs.base)
	if err != nil {
		return nil, fmt.Errorf("detect base advancement: %w", err)
	}

	theirByLineage := make(map[snapshot.LineageID]snapshot.Change, len(theirChanges))
	for _, c := range theirChanges {
		theirByLineage[c.Lineage] = c
	}

	var overrides []Override
	log := logrus.WithField("component", "changeset.apply")

	for _, ours := range ourChanges {
		theirs, contested := theirByLineage[ours.Lineage]
		if !contested || theirs.Kind == snapshot.Unchanged {
			continue // concurrent edits to different nodes merge freely
		}

		if ours.Kind == snapshot.Updated && theirs.Kind == snapshot.Updated {
			if ours.NewMerkle == theirs.NewMerkle {
				continue // same resulting content, nothing to reconcile
			}
			// last-writer-wins by wall-clock applied timestamp: since this
			// call is itself the local writer's apply, we are always the
			// later writer relative to whatever already landed in base.
			oursNode, err := cs.working.GetNodeWeight(snapshot.NodeID(ours.Lineage))
			if err != nil {
				return nil, fmt.Errorf("load %s from working snapshot: %w", ours.Lineage, err)
			}
			theirsNode, err := currentBase.GetNodeWeight(snapshot.NodeID(theirs.Lineage))
			if err != nil {
				return nil, fmt.Errorf("load %s from base: %w", theirs.Lineage, err)
			}
			override := Override{
				ChangeSet:  cs.ID,
				Lineage:    ours.Lineage,
				WinnerHash: oursNode.ContentHash,
				LoserHash:  theirsNode.ContentHash,
				AppliedAt:  appliedAt,
				WinnerIsUs: true,
			}
			overrides = append(overrides, override)
			log.WithFields(logrus.Fields{
				"change_set": cs.ID,
				"lineage":    ours.Lineage,
				"winner":     override.WinnerHash,
				"loser":      override.LoserHash,
			}).Warn("last-writer-wins override applied")
			continue
		}

		if incompatibleStructuralEdit(ours, theirs) {
			return nil, errs.NewConflict(errs.ConflictIncompatibleEdges,
				fmt.Sprintf("lineage %s: incompatible concurrent structural edits", ours.Lineage))
		}
	}

	if err := mergeChangesInto(currentBase, cs.working, ourChanges); err != nil {
		return nil, fmt.Errorf("merge working changes into base: %w", err)
	}

	cs.base = currentBase
	cs.Status = StatusApplied
	cs.appliedAt = appliedAt
	return overrides, nil
}

// incompatibleStructuralEdit reports whether two concurrent classifications
// of the same lineage cannot both be honored — per spec.md §4.3, an Added
// lineage colliding with an independently Added lineage of the same
// identity (a double-create) is the canonical incompatible case; both
// additions cannot be reconciled without a typed retry signal.
func incompatibleStructuralEdit(ours, theirs snapshot.Change) bool {
	return ours.Kind == snapshot.Added && theirs.Kind == snapshot.Added && ours.NewMerkle != theirs.NewMerkle
}

// mergeChangesInto copies working's side of each changed lineage into base:
// Added and Updated lineages overwrite (or insert) the node and its
// structural edges, Removed lineages are deleted outright. Node content is
// copied in a first pass so every lineage a new edge might reference
// already exists in base before any edge is added.
func mergeChangesInto(base, working *snapshot.Graph, changes []snapshot.Change) error {
	var added []snapshot.LineageID

	for _, c := range changes {
		switch c.Kind {
		case snapshot.Added, snapshot.Updated:
			node, err := working.GetNodeWeight(snapshot.NodeID(c.Lineage))
			if err != nil {
				return fmt.Errorf("load %s from working snapshot: %w", c.Lineage, err)
			}
			if err := base.AddOrReplaceNode(node); err != nil {
				return fmt.Errorf("apply %s to base: %w", c.Lineage, err)
			}
			if c.Kind == snapshot.Added {
				added = append(added, c.Lineage)
			}
		case snapshot.Removed:
			if err := base.RemoveNode(snapshot.NodeID(c.Lineage)); err != nil {
				var notFound *errs.NotFound
				if errors.As(err, &notFound) {
					continue // already gone from base, nothing to do
				}
				return fmt.Errorf("remove %s from base: %w", c.Lineage, err)
			}
		}
	}

	addedSet := make(map[snapshot.NodeID]bool, len(added))
	for _, l := range added {
		addedSet[snapshot.NodeID(l)] = true
	}

	// Edges are copied in a second pass, once every added lineage's node
	// already exists in base, keyed off working's edges rather than base's
	// so an edge between two newly-added lineages is only ever added once:
	// when its source is processed, never again when its target is.
	for _, lineage := range added {
		id := snapshot.NodeID(lineage)

		outgoing, err := working.OutgoingEdges(id)
		if err != nil {
			return fmt.Errorf("list outgoing edges for %s: %w", lineage, err)
		}
		for _, e := range outgoing {
			if err := base.AddEdge(id, e.Target, e.Weight); err != nil {
				return fmt.Errorf("copy edge %s->%s to base: %w", lineage, e.Target, err)
			}
		}

		incoming, err := working.IncomingEdges(id)
		if err != nil {
			return fmt.Errorf("list incoming edges for %s: %w", lineage, err)
		}
		for _, e := range incoming {
			if addedSet[e.Source] {
				continue // already copied above as e.Source's outgoing edge
			}
			if err := base.AddEdge(e.Source, id, e.Weight); err != nil {
				return fmt.Errorf("copy edge %s->%s to base: %w", e.Source, lineage, err)
			}
		}
	}

	return nil
}
