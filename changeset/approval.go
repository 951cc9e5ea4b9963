package changeset

import (
	"github.com/systeminit/workspace-engine/snapshot"
)

// ApprovalRequirement names a subtree that must collect at least Minimum
// valid approvals before the owning change set can apply, per spec.md
// §4.3.
type ApprovalRequirement struct {
	ID      string
	Subtree snapshot.NodeID
	Minimum int
}

// Approval records one approver's sign-off against a subtree's merkle hash
// at the time of approval. It becomes stale (no longer counted) if the
// subtree's hash changes afterward.
type Approval struct {
	RequirementID string
	Subtree       snapshot.NodeID
	Approver      string
	Checksum      snapshot.ContentHash
}

// AddRequirement registers a new approval requirement on the change set.
func (cs *ChangeSet) AddRequirement(req ApprovalRequirement) {
	cs.requirements = append(cs.requirements, req)
}

// RecordApproval registers approver's sign-off, stamped with the subtree's
// current merkle hash so staleness can be detected later without the
// approver needing to re-approve immediately.
func (cs *ChangeSet) RecordApproval(requirementID string, subtree snapshot.NodeID, approver string) error {
	hash, err := cs.working.Merkle(subtree)
	if err != nil {
		return err
	}
	cs.approvals = append(cs.approvals, Approval{
		RequirementID: requirementID,
		Subtree:       subtree,
		Approver:      approver,
		Checksum:      hash,
	})
	return nil
}

// ApprovalStatus is the per-requirement satisfaction state used by
// CanApply.
type ApprovalStatus struct {
	RequirementID string
	ValidCount    int
	StaleCount    int
	Satisfied     bool
}

// CanApply recomputes every requirement's valid-approval count against the
// working graph's *current* merkle hashes — "Approvals are recomputed as
// valid or stale whenever the approving subtree's merkle hash changes," per
// spec.md §4.3 — and reports whether every requirement's minimum is met.
func (cs *ChangeSet) CanApply() (bool, []ApprovalStatus, error) {
	statuses := make([]ApprovalStatus, 0, len(cs.requirements))
	allSatisfied := true

	for _, req := range cs.requirements {
		currentHash, err := cs.working.Merkle(req.Subtree)
		if err != nil {
			return false, nil, err
		}

		status := ApprovalStatus{RequirementID: req.ID}
		for _, a := range cs.approvals {
			if a.RequirementID != req.ID {
				continue
			}
			if a.Checksum == currentHash {
				status.ValidCount++
			} else {
				status.StaleCount++
			}
		}
		status.Satisfied = status.ValidCount >= req.Minimum
		if !status.Satisfied {
			allSatisfied = false
		}
		statuses = append(statuses, status)
	}

	return allSatisfied, statuses, nil
}
