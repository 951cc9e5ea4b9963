package relstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/systeminit/workspace-engine/audit"
	"github.com/systeminit/workspace-engine/changeset"
	"github.com/systeminit/workspace-engine/snapshot"
)

// RecordOverride persists one last-writer-wins override audit record, per
// spec.md §4.3: "the loser is logged (not discarded silently)." Grounded on
// changeset/conflict.go's Override and the audit-trail note in its doc
// comment.
func (s *Store) RecordOverride(ctx context.Context, o changeset.Override) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_set_overrides (change_set_id, lineage_id, winner_hash, loser_hash, applied_at, winner_is_us)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(o.ChangeSet), string(o.Lineage), string(o.WinnerHash), string(o.LoserHash), o.AppliedAt, o.WinnerIsUs)
	return err
}

// Overrides loads every override recorded against changeSetID, newest
// first.
func (s *Store) Overrides(ctx context.Context, changeSetID changeset.ID) ([]changeset.Override, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lineage_id, winner_hash, loser_hash, applied_at, winner_is_us
		FROM change_set_overrides
		WHERE change_set_id = $1
		ORDER BY applied_at DESC`, string(changeSetID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []changeset.Override
	for rows.Next() {
		var lineage, winnerHash, loserHash string
		var appliedAt time.Time
		var winnerIsUs bool
		if err := rows.Scan(&lineage, &winnerHash, &loserHash, &appliedAt, &winnerIsUs); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, changeset.Override{
			ChangeSet:  changeSetID,
			Lineage:    snapshot.LineageID(lineage),
			WinnerHash: snapshot.ContentHash(winnerHash),
			LoserHash:  snapshot.ContentHash(loserHash),
			WinnerIsUs: winnerIsUs,
			AppliedAt:  appliedAt,
		})
	}
	return out, rows.Err()
}

// RecordApproval persists one approver's sign-off, per spec.md §4.3's
// approval bookkeeping. Grounded on changeset/approval.go's Approval.
func (s *Store) RecordApproval(ctx context.Context, changeSetID changeset.ID, a changeset.Approval) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_set_approvals (change_set_id, requirement_id, subtree, approver, checksum, approved_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		string(changeSetID), a.RequirementID, string(a.Subtree), a.Approver, string(a.Checksum))
	return err
}

// Approvals loads every approval recorded against changeSetID, the
// durable counterpart to changeset.ChangeSet's in-memory approvals slice
// so a restarted process can rebuild CanApply's state.
func (s *Store) Approvals(ctx context.Context, changeSetID changeset.ID) ([]changeset.Approval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT requirement_id, subtree, approver, checksum
		FROM change_set_approvals
		WHERE change_set_id = $1`, string(changeSetID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []changeset.Approval
	for rows.Next() {
		var a changeset.Approval
		var subtree, checksum string
		if err := rows.Scan(&a.RequirementID, &subtree, &a.Approver, &checksum); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.Subtree = snapshot.NodeID(subtree)
		a.Checksum = snapshot.ContentHash(checksum)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordAuditEntry persists one audit.Entry to the audit log table, per
// spec.md §6's "audit logs" responsibility. Entries are written whole
// (as JSON) rather than column-per-field, since Extra's shape varies by
// Kind and Cause nests arbitrarily deep.
func (s *Store) RecordAuditEntry(ctx context.Context, e *audit.Entry) error {
	payload, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, kind, subject, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, string(e.Kind), e.Subject, e.Timestamp, payload)
	return err
}

// AuditEntries loads every audit entry recorded against subject, newest
// first.
func (s *Store) AuditEntries(ctx context.Context, subject string) ([]*audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload
		FROM audit_log
		WHERE subject = $1
		ORDER BY occurred_at DESC`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		var e audit.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
