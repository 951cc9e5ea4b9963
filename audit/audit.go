// Package audit builds append-only log entries for operator-visible
// events, per spec.md §7: "audit-log entries capture the error kind and
// causal chain." Two producers feed it: errors surfaced anywhere in the
// core (tagged by errs.* kind) and changeset's last-writer-wins override
// records (spec.md §4.3).
//
// Grounded on semantic/runtime/event.go's Event/NewActionFailureEvent
// construction style (a typed constructor per occasion, a flat
// AdditionalProperty bag for occasion-specific fields), retargeted from
// the Schema.org event vocabulary to this package's own Entry shape —
// the core has no HTTP-facing audience for these entries, so the
// @context/@type JSON-LD envelope is dropped in favor of a plain struct.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/systeminit/workspace-engine/changeset"
	"github.com/systeminit/workspace-engine/errs"
)

// Kind names the occasion an Entry records.
type Kind string

const (
	KindError    Kind = "error"
	KindOverride Kind = "override"
)

// Entry is one append-only audit record.
type Entry struct {
	// ID is a random identifier minted at construction time, distinct
	// from Subject (the ID the entry is *about*), so the relational
	// store can key and paginate the audit log independent of how many
	// entries a given subject accumulates.
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"` // the ID the entry concerns (change set, node, action...)
	Message   string    `json:"message"`

	// ErrorTag is the machine-readable errs.* kind name, set only for
	// KindError entries, per spec.md §7's "machine tag."
	ErrorTag string `json:"error_tag,omitempty"`

	// Cause chains to the entry that explains why this one happened, so
	// a reader can walk an error back to its root without re-deriving it
	// from logs, per spec.md §7's "causal chain."
	Cause *Entry `json:"cause,omitempty"`

	// Extra carries occasion-specific fields (winner/loser hashes for an
	// override, retry count for a retried error), the same flat-bag role
	// semantic/runtime/event.go's AdditionalProperty plays.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// ToJSON marshals the entry, mirroring Event.ToJSON's role as the
// on-the-wire form written to the relational store's audit log table.
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// errorTag maps a wrapped errs.* error to its machine-readable kind name.
// Checked in taxonomy order since some kinds wrap others (e.g. a retried
// ExternalUnavailable surfacing through a Cancelled shutdown).
func errorTag(err error) string {
	switch {
	case errorsAs[*errs.NotFound](err):
		return "NotFound"
	case errorsAs[*errs.InvariantViolation](err):
		return "InvariantViolation"
	case errorsAs[*errs.Conflict](err):
		return "Conflict"
	case errorsAs[*errs.DependencyDataMissing](err):
		return "DependencyDataMissing"
	case errorsAs[*errs.WrongState](err):
		return "WrongState"
	case errorsAs[*errs.Timeout](err):
		return "Timeout"
	case errorsAs[*errs.ExternalUnavailable](err):
		return "ExternalUnavailable"
	case errorsAs[*errs.Cancelled](err):
		return "Cancelled"
	case errorsAs[*errs.Cycle](err):
		return "Cycle"
	case errorsAs[*errs.MissingContentFromStore](err):
		return "MissingContentFromStore"
	default:
		return "Unknown"
	}
}

func errorsAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// NewErrorEntry builds an audit entry for err, tagging it with its
// errs.* kind and chaining to cause if the caller is recording a
// propagated failure (e.g. an action failed because a dependency's
// value was never resolved).
func NewErrorEntry(subject string, err error, cause *Entry) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Kind:      KindError,
		Timestamp: time.Now(),
		Subject:   subject,
		Message:   err.Error(),
		ErrorTag:  errorTag(err),
		Cause:     cause,
	}
}

// NewOverrideEntry builds an audit entry for a recorded last-writer-wins
// override, per spec.md §4.3's S4 scenario: "an audit entry names C1's
// value as overridden."
func NewOverrideEntry(o changeset.Override) *Entry {
	loser := "ours"
	if o.WinnerIsUs {
		loser = "theirs"
	}
	return &Entry{
		ID:        uuid.NewString(),
		Kind:      KindOverride,
		Timestamp: o.AppliedAt,
		Subject:   string(o.ChangeSet),
		Message: fmt.Sprintf("lineage %s: %s value overridden by %s",
			o.Lineage, loser, string(o.ChangeSet)),
		Extra: map[string]interface{}{
			"lineage":      string(o.Lineage),
			"winner_hash":  string(o.WinnerHash),
			"loser_hash":   string(o.LoserHash),
			"winner_is_us": o.WinnerIsUs,
		},
	}
}
