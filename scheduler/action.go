// Package scheduler enqueues and orders the side-effecting actions
// (Create, Update, Refresh, Destroy, user-defined) that accompany a
// change set's applied components, runs them in component-dependency
// order, and reconciles the resulting resource state, per spec.md §4.5.
//
// Grounded on graph/dag.go (topological ordering), semantic/actionregistry.go
// (kind → handler dispatch), worker/pool.go (claim/process/complete loop),
// and db/state_store.go (ActionState/Phase persistence shape).
package scheduler

import (
	"fmt"
	"time"

	"github.com/systeminit/workspace-engine/snapshot"
)

// Kind is an action's kind. The four built-in kinds are closed; anything
// else is a user-defined action name, per spec.md §4.5.
type Kind string

const (
	KindCreate  Kind = "create"
	KindUpdate  Kind = "update"
	KindRefresh Kind = "refresh"
	KindDestroy Kind = "destroy"
)

// Status is an action's state-machine position: Queued → Dispatched →
// Running → (Success | Failed); Blocked → (Queued on unblock | Failed).
type Status string

const (
	StatusQueued     Status = "queued"
	StatusDispatched Status = "dispatched"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusDispatched, StatusBlocked},
	StatusDispatched: {StatusRunning, StatusFailed},
	StatusRunning:    {StatusSuccess, StatusFailed},
	StatusBlocked:    {StatusQueued, StatusFailed},
}

// CanTransitionTo reports whether moving from s to target is a legal
// action state-machine transition.
func (s Status) CanTransitionTo(target Status) bool {
	for _, v := range validTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// ID identifies one enqueued action.
type ID string

// Action is one side-effecting operation enqueued against a component.
type Action struct {
	ID          ID
	Kind        Kind
	ComponentID snapshot.NodeID
	PrototypeID snapshot.NodeID // the function to invoke
	Status      Status

	// Requires lists the IDs of actions that must reach Success or
	// Skipped before this action may be claimed, per spec.md §4.5's
	// claim rule.
	Requires []ID

	EnqueuedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Result holds the executor's returned resource payload on success,
	// written to the component's /resource subtree by the caller.
	Result []byte
	Error  string
}

// WrongState is returned when a caller attempts an illegal action
// state-machine transition, per spec.md §7's WrongState(from, to) kind.
type WrongState struct {
	ID   ID
	From Status
	To   Status
}

func (e *WrongState) Error() string {
	return fmt.Sprintf("action %s: illegal transition %s -> %s", e.ID, e.From, e.To)
}

// transitionTo validates and applies a state-machine move, stamping
// StartedAt/CompletedAt as appropriate.
func (a *Action) transitionTo(target Status, now time.Time) error {
	if !a.Status.CanTransitionTo(target) {
		return &WrongState{ID: a.ID, From: a.Status, To: target}
	}
	a.Status = target
	switch target {
	case StatusRunning:
		a.StartedAt = &now
	case StatusSuccess, StatusFailed:
		a.CompletedAt = &now
	}
	return nil
}

// terminal reports whether an action's status can no longer change, i.e.
// is eligible as an upstream dependency for the claim rule.
func (s Status) terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// satisfiesUpstream reports whether s counts as "completed successfully"
// for the purposes of unblocking a downstream action's claim, per
// spec.md §4.5: "all upstream actions for this component chain are
// Success or Skipped."
func (s Status) satisfiesUpstream() bool {
	return s == StatusSuccess || s == StatusSkipped
}
