package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the scheduler's persistence boundary: it owns enqueue/claim/
// complete transitions for actions, per spec.md §6's "relational store
// holds... action history" external collaborator. relstore.Store
// implements this.
type Store interface {
	Enqueue(ctx context.Context, a *Action) error
	Get(ctx context.Context, id ID) (*Action, error)
	Update(ctx context.Context, a *Action) error
	// Ready returns queued actions, ordered deterministically. It does
	// not check Requires; Claim does that before claiming each one.
	Ready(ctx context.Context) ([]*Action, error)
	// Dependents returns every still-Queued action that directly
	// Requires id, for callers cascading a Blocked transition after an
	// upstream failure (spec.md §4.5).
	Dependents(ctx context.Context, id ID) ([]*Action, error)
}

// ArgsFor supplies a component's current attribute values as executor
// arguments, bridging the scheduler to the snapshot graph without this
// package importing it directly (actions are dispatched by component
// ID; the caller resolves that against whichever change set is being
// applied).
type ArgsFor func(ctx context.Context, componentID string) (map[string]interface{}, error)

// ResourceWriter persists a successful action's resource payload back
// into the component's /resource subtree. No resource-refreshed event is
// emitted, by Run or by this interface.
type ResourceWriter interface {
	WriteResource(ctx context.Context, componentID string, payload []byte) error
}

// Scheduler claims ready actions, invokes their registered handler, and
// reconciles the result, per spec.md §4.5. Grounded on worker/pool.go's
// Pool/Worker/processNext (dequeue → mark-processing → process →
// complete/fail), adapted from a generic job queue to the action
// claim/dispatch rule (upstream-terminal gating); engine.DispatchLoop
// drives the bounded-concurrency polling loop over Claim/Run directly.
type Scheduler struct {
	store      Store
	registry   *Registry
	argsFor    ArgsFor
	resources  ResourceWriter
	logger     *logrus.Entry

	mu       sync.Mutex
	componentLocks map[string]*sync.Mutex // serializes actions per component chain
}

// New constructs a Scheduler.
func New(store Store, registry *Registry, argsFor ArgsFor, resources ResourceWriter, logger *logrus.Entry) *Scheduler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		store:          store,
		registry:       registry,
		argsFor:        argsFor,
		resources:      resources,
		logger:         logger.WithField("component", "scheduler"),
		componentLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Scheduler) lockFor(componentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.componentLocks[componentID]
	if !ok {
		l = &sync.Mutex{}
		s.componentLocks[componentID] = l
	}
	return l
}

// Claim attempts the Queued→Dispatched transition for action, granted
// only if every action it Requires has reached Success or Skipped, per
// spec.md §4.5's claim rule. Claim and Run take the same per-component
// lock, so two workers never run two actions of the same chain
// concurrently.
func (s *Scheduler) Claim(ctx context.Context, action *Action) (bool, error) {
	lock := s.lockFor(string(action.ComponentID))
	lock.Lock()
	defer lock.Unlock()

	for _, depID := range action.Requires {
		dep, err := s.store.Get(ctx, depID)
		if err != nil {
			return false, fmt.Errorf("load dependency %s: %w", depID, err)
		}
		if !dep.Status.satisfiesUpstream() {
			return false, nil
		}
	}

	if err := action.transitionTo(StatusDispatched, time.Now()); err != nil {
		return false, err
	}
	if err := s.store.Update(ctx, action); err != nil {
		return false, fmt.Errorf("persist claim: %w", err)
	}
	return true, nil
}

// Run executes action to completion: invokes its kind's handler with
// the component's current attributes, then reconciles success/failure
// per spec.md §4.5.
func (s *Scheduler) Run(ctx context.Context, action *Action) error {
	lock := s.lockFor(string(action.ComponentID))
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if err := action.transitionTo(StatusRunning, now); err != nil {
		return err
	}
	if err := s.store.Update(ctx, action); err != nil {
		return fmt.Errorf("persist running: %w", err)
	}

	args, err := s.argsFor(ctx, string(action.ComponentID))
	if err != nil {
		return s.fail(ctx, action, fmt.Sprintf("resolving component attributes: %v", err))
	}

	result, err := s.registry.Handle(ctx, action, args)
	if err != nil {
		return s.fail(ctx, action, err.Error())
	}

	if result.Value != nil && s.resources != nil {
		if err := s.resources.WriteResource(ctx, string(action.ComponentID), result.Value); err != nil {
			return s.fail(ctx, action, fmt.Sprintf("writing resource: %v", err))
		}
	}

	action.Result = result.Value
	if err := action.transitionTo(StatusSuccess, time.Now()); err != nil {
		return err
	}
	if err := s.store.Update(ctx, action); err != nil {
		return fmt.Errorf("persist success: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"action": action.ID, "kind": action.Kind, "component": action.ComponentID}).Info("action succeeded")
	return nil
}

// fail transitions action to Failed and records reason. Per spec.md
// §4.5, no automatic retry: the action surfaces for user remediation.
// Downstream actions observe this via Claim's upstream-terminal check
// rejecting a non-success dependency — the scheduler never
// auto-transitions them to Blocked as a side effect of this call; it is
// the caller's responsibility to mark the dependents Blocked via
// MarkBlocked once it decides to stop attempting them.
func (s *Scheduler) fail(ctx context.Context, action *Action, reason string) error {
	action.Error = reason
	if err := action.transitionTo(StatusFailed, time.Now()); err != nil {
		return err
	}
	if err := s.store.Update(ctx, action); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"action": action.ID, "kind": action.Kind, "component": action.ComponentID, "error": reason}).Warn("action failed")
	return nil
}

// MarkBlocked transitions action to Blocked because an upstream action
// it depended on failed, per spec.md §4.5: "downstream actions whose
// success depended on this one transition to Blocked."
func (s *Scheduler) MarkBlocked(ctx context.Context, action *Action) error {
	if err := action.transitionTo(StatusBlocked, time.Now()); err != nil {
		return err
	}
	return s.store.Update(ctx, action)
}

