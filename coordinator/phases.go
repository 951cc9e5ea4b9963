package coordinator

import (
	"fmt"
	"sync"
	"time"
)

// Phase is a change set's apply-lifecycle phase, a finer-grained view than
// changeset.Status: it tracks where an in-flight apply sits, including the
// DVU settling step the bare Open/Applied/Abandoned state machine of
// spec.md §4.3 doesn't surface on its own.
//
// Adapted from the teacher's workflow-execution Phase/PhaseManager
// (registration, transition validation, active/terminal classification),
// retargeted from workflow phases to change-set apply phases.
type Phase string

const (
	PhaseOpen          Phase = "open"
	PhaseDetectChanges Phase = "detect-changes"
	PhaseAwaitApproval Phase = "await-approval"
	PhaseSettlingDVU   Phase = "settling-dvu"
	PhaseApplying      Phase = "applying"
	PhaseApplied       Phase = "applied"
	PhaseAbandoning    Phase = "abandoning"
	PhaseAbandoned     Phase = "abandoned"
	PhaseFailed        Phase = "failed"
)

// ValidTransitions defines which phase transitions are allowed.
var ValidTransitions = map[Phase][]Phase{
	PhaseOpen:          {PhaseDetectChanges, PhaseAbandoning, PhaseFailed},
	PhaseDetectChanges: {PhaseAwaitApproval, PhaseSettlingDVU, PhaseFailed},
	PhaseAwaitApproval: {PhaseSettlingDVU, PhaseAbandoning, PhaseFailed},
	PhaseSettlingDVU:   {PhaseApplying, PhaseFailed},
	PhaseApplying:      {PhaseApplied, PhaseFailed},
	PhaseAbandoning:    {PhaseAbandoned, PhaseFailed},
	// Terminal states: applied, abandoned, failed (no transitions out)
}

// IsTerminal returns true if the phase is a terminal state.
func (p Phase) IsTerminal() bool {
	return p == PhaseApplied || p == PhaseAbandoned || p == PhaseFailed
}

// IsActive returns true if the phase indicates active processing.
func (p Phase) IsActive() bool {
	return p == PhaseDetectChanges || p == PhaseAwaitApproval || p == PhaseSettlingDVU ||
		p == PhaseApplying || p == PhaseAbandoning
}

// CanTransitionTo checks if a transition to the target phase is valid.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, valid := range ValidTransitions[p] {
		if valid == target {
			return true
		}
	}
	return false
}

// PhaseState is the current phase of a single change set's apply attempt.
type PhaseState struct {
	ChangeSetID   string
	Phase         Phase
	PreviousPhase Phase
	ChangedAt     time.Time
	Reason        string
	Progress      float64
}

// PhaseManager tracks the apply-lifecycle phase of every change set
// currently mid-apply; change sets not present here are assumed Open with
// no apply in progress.
type PhaseManager struct {
	mu             sync.RWMutex
	changeSets     map[string]*PhaseState
	onPhaseChanged []func(state *PhaseState)
}

// NewPhaseManager creates a new PhaseManager.
func NewPhaseManager() *PhaseManager {
	return &PhaseManager{changeSets: make(map[string]*PhaseState)}
}

// OnPhaseChanged registers a callback invoked (in its own goroutine, with
// its own copy of the state) on every phase transition. Multiple callbacks
// may be registered; each is notified independently.
func (pm *PhaseManager) OnPhaseChanged(fn func(state *PhaseState)) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.onPhaseChanged = append(pm.onPhaseChanged, fn)
}

// Register starts tracking a change set's apply attempt at PhaseOpen.
func (pm *PhaseManager) Register(changeSetID string) *PhaseState {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	state := &PhaseState{ChangeSetID: changeSetID, Phase: PhaseOpen, ChangedAt: time.Now()}
	pm.changeSets[changeSetID] = state
	return state
}

// GetState returns a copy of the current phase state for changeSetID.
func (pm *PhaseManager) GetState(changeSetID string) (*PhaseState, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	state, ok := pm.changeSets[changeSetID]
	if !ok {
		return nil, false
	}
	copied := *state
	return &copied, true
}

// TransitionTo attempts to move changeSetID to newPhase.
func (pm *PhaseManager) TransitionTo(changeSetID string, newPhase Phase, reason string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	state, ok := pm.changeSets[changeSetID]
	if !ok {
		return fmt.Errorf("change set not tracked: %s", changeSetID)
	}
	if !state.Phase.CanTransitionTo(newPhase) {
		return fmt.Errorf("invalid transition from %s to %s for change set %s", state.Phase, newPhase, changeSetID)
	}

	state.PreviousPhase = state.Phase
	state.Phase = newPhase
	state.ChangedAt = time.Now()
	state.Reason = reason

	if len(pm.onPhaseChanged) > 0 {
		copied := *state
		for _, fn := range pm.onPhaseChanged {
			go fn(&copied)
		}
	}
	return nil
}

// SetProgress updates the apply progress fraction for changeSetID (used
// during PhaseSettlingDVU while attribute values are still recomputing).
func (pm *PhaseManager) SetProgress(changeSetID string, progress float64) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	state, ok := pm.changeSets[changeSetID]
	if !ok {
		return fmt.Errorf("change set not tracked: %s", changeSetID)
	}
	state.Progress = progress
	return nil
}

// Remove stops tracking a change set's apply attempt, once it has reached
// a terminal phase and been reported.
func (pm *PhaseManager) Remove(changeSetID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.changeSets, changeSetID)
}

// GetActive returns every change set whose apply attempt is not yet
// terminal.
func (pm *PhaseManager) GetActive() []*PhaseState {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	var active []*PhaseState
	for _, state := range pm.changeSets {
		if !state.Phase.IsTerminal() {
			copied := *state
			active = append(active, &copied)
		}
	}
	return active
}
