// ABOUTME: Per-owner conversation state tracking for the intake flow
// ABOUTME: Maps user identity to the current stage and in-progress record

package intake

import "sync"

// Stage is a position in the intake flow. The zero value means no
// active flow (idle).
type Stage int

const (
	// StageSelecting: navigating the catalog, no record yet.
	StageSelecting Stage = iota + 1
	// StageAwaitingTarget: record exists, waiting for the link/handle
	// or the free-form content.
	StageAwaitingTarget
	// StageReview: record fully described, waiting for confirmation.
	StageReview
	// StageEditingTarget: re-entering the target from review.
	StageEditingTarget
	// StageAwaitingPaymentMethod: waiting for a method button press.
	StageAwaitingPaymentMethod
	// StageAwaitingReceipt: waiting for payment proof.
	StageAwaitingReceipt
)

// State is an owner's current position in the flow and the record it
// concerns, if one exists yet.
type State struct {
	Stage    Stage
	RecordID string
}

// Tracker owns the process-local mapping from owner identity to
// conversation state. It is written only by the intake state machine;
// absence of a state means "no active flow".
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]State)}
}

// Set overwrites the owner's state.
func (t *Tracker) Set(ownerID string, stage Stage, recordID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[ownerID] = State{Stage: stage, RecordID: recordID}
}

// Get returns the owner's state. The second return is false when the
// owner has no active flow.
func (t *Tracker) Get(ownerID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[ownerID]
	return st, ok
}

// Clear removes the owner's state, ending the active flow.
func (t *Tracker) Clear(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, ownerID)
}
