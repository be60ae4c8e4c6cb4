package enviz

import "sort"

// SelectionPhase is the observable phase of the selection state machine.
type SelectionPhase int

const (
	// PhaseIdle means no hover and no pending proposal.
	PhaseIdle SelectionPhase = iota
	// PhaseHovering means a realization or timestep is highlighted but not
	// committed.
	PhaseHovering
	// PhasePendingConfirm means a locked selection exists and a differing
	// proposal awaits Confirm or Discard.
	PhasePendingConfirm
)

// NoStep is the HoveredStep value meaning no timestep is hovered.
const NoStep = -1

// SelectionState is the single shared selection/highlight state that all
// linked views render from. It is owned by the SelectionCoordinator; views
// only ever read it.
type SelectionState struct {
	// Selected holds the selected realization ids, sorted.
	Selected []string `json:"selected"`
	// Hovered is the hovered realization id, empty for none.
	Hovered string `json:"hovered,omitempty"`
	// HoveredStep is the hovered timestep, NoStep for none.
	HoveredStep int `json:"hovered_step"`
	// Locked marks the selection as confirmed rather than provisional.
	Locked bool `json:"locked"`
}

// clone returns a deep copy so observers never share slices with the
// coordinator.
func (s SelectionState) clone() SelectionState {
	out := s
	out.Selected = make([]string, len(s.Selected))
	copy(out.Selected, s.Selected)
	return out
}

// SelectionObserver is a view registered for brushing-and-linking updates.
// The callback receives the final, already-applied state; it must not call
// back into the coordinator synchronously.
type SelectionObserver interface {
	OnSelectionChanged(SelectionState)
}

// ObserverFunc adapts a function to the SelectionObserver interface.
type ObserverFunc func(SelectionState)

// OnSelectionChanged implements SelectionObserver.
func (f ObserverFunc) OnSelectionChanged(s SelectionState) {
	f(s)
}

// SelectionCoordinator is the brushing-and-linking hub. Views propose
// changes; the coordinator applies the conflict rules and broadcasts each
// committed state exactly once to all observers, in registration order.
//
// The coordinator follows the package's cooperative single-threaded model:
// all calls must come from the interaction goroutine. A reentrant call
// during a broadcast panics in debug mode and is otherwise queued, to be
// drained at the next external call.
type SelectionCoordinator struct {
	debug bool

	phase   SelectionPhase
	state   SelectionState
	pending []string

	observers []observerReg
	nextObs   int
	notifying bool
	queued    []func()
}

type observerReg struct {
	id int
	o  SelectionObserver
}

// NewSelectionCoordinator creates a coordinator starting Idle with an
// empty selection. debug makes reentrant observer calls fatal instead of
// queued.
func NewSelectionCoordinator(debug bool) *SelectionCoordinator {
	return &SelectionCoordinator{
		debug: debug,
		state: SelectionState{HoveredStep: NoStep},
	}
}

// Register adds an observer and returns a handle for Unregister.
// Broadcast order is registration order.
func (sc *SelectionCoordinator) Register(o SelectionObserver) int {
	sc.nextObs++
	sc.observers = append(sc.observers, observerReg{id: sc.nextObs, o: o})
	return sc.nextObs
}

// Unregister removes the observer registered under handle.
func (sc *SelectionCoordinator) Unregister(handle int) {
	for i, reg := range sc.observers {
		if reg.id == handle {
			sc.observers = append(sc.observers[:i], sc.observers[i+1:]...)
			return
		}
	}
}

// State returns a copy of the current state.
func (sc *SelectionCoordinator) State() SelectionState {
	return sc.state.clone()
}

// Phase returns the current state-machine phase.
func (sc *SelectionCoordinator) Phase() SelectionPhase {
	return sc.phase
}

// Pending returns the proposal awaiting confirmation, nil outside
// PhasePendingConfirm.
func (sc *SelectionCoordinator) Pending() []string {
	if sc.phase != PhasePendingConfirm {
		return nil
	}
	out := make([]string, len(sc.pending))
	copy(out, sc.pending)
	return out
}

// ProposeHover highlights a realization and/or timestep. Hover proposals
// always apply immediately and are broadcast synchronously; debouncing is
// the caller's concern. An empty id with NoStep clears the hover.
func (sc *SelectionCoordinator) ProposeHover(realization string, step int) {
	sc.enter(func() {
		sc.state.Hovered = realization
		sc.state.HoveredStep = step
		if sc.phase != PhasePendingConfirm {
			if realization == "" && step == NoStep {
				sc.phase = PhaseIdle
			} else {
				sc.phase = PhaseHovering
			}
		}
		sc.broadcast()
	})
}

// ProposeSelection proposes a new selected set. Without a locked selection
// it applies immediately and locks. Against an existing, differing locked
// selection it transitions to PhasePendingConfirm without mutating state
// until Confirm or Discard. bypass forces immediate application over a
// lock, leaving the selection provisional; interactive dragging uses this.
func (sc *SelectionCoordinator) ProposeSelection(targets []string, bypass bool) {
	proposal := make([]string, len(targets))
	copy(proposal, targets)
	sort.Strings(proposal)

	sc.enter(func() {
		switch {
		case bypass:
			sc.state.Selected = proposal
			sc.state.Locked = false
			sc.pending = nil
			if sc.phase == PhasePendingConfirm {
				sc.phase = PhaseIdle
				sc.state.Hovered = ""
				sc.state.HoveredStep = NoStep
			}
		case sc.state.Locked && !equalStrings(sc.state.Selected, proposal):
			// A newer proposal replaces any pending one; state stays as the
			// locked selection until the caller decides.
			sc.pending = proposal
			sc.phase = PhasePendingConfirm
			return // no state change, no broadcast
		default:
			sc.state.Selected = proposal
			sc.state.Locked = true
			// Re-proposing the locked set during PendingConfirm confirms it
			// implicitly; the superseded pending proposal is dropped.
			sc.pending = nil
			if sc.phase == PhasePendingConfirm {
				sc.phase = PhaseIdle
				sc.state.Hovered = ""
				sc.state.HoveredStep = NoStep
			}
		}
		sc.broadcast()
	})
}

// Confirm applies the pending proposal, locks it and returns to Idle. It is
// a no-op outside PhasePendingConfirm.
func (sc *SelectionCoordinator) Confirm() {
	sc.enter(func() {
		if sc.phase != PhasePendingConfirm {
			return
		}
		sc.state.Selected = sc.pending
		sc.state.Locked = true
		sc.pending = nil
		sc.phase = PhaseIdle
		sc.state.Hovered = ""
		sc.state.HoveredStep = NoStep
		sc.broadcast()
	})
}

// Discard drops the pending proposal, reverting to the prior locked
// selection, and returns to Idle. It is a no-op outside
// PhasePendingConfirm.
func (sc *SelectionCoordinator) Discard() {
	sc.enter(func() {
		if sc.phase != PhasePendingConfirm {
			return
		}
		sc.pending = nil
		sc.phase = PhaseIdle
		sc.state.Hovered = ""
		sc.state.HoveredStep = NoStep
		sc.broadcast()
	})
}

// Clear empties the selection from any state, without confirmation.
func (sc *SelectionCoordinator) Clear() {
	sc.enter(func() {
		sc.state = SelectionState{HoveredStep: NoStep}
		sc.pending = nil
		sc.phase = PhaseIdle
		sc.broadcast()
	})
}

// enter guards every external entry point: reentrant calls made while a
// broadcast is in flight are queued (or fatal in debug), and queued calls
// from earlier broadcasts run before the new operation.
func (sc *SelectionCoordinator) enter(op func()) {
	if sc.notifying {
		if sc.debug {
			panic(ErrReentrantCall)
		}
		sc.queued = append(sc.queued, op)
		return
	}
	for len(sc.queued) > 0 {
		q := sc.queued[0]
		sc.queued = sc.queued[1:]
		q()
	}
	op()
}

// broadcast publishes the applied state to all observers exactly once, in
// registration order. Observers see only final states, never intermediate
// ones; the publish step runs strictly after the mutation.
func (sc *SelectionCoordinator) broadcast() {
	snapshot := sc.state.clone()
	sc.notifying = true
	for _, reg := range sc.observers {
		reg.o.OnSelectionChanged(snapshot)
	}
	sc.notifying = false
}
