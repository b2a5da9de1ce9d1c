package models

import "fmt"

// TransitionResult is the outcome of a guarded state transition
type TransitionResult int

const (
	// TransitionApplied means the state changed
	TransitionApplied TransitionResult = iota
	// TransitionNoop means the target state was already reached
	TransitionNoop
)

func (r TransitionResult) String() string {
	if r == TransitionNoop {
		return "noop"
	}
	return "applied"
}

// PurchaseState is the lifecycle state of a purchase
type PurchaseState string

const (
	PurchaseUnpaid PurchaseState = "unpaid"
	PurchasePaid   PurchaseState = "paid"
	PurchaseVoided PurchaseState = "voided"
)

// IsTerminal reports whether no further transition is allowed
func (s PurchaseState) IsTerminal() bool {
	return s == PurchasePaid || s == PurchaseVoided
}

// Transition validates moving a purchase from s to target.
// Unpaid moves once to paid or voided; reaching the current terminal state
// again is a no-op; anything else out of a terminal state is rejected.
func (s PurchaseState) Transition(target PurchaseState) (TransitionResult, error) {
	if !target.IsTerminal() {
		return TransitionNoop, fmt.Errorf("invalid purchase transition %s -> %s", s, target)
	}
	switch s {
	case PurchaseUnpaid:
		return TransitionApplied, nil
	case target:
		return TransitionNoop, nil
	default:
		return TransitionNoop, &AlreadyTerminalError{Kind: "purchase", State: string(s)}
	}
}

// SessionStatus is the state of an external payment session
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// IsTerminal reports whether the session reached a final state
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionExpired
}

// Transition validates moving a session from s to target. Terminal states are
// final: an event for an already terminal session yields AlreadyTerminalError.
func (s SessionStatus) Transition(target SessionStatus) (TransitionResult, error) {
	if !target.IsTerminal() {
		return TransitionNoop, fmt.Errorf("invalid session transition %s -> %s", s, target)
	}
	if s == SessionOpen {
		return TransitionApplied, nil
	}
	return TransitionNoop, &AlreadyTerminalError{Kind: "external_payment", State: string(s)}
}
