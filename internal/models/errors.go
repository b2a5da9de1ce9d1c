package models

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyTerminal is returned when transitioning a paid/voided purchase
	// or a completed/expired payment session.
	ErrAlreadyTerminal = errors.New("already in terminal state")

	// ErrSingleUseViolation is returned when a bowler purchases a single-use item twice.
	ErrSingleUseViolation = errors.New("single-use item already purchased")

	// ErrDataIntegrity is returned when persisted state contradicts a provider event.
	// It is never corrected automatically.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrProviderCommunication is returned when a payment provider call fails.
	ErrProviderCommunication = errors.New("payment provider communication failed")

	// ErrInvalidAmount is returned for negative or mixed debit/credit amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrCatalogConflict is returned when a catalog change would enable a second
	// ledger item of the same determination.
	ErrCatalogConflict = errors.New("catalog conflict")
)

// AlreadyTerminalError carries the record that refused the transition.
type AlreadyTerminalError struct {
	Kind  string
	ID    int64
	State string
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("%s %d is already %s", e.Kind, e.ID, e.State)
}

func (e *AlreadyTerminalError) Unwrap() error {
	return ErrAlreadyTerminal
}

// SingleUseViolationError identifies the duplicated purchase.
type SingleUseViolationError struct {
	BowlerID int64
	ItemID   int64
}

func (e *SingleUseViolationError) Error() string {
	return fmt.Sprintf("bowler %d already purchased single-use item %d", e.BowlerID, e.ItemID)
}

func (e *SingleUseViolationError) Unwrap() error {
	return ErrSingleUseViolation
}

// DataIntegrityError describes a reconciliation mismatch requiring manual review.
type DataIntegrityError struct {
	SessionID string
	ItemID    int64
	Expected  int64
	Found     int
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("session %s: item %d has %d unpaid purchases, line item quantity is %d",
		e.SessionID, e.ItemID, e.Found, e.Expected)
}

func (e *DataIntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ProviderCommunicationError wraps the failed provider operation.
type ProviderCommunicationError struct {
	Op  string
	Err error
}

func (e *ProviderCommunicationError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderCommunicationError) Unwrap() []error {
	return []error{ErrProviderCommunication, e.Err}
}

// NotFound builds a NotFoundError for an integer key.
func NotFound(kind string, id int64) error {
	return &NotFoundError{Kind: kind, Key: fmt.Sprintf("%d", id)}
}

// IsNoop reports whether err only signals that the target state was already reached.
func IsNoop(err error) bool {
	return errors.Is(err, ErrAlreadyTerminal)
}
