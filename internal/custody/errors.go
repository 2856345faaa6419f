// Package custody holds the error taxonomy shared by the evidence, bundle,
// attachment, and artifact packages.
//
// Validation and precondition failures are raised synchronously with enough
// detail for a UI message. Chain integrity failures are never modeled as
// errors: verification returns them as data for audit tooling.
package custody

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced evidence object, bundle, parent,
// or artifact does not exist or is outside the caller's tenant scope.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when the caller supplies invalid input.
// Handlers should convert this to HTTP 400 rather than 500.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// ErrUnsealed is returned when an attach target has not been sealed yet.
// Sealing is the chain-of-custody boundary: only sealed content may ground a
// derived artifact.
type ErrUnsealed struct {
	Kind string // "evidence object" or "bundle"
	ID   uuid.UUID
}

func (e *ErrUnsealed) Error() string {
	return fmt.Sprintf("%s %s must be sealed before it can be attached", e.Kind, e.ID)
}

// ErrAlreadyAttached is returned when the same evidence object or bundle is
// attached to the same parent a second time.
type ErrAlreadyAttached struct {
	ParentID uuid.UUID
	TargetID uuid.UUID
}

func (e *ErrAlreadyAttached) Error() string {
	return fmt.Sprintf("target %s is already attached to parent %s", e.TargetID, e.ParentID)
}

// ErrImmutable is returned on an attempted mutation of persisted immutable
// content (a derived artifact body, a sealed manifest). This indicates a
// programming or integrity error, not a recoverable condition.
type ErrImmutable struct{ Msg string }

func (e *ErrImmutable) Error() string { return "immutability violation: " + e.Msg }
