package ledger

import (
	"fmt"

	"github.com/pkg/errors"
)

// Ledger error taxonomy. Anything not matching one of these is a store error.
var (
	ErrValidation           = errors.New("invalid order")
	ErrUnknownInstrument    = errors.New("cryptocurrency not found")
	ErrInsufficientHoldings = errors.New("not enough holdings")
)

// ValidationError describes a rejected order field.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
