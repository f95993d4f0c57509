package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that the referenced budget does not exist.
	ErrNotFound = errors.New("budget not found")
	// ErrForbidden reports that the budget exists but belongs to another owner.
	ErrForbidden = errors.New("budget owned by another user")
)

// ValidationError reports malformed input. It is produced before any store
// access, so the store is guaranteed untouched when one surfaces.
type ValidationError struct {
	Field  string
	Index  int // item position when Field is "items", otherwise ignored
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "items" {
		return fmt.Sprintf("invalid items[%d]: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateTitleError signals that the owner already has a budget with the
// requested title and the caller has not confirmed the overwrite. It is an
// expected policy outcome, not a failure: the caller retries with explicit
// confirmation to replace the existing budget.
type DuplicateTitleError struct {
	Existing *Budget
}

func (e *DuplicateTitleError) Error() string {
	return fmt.Sprintf("budget %q already exists (id %d)", e.Existing.Title, e.Existing.ID)
}

// IsDuplicateTitle reports whether err carries a duplicate-title signal and
// returns the conflicting budget when it does.
func IsDuplicateTitle(err error) (*Budget, bool) {
	var dup *DuplicateTitleError
	if errors.As(err, &dup) {
		return dup.Existing, true
	}
	return nil, false
}
