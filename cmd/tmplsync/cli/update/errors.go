package update

import (
	"errors"
	"fmt"
)

// Terminal precondition conditions, detected before any mutation. The
// messages are user-facing and stable.
//
//nolint:staticcheck // these error strings are literal user messages
var (
	// ErrNotARepository is returned when the working root has no git metadata.
	ErrNotARepository = errors.New("Not a git repository")

	// ErrDirtyWorkingTree is returned when tracked files have modifications.
	ErrDirtyWorkingTree = errors.New("You must start with a clean working directory")
)

// NothingToApplyMessage is the informational message for the tags-equal
// short circuit. Not an error.
const NothingToApplyMessage = "Tags match, nothing to apply"

// BranchError wraps a failed branch-level git operation. Always a
// mutating-phase failure; the session rolls back before re-surfacing it.
type BranchError struct {
	Op  string
	Err error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("branch operation %q failed: %v", e.Op, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// ApplyError wraps a patch application failure that is not an ordinary
// merge conflict (malformed patch, filesystem error). Triggers rollback.
type ApplyError struct {
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to apply patch: %v", e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
