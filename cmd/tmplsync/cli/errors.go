package cli

import (
	"os"

	"github.com/charmbracelet/huh"
)

// SilentError signals that a command already printed its own error output
// and main should only set the exit code.
type SilentError struct {
	err error
}

func NewSilentError(err error) *SilentError {
	return &SilentError{err: err}
}

func (e *SilentError) Error() string {
	return e.err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.err
}

// NewAccessibleForm builds a huh form that honors the ACCESSIBLE
// environment variable, falling back to plain text prompts for screen
// readers.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(os.Getenv("ACCESSIBLE") != "")
}
