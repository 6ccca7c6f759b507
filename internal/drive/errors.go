package drive

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a referenced id is absent from the local
// index. Wrap it with context; match it with errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError is a user-correctable input problem. It is never
// retried and never reaches the transport.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConflictError reports a refused non-empty directory delete, carrying
// the child counts so the caller can explain the refusal.
type ConflictError struct {
	ChildDirs  int64
	ChildFiles int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("directory is not empty: files=%d, subdirectories=%d", e.ChildFiles, e.ChildDirs)
}
