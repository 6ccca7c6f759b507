package drive

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// validateEntryName checks a directory or file name coming from the
// user. Violations surface as ValidationError, never as store or
// transport failures.
func validateEntryName(name string) error {
	err := validation.Validate(strings.TrimSpace(name),
		validation.Required.Error("name must not be empty"),
		validation.Length(1, 255).Error("name is too long"),
	)
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}
