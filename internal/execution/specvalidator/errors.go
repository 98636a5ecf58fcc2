package specvalidator

import (
	"errors"
	"fmt"
)

// ValidationError is the first definition problem found. Validation stops at
// the first violation, so there is exactly one message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil || e.Message == "" {
		return "pipeline validation failed"
	}
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Invalid builds a ValidationError for callers outside the package, such as
// definition loaders that fail to parse a file.
func Invalid(format string, args ...any) error {
	return invalid(format, args...)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
