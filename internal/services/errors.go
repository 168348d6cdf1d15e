package services

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when a caller is authenticated but not
// entitled to the requested operation.
var ErrForbidden = errors.New("forbidden")

// ErrStorageUnavailable is returned by image operations when no object
// storage backend is configured.
var ErrStorageUnavailable = errors.New("image storage is not configured")

// ValidationError reports malformed or out-of-enum input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
