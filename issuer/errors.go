package issuer

import (
	"errors"
	"fmt"
)

var (
	ErrCardNotFound    = errors.New("card not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrUserNotFound    = errors.New("user not found")

	// ErrConflict is returned by stores on a duplicate card number.
	ErrConflict = errors.New("conflict")

	ErrValidation = errors.New("validation failed")

	// ErrAmbiguousHolder means a full name matched more than one user.
	ErrAmbiguousHolder = errors.New("ambiguous card holder")
)

// notFound wraps kind with the entity and the key that failed to resolve.
func notFound(kind error, entity, key string, value any) error {
	return fmt.Errorf("%s with %s %v was not found: %w", entity, key, value, kind)
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

// IsNotFound reports whether err is any of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCardNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
