package bracket

import (
	"errors"
	"fmt"
)

// Error kinds shared by every engine component. Wrap them with the
// constructors below and test with errors.Is.
var (
	// Malformed input, rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// The operation would corrupt bracket invariants.
	ErrIntegrity = errors.New("bracket integrity violation")
	// A slot or resource is held by someone else. Retryable.
	ErrConflict = errors.New("conflict")
	// No legal slot exists within the window; needs manual intervention.
	ErrInfeasible = errors.New("scheduling infeasible")
	ErrNotFound   = errors.New("not found")

	ErrSlotTaken = fmt.Errorf("%w: slot taken", ErrConflict)
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Infeasiblef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInfeasible, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller may retry the same operation,
// typically after the rescheduler has freed the contested slot.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
