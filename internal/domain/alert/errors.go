package alert

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("alert not found")
	ErrConflict          = errors.New("alert changed concurrently")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("not authorized")
	// ErrSchedulerUnavailable is logged when a deadline cannot be registered.
	// The alert is still persisted and the next resync picks the deadline up.
	ErrSchedulerUnavailable = errors.New("escalation scheduler unavailable")
)

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// errNoFurtherTier is the conflict returned when the alert already sits at
// the last tier of its policy.
var errNoFurtherTier = fmt.Errorf("%w: no further escalation", ErrConflict)

// conflict wraps ErrConflict with a reason.
func conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// isDomainError reports whether err is a business outcome rather than an
// infrastructure failure. Domain errors are never retried.
func isDomainError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.As(err, &ve)
}
