package window

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound is returned when an organization has no window config.
	ErrConfigNotFound = errors.New("generation window config not found")
	// ErrNegativeMonths is returned when a caller asks to shrink the window.
	ErrNegativeMonths = errors.New("additional months must not be negative")
	// ErrInvalidConfig is returned when a config fails validation.
	ErrInvalidConfig = errors.New("invalid generation window config")
)

// InvariantError reports a state that should be impossible, such as an
// insert that returned no row. It signals a bug, not a transient storage
// failure: callers should alert rather than retry.
type InvariantError struct {
	Operation      string
	OrganizationID string
	Msg            string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated for organization %s: %s", e.Operation, e.OrganizationID, e.Msg)
}

// IsInvariantViolation reports whether err is, or wraps, an InvariantError.
func IsInvariantViolation(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
