package recur

import "errors"

// ErrInvalidRecurrenceState is returned when an occurrence is requested for
// a task that cannot recur. Callers are expected to check IsDue first.
var ErrInvalidRecurrenceState = errors.New("invalid recurrence state")
