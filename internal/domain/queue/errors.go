package queue

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a record names a kind that was never
// registered.
var ErrUnknownKind = errors.New("unknown record kind")

// ValidationError marks a payload as malformed for its kind. It is terminal:
// the record is flagged and never retried.
type ValidationError struct {
	Kind   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Detail)
}
