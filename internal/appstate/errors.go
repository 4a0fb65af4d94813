package appstate

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by intents that need the store before hydration
// has handed it over.
var ErrNotReady = errors.New("store not hydrated yet")

// ValidationError rejects an intent before any I/O happens. Surfaced at
// the composer, never logged as a failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
