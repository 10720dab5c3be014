package chat

import "fmt"

// ValidationError reports a broken structural invariant. It indicates a programming error in
// the caller rather than a runtime condition to recover from.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}
