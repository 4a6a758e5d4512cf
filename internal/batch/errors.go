package batch

import (
	"errors"
	"fmt"
)

// ErrMalformedBatch is matched by every validation failure.
var ErrMalformedBatch = errors.New("malformed batch")

// MalformedError points at the offending record. Row is 1-based; zero means
// the failure is not tied to a single record.
type MalformedError struct {
	Row    int
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("malformed batch: row %d: %s: %s", e.Row, e.Field, e.Reason)
	case e.Row > 0:
		return fmt.Sprintf("malformed batch: row %d: %s", e.Row, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("malformed batch: %s: %s", e.Field, e.Reason)
	}
	return "malformed batch: " + e.Reason
}

// Unwrap lets errors.Is match ErrMalformedBatch.
func (e *MalformedError) Unwrap() error { return ErrMalformedBatch }

func malformed(row int, field, format string, args ...any) error {
	return &MalformedError{Row: row, Field: field, Reason: fmt.Sprintf(format, args...)}
}
