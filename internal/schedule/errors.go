package schedule

import (
	"errors"
	"fmt"
)

// Event-level errors drop the whole sampling event.
var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrMissingReference   = errors.New("missing reference")
	ErrInvalidSampleCount = errors.New("invalid sample count")
)

// Slot-level errors only affect the records derived from one slot.
var (
	ErrInvalidNumericField  = errors.New("invalid numeric field")
	ErrUnresolvedConversion = errors.New("unresolved conversion")
)

// Issue is a recovered, non-fatal problem found while scheduling one event.
// Slot is 0 when the issue concerns an event-level field.
type Issue struct {
	Err       error
	Reference string
	Slot      int
	Field     string
	Detail    string
}

// Reason returns a short machine-friendly tag for skip logs and metrics.
func (i Issue) Reason() string { return Reason(i.Err) }

func (i Issue) String() string {
	if i.Slot > 0 {
		return fmt.Sprintf("%s: remision %s M%d %s: %s", i.Reason(), i.Reference, i.Slot, i.Field, i.Detail)
	}
	return fmt.Sprintf("%s: remision %s %s: %s", i.Reason(), i.Reference, i.Field, i.Detail)
}

// Reason maps an error from this package to its taxonomy tag.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDate):
		return "invalid_date"
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrInvalidSampleCount):
		return "invalid_sample_count"
	case errors.Is(err, ErrInvalidNumericField):
		return "invalid_numeric_field"
	case errors.Is(err, ErrUnresolvedConversion):
		return "unresolved_conversion"
	case err == nil:
		return ""
	default:
		return "error"
	}
}
