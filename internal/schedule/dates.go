package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"labmigrate/internal/domain"
)

// DateMode selects how a source encodes its sampling date. The mode is chosen
// per source; values are never sniffed.
type DateMode int

const (
	// DateTextual is dd/mm/yyyy.
	DateTextual DateMode = iota + 1
	// DateSerial is a spreadsheet serial day number.
	DateSerial
)

func (m DateMode) String() string {
	switch m {
	case DateTextual:
		return "textual"
	case DateSerial:
		return "serial"
	default:
		return fmt.Sprintf("DateMode(%d)", int(m))
	}
}

// TimeMode selects how a source encodes the sampling time of day.
type TimeMode int

const (
	// TimeNone means the source has no time column.
	TimeNone TimeMode = iota
	// TimeDecimal is a fraction of a 24h day in [0,1).
	TimeDecimal
	// TimeClock is HH:MM text, falling back to TimeDecimal without a colon.
	TimeClock
)

func (m TimeMode) String() string {
	switch m {
	case TimeNone:
		return "none"
	case TimeDecimal:
		return "decimal"
	case TimeClock:
		return "clock"
	default:
		return fmt.Sprintf("TimeMode(%d)", int(m))
	}
}

// serialEpoch reproduces the spreadsheet 1900 leap-year bug: day numbers are
// counted from two days before the nominal 1900-01-01.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const secondsPerDay = 24 * 60 * 60

// maxSerial is 9999-12-31, the last day a spreadsheet serial can name.
const maxSerial = 2958465

// DateDecoder decodes the primary date of a sampling event.
type DateDecoder struct {
	Mode DateMode

	// TwoDigitYearBase enables dd/mm/yy in textual mode: yy becomes
	// TwoDigitYearBase+yy. Zero rejects two-digit years. This is a per-batch
	// policy supplied by the caller.
	TwoDigitYearBase int
}

// Decode returns the decoded date. Serial values with a day fraction keep the
// time of day; textual dates are at midnight.
func (d DateDecoder) Decode(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	switch d.Mode {
	case DateTextual:
		return d.decodeTextual(s)
	case DateSerial:
		return decodeSerial(s)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported mode %s", ErrInvalidDate, d.Mode)
	}
}

func (d DateDecoder) decodeTextual(s string) (time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q is not dd/mm/yyyy", ErrInvalidDate, s)
	}
	day, err1 := atoiDigits(parts[0], 1, 2)
	month, err2 := atoiDigits(parts[1], 1, 2)
	if err1 != nil || err2 != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not dd/mm/yyyy", ErrInvalidDate, s)
	}

	var year int
	switch len(parts[2]) {
	case 4:
		y, err := atoiDigits(parts[2], 4, 4)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q has a bad year", ErrInvalidDate, s)
		}
		year = y
	case 2:
		if d.TwoDigitYearBase == 0 {
			return time.Time{}, fmt.Errorf("%w: %q has a two-digit year and no century rule", ErrInvalidDate, s)
		}
		y, err := atoiDigits(parts[2], 2, 2)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q has a bad year", ErrInvalidDate, s)
		}
		year = d.TwoDigitYearBase + y
	default:
		return time.Time{}, fmt.Errorf("%w: %q has a bad year", ErrInvalidDate, s)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject instead.
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, s)
	}
	return t, nil
}

func decodeSerial(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("%w: %q is not a serial day number", ErrInvalidDate, s)
	}
	if f >= maxSerial+1 {
		return time.Time{}, fmt.Errorf("%w: serial %q is past 9999-12-31", ErrInvalidDate, s)
	}
	days := math.Floor(f)
	secs := int((f - days) * secondsPerDay)
	return serialEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), nil
}

// DecodeTime decodes an optional time of day. Empty input and TimeNone yield
// (nil, nil).
func DecodeTime(mode TimeMode, raw string) (*domain.TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	if s == "" || mode == TimeNone {
		return nil, nil
	}
	switch mode {
	case TimeDecimal:
		return decodeDecimalTime(s)
	case TimeClock:
		if strings.Contains(s, ":") {
			return decodeClock(s)
		}
		return decodeDecimalTime(s)
	default:
		return nil, fmt.Errorf("%w: unsupported time mode %s", ErrInvalidDate, mode)
	}
}

// decodeDecimalTime truncates the day fraction to whole seconds, then splits
// them into hours, minutes and seconds.
func decodeDecimalTime(s string) (*domain.TimeOfDay, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= 1 {
		return nil, fmt.Errorf("%w: %q is not a day fraction", ErrInvalidDate, s)
	}
	secs := int(math.Floor(f * secondsPerDay))
	if secs >= secondsPerDay {
		secs = secondsPerDay - 1
	}
	return &domain.TimeOfDay{
		Hour:   secs / 3600,
		Minute: secs % 3600 / 60,
		Second: secs % 60,
	}, nil
}

func decodeClock(s string) (*domain.TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidDate, s)
	}
	h, err := atoiDigits(parts[0], 1, 2)
	if err != nil || h > 23 {
		return nil, fmt.Errorf("%w: %q has a bad hour", ErrInvalidDate, s)
	}
	m, err := atoiDigits(parts[1], 1, 2)
	if err != nil || m > 59 {
		return nil, fmt.Errorf("%w: %q has a bad minute", ErrInvalidDate, s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = atoiDigits(parts[2], 1, 2)
		if err != nil || sec > 59 {
			return nil, fmt.Errorf("%w: %q has a bad second", ErrInvalidDate, s)
		}
	}
	return &domain.TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

// atoiDigits parses an unsigned decimal with between lo and hi digits.
func atoiDigits(s string, lo, hi int) (int, error) {
	if len(s) < lo || len(s) > hi {
		return 0, fmt.Errorf("want %d-%d digits, got %q", lo, hi, s)
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a digit in %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
