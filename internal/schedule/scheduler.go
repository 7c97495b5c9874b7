// Package schedule turns one raw sampling row into a sampling event, its
// specimens and their test results: dates are decoded, the age unit is
// resolved per event, each slot is scheduled and strength readings are
// converted into loads.
//
// The package is pure. It does no I/O, keeps no state between calls and
// never aborts a batch: slot problems come back as Issues, event problems as
// errors the caller logs before moving on to the next row.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"labmigrate/internal/domain"
)

// SlotCount is the number of fixed specimen slots per sampling row.
const SlotCount = 4

// MaxAge bounds a slot age in either unit. Larger values are data errors.
const MaxAge = 3650

// ErrUnknownSite is returned by New when the site code is not in the lookup
// table.
var ErrUnknownSite = errors.New("unknown site")

// ReadingKind says what the per-slot reading column holds.
type ReadingKind int

const (
	// ReadingStrength is kg/cm2 and goes through StrengthToLoad.
	ReadingStrength ReadingKind = iota
	// ReadingLoad is already kg.
	ReadingLoad
)

// SiteDirectory resolves a logical site code to the plant identifier used by
// the target schema.
type SiteDirectory interface {
	PlantID(code string) (string, bool)
}

// SlotInput is the raw text of one EDAD/TIPO/RESISTENCIA-or-CARGA triple.
type SlotInput struct {
	Age     string
	Shape   string
	Reading string
}

// EventInput is one source row, already mapped from its column layout.
type EventInput struct {
	Reference      string
	Date           string
	Time           string
	Slump          string
	UnitMass       string
	AmbientTemp    string
	ConcreteTemp   string
	Classification string
	SampleCount    string
	Slots          [SlotCount]SlotInput
}

// Options configures a Scheduler for one source batch.
type Options struct {
	SiteCode string
	Timezone string

	Date     DateDecoder
	TimeMode TimeMode
	Reading  ReadingKind

	// DefaultSamplingTime is used when the row has no usable time.
	DefaultSamplingTime domain.TimeOfDay
	// LabTestTime is the time of day of specimens scheduled in days.
	LabTestTime domain.TimeOfDay
	// DefaultShapeText replaces a blank shape column.
	DefaultShapeText string
	// DefaultDimensions, when set, supplies the size of specimens whose
	// shape text names none.
	DefaultDimensions func(domain.Shape) domain.Dimensions
	// SampleCounts, when set, gates rows on their declared sample count and
	// limits scheduling to that many slots.
	SampleCounts []int
}

// Result is the outcome for one accepted event.
type Result struct {
	Event  domain.SamplingEvent
	Issues []Issue
}

// Scheduler applies Options to rows. It is safe for concurrent use.
type Scheduler struct {
	opts    Options
	plantID string
}

// New resolves the site through the injected directory and returns a
// Scheduler bound to it.
func New(opts Options, sites SiteDirectory) (*Scheduler, error) {
	if sites == nil {
		return nil, fmt.Errorf("%w: no site directory", ErrUnknownSite)
	}
	id, ok := sites.PlantID(opts.SiteCode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, opts.SiteCode)
	}
	if opts.Date.Mode == 0 {
		return nil, fmt.Errorf("schedule: date mode is required")
	}
	return &Scheduler{opts: opts, plantID: id}, nil
}

// Schedule builds the event for one row. A returned error means the whole
// event was dropped; Issues on a successful Result are slot or field level.
func (s *Scheduler) Schedule(in EventInput) (Result, error) {
	ref := strings.TrimSpace(in.Reference)
	if ref == "" {
		return Result{}, ErrMissingReference
	}

	date, err := s.opts.Date.Decode(in.Date)
	if err != nil {
		return Result{}, fmt.Errorf("remision %s: %w", ref, err)
	}

	limit := SlotCount
	if len(s.opts.SampleCounts) > 0 {
		n, err := sampleCount(in.SampleCount, s.opts.SampleCounts)
		if err != nil {
			return Result{}, fmt.Errorf("remision %s: %w", ref, err)
		}
		limit = n
	}

	var res Result
	issue := func(err error, slot int, field, detail string) {
		res.Issues = append(res.Issues, Issue{Err: err, Reference: ref, Slot: slot, Field: field, Detail: detail})
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	tod, err := DecodeTime(s.opts.TimeMode, in.Time)
	if err != nil {
		issue(err, 0, "hora", err.Error())
		tod = nil
	}
	if tod == nil && !date.Equal(day) {
		clock := date.Sub(day)
		tod = &domain.TimeOfDay{
			Hour:   int(clock / time.Hour),
			Minute: int(clock % time.Hour / time.Minute),
			Second: int(clock % time.Minute / time.Second),
		}
	}
	if tod == nil && s.opts.TimeMode == TimeNone {
		def := s.opts.DefaultSamplingTime
		tod = &def
	}
	sampledAt := s.opts.DefaultSamplingTime.On(day)
	if tod != nil {
		sampledAt = tod.On(day)
	}

	ev := domain.SamplingEvent{
		Reference:      ref,
		SiteCode:       s.opts.SiteCode,
		PlantID:        s.plantID,
		SampledOn:      day,
		SampledAt:      sampledAt,
		SamplingTime:   tod,
		Classification: strings.TrimSpace(in.Classification),
		Timezone:       s.opts.Timezone,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  **float64
	}{
		{"revenimiento", in.Slump, &ev.Slump},
		{"masa_unitaria", in.UnitMass, &ev.UnitMass},
		{"temperatura_ambiente", in.AmbientTemp, &ev.AmbientTemp},
		{"temperatura_concreto", in.ConcreteTemp, &ev.ConcreteTemp},
	} {
		v, ok, err := parseOptionalFloat(f.raw)
		if err != nil {
			issue(err, 0, f.name, err.Error())
			continue
		}
		if ok {
			*f.dst = floatPtr(v)
		}
	}

	var ages [SlotCount]string
	for i := range in.Slots {
		ages[i] = in.Slots[i].Age
	}
	ev.AgeUnit = ResolveAgeUnit(ages)

	for i := 0; i < limit; i++ {
		slot := i + 1
		sl := in.Slots[i]

		age, ok, err := parseOptionalFloat(sl.Age)
		if err != nil {
			issue(err, slot, "edad", err.Error())
			continue
		}
		if !ok || age <= 0 {
			continue
		}
		if age > MaxAge {
			err := fmt.Errorf("%w: age %s exceeds %d", ErrInvalidNumericField, strings.TrimSpace(sl.Age), MaxAge)
			issue(err, slot, "edad", err.Error())
			continue
		}

		var at time.Time
		if ev.AgeUnit == domain.Hours {
			at = sampledAt.Add(time.Duration(int(age)) * time.Hour)
		} else {
			at = s.opts.LabTestTime.On(day.AddDate(0, 0, int(age)))
		}

		shapeText := strings.TrimSpace(sl.Shape)
		if shapeText == "" {
			shapeText = s.opts.DefaultShapeText
		}
		shape := NormalizeShape(shapeText)
		dims := ShapeDimensions(shapeText)
		if dims.IsZero() && s.opts.DefaultDimensions != nil {
			dims = s.opts.DefaultDimensions(shape)
		}
		sp := domain.Specimen{
			Slot:        slot,
			Label:       domain.Label(slot),
			Shape:       shape,
			ShapeText:   shapeText,
			Dimensions:  dims,
			ScheduledAt: at,
			State:       domain.Pending,
		}
		reading := strings.TrimSpace(sl.Reading)
		if reading != "" {
			sp.State = domain.Tested
		}
		ev.Specimens = append(ev.Specimens, sp)

		if sp.State != domain.Tested {
			continue
		}
		load, ok, err := s.load(reading, shapeText)
		if err != nil {
			issue(err, slot, "lectura", err.Error())
			continue
		}
		if !ok || load <= 0 {
			issue(ErrUnresolvedConversion, slot, "lectura", fmt.Sprintf("%q gives no positive load", reading))
			continue
		}
		ev.Tests = append(ev.Tests, domain.TestResult{
			Slot:     slot,
			Label:    sp.Label,
			LoadKg:   load,
			TestedAt: at,
		})
	}

	res.Event = ev
	return res, nil
}

func (s *Scheduler) load(reading, shapeText string) (float64, bool, error) {
	if s.opts.Reading == ReadingLoad {
		return parseOptionalFloat(reading)
	}
	return StrengthToLoad(reading, shapeText)
}

func sampleCount(raw string, allowed []int) (int, error) {
	v, ok, err := parseOptionalFloat(raw)
	if err != nil || !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSampleCount, strings.TrimSpace(raw))
	}
	for _, n := range allowed {
		if v == float64(n) && n <= SlotCount {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidSampleCount, strconv.FormatFloat(v, 'f', -1, 64))
}
