// Package domain holds the business objects produced by the sampling
// migration: one SamplingEvent per accepted CSV row, its Specimens and the
// TestResults derived from them. Nullable source values are pointers, like
// the rest of the loaders in this repo.
package domain

import (
	"fmt"
	"time"
)

// DateLayout and TimestampLayout are the wall-clock formats written to the
// target tables.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// AgeUnit tells how the declared ages of one event are interpreted.
type AgeUnit string

const (
	Days  AgeUnit = "DAYS"
	Hours AgeUnit = "HOURS"
)

// Shape is the closed set of specimen shapes accepted by the target schema.
type Shape string

const (
	Cube     Shape = "CUBO"
	Beam     Shape = "VIGA"
	Cylinder Shape = "CILINDRO"
)

// SpecimenState is computed once, when the specimen is created.
type SpecimenState string

const (
	Pending SpecimenState = "PENDIENTE"
	Tested  SpecimenState = "ENSAYADO"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// String renders HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Seconds returns the seconds elapsed since midnight.
func (t TimeOfDay) Seconds() int { return t.Hour*3600 + t.Minute*60 + t.Second }

// On combines the time with the calendar date of d.
func (t TimeOfDay) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour, t.Minute, t.Second, 0, time.UTC)
}

// Dimensions carries the nominal specimen size when the source names it or
// the source layout fixes one for the shape. Unknown values stay nil.
type Dimensions struct {
	CubeSideCm   *float64
	DiameterCm   *float64
	BeamWidthCm  *float64
	BeamHeightCm *float64
	BeamSpanCm   *float64
}

// IsZero reports whether no dimension is known.
func (d Dimensions) IsZero() bool {
	return d.CubeSideCm == nil && d.DiameterCm == nil && d.BeamWidthCm == nil && d.BeamHeightCm == nil && d.BeamSpanCm == nil
}

// SamplingEvent mirrors one muestreo row. All times are wall-clock values in
// the event's Timezone, carried in time.UTC so arithmetic stays naive.
type SamplingEvent struct {
	Reference      string
	SiteCode       string
	PlantID        string
	SampledOn      time.Time
	SampledAt      time.Time
	SamplingTime   *TimeOfDay
	Slump          *float64
	UnitMass       *float64
	AmbientTemp    *float64
	ConcreteTemp   *float64
	Classification string
	AgeUnit        AgeUnit
	Timezone       string

	Specimens []Specimen
	Tests     []TestResult
}

// Specimen mirrors one muestra row.
type Specimen struct {
	Slot        int
	Label       string
	Shape       Shape
	ShapeText   string
	Dimensions  Dimensions
	ScheduledAt time.Time
	State       SpecimenState
}

// TestResult mirrors one ensayo row.
type TestResult struct {
	Slot     int
	Label    string
	LoadKg   float64
	TestedAt time.Time
}

// Label returns the identification used for slot i ("M1".."M4").
func Label(slot int) string { return fmt.Sprintf("M%d", slot) }
