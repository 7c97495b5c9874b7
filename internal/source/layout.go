// Package source knows the column layouts of each plant's export and turns
// their rows into schedule.EventInput values.
package source

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"labmigrate/internal/domain"
	"labmigrate/internal/schedule"
)

// ErrUnknownLayout is returned by Lookup for names not in the registry.
var ErrUnknownLayout = errors.New("unknown layout")

// Canonical column names. Every layout maps its normalized headers onto
// these, and Row is tagged with them.
const (
	colReference      = "reference"
	colDate           = "date"
	colTime           = "time"
	colSlump          = "slump"
	colUnitMass       = "unit_mass"
	colAmbientTemp    = "ambient_temp"
	colConcreteTemp   = "concrete_temp"
	colClassification = "classification"
	colSampleCount    = "sample_count"
)

func colAge(i int) string     { return "age_" + strconv.Itoa(i) }
func colShape(i int) string   { return "shape_" + strconv.Itoa(i) }
func colReading(i int) string { return "reading_" + strconv.Itoa(i) }

// Layout describes one plant export.
type Layout struct {
	Name    string
	Date    schedule.DateMode
	Time    schedule.TimeMode
	Reading schedule.ReadingKind

	DefaultSamplingTime domain.TimeOfDay
	DefaultShapeText    string
	SampleCounts        []int

	// DefaultDimensions sizes specimens whose shape text names no size.
	DefaultDimensions func(domain.Shape) domain.Dimensions

	// InferShape, when set, derives the shape text from the slot reading for
	// exports without a shape column.
	InferShape func(reading string) string

	// Columns maps normalized source headers to canonical names.
	Columns map[string]string
	// Required canonical columns; a file missing any of them is rejected.
	Required []string
}

// Options builds the scheduler options for one batch of this layout.
func (l Layout) Options(site, timezone string, labTime domain.TimeOfDay, twoDigitYearBase int) schedule.Options {
	return schedule.Options{
		SiteCode:            site,
		Timezone:            timezone,
		Date:                schedule.DateDecoder{Mode: l.Date, TwoDigitYearBase: twoDigitYearBase},
		TimeMode:            l.Time,
		Reading:             l.Reading,
		DefaultSamplingTime: l.DefaultSamplingTime,
		LabTestTime:         labTime,
		DefaultShapeText:    l.DefaultShapeText,
		SampleCounts:        l.SampleCounts,
		DefaultDimensions:   l.DefaultDimensions,
	}
}

var (
	eightAM  = domain.TimeOfDay{Hour: 8}
	midnight = domain.TimeOfDay{}
)

// ambientColumns are shared by the textual-date exports.
func ambientColumns(m map[string]string) map[string]string {
	m["revenimiento"] = colSlump
	m["masa_unitaria"] = colUnitMass
	m["temperatura_ambiente"] = colAmbientTemp
	m["temperatura_concreto"] = colConcreteTemp
	return m
}

func slotColumns(m map[string]string, age, shape, reading string) map[string]string {
	for i := 1; i <= schedule.SlotCount; i++ {
		m[fmt.Sprintf(age, i)] = colAge(i)
		if shape != "" {
			m[fmt.Sprintf(shape, i)] = colShape(i)
		}
		m[fmt.Sprintf(reading, i)] = colReading(i)
	}
	return m
}

func strengthLayout(name string) Layout {
	cols := ambientColumns(map[string]string{
		"remision":          colReference,
		"fecha_de_muestreo": colDate,
	})
	return Layout{
		Name:                name,
		Date:                schedule.DateTextual,
		Time:                schedule.TimeNone,
		Reading:             schedule.ReadingStrength,
		DefaultSamplingTime: eightAM,
		Columns:             slotColumns(cols, "edad_%d", "tipo_de_muestra_%d", "resistencia_%d"),
		Required:            []string{colReference, colDate},
	}
}

func loadLayout(name string, timeMode schedule.TimeMode) Layout {
	cols := slotColumns(map[string]string{
		"numero_de_remision":                      colReference,
		"fecha_muestreo":                          colDate,
		"hora_de_muestreo":                        colTime,
		"clasificacion":                           colClassification,
		"revenimiento_extensibilidad_de_muestreo": colSlump,
		"masa_unitaria":                           colUnitMass,
		"temperatura_ambiente":                    colAmbientTemp,
		"temperatura_del_concreto":                colConcreteTemp,
	}, "edad_%d", "tipo_de_muestra_%d", "carga_%d_kg")
	return Layout{
		Name:                name,
		Date:                schedule.DateSerial,
		Time:                timeMode,
		Reading:             schedule.ReadingLoad,
		DefaultSamplingTime: midnight,
		DefaultShapeText:    "CUBO 10 X 10",
		Columns:             cols,
		Required:            []string{colReference, colDate},
	}
}

// P5 has no shape column; low readings belong to beams.
const beamStrengthCeiling = 100.0

// ShapeFromStrength guesses the specimen shape from a strength reading.
// Empty or unreadable readings are cubes.
func ShapeFromStrength(reading string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(reading), 64)
	if err != nil {
		return string(domain.Cube)
	}
	if v < beamStrengthCeiling {
		return string(domain.Beam)
	}
	return string(domain.Cube)
}

// P5Dimensions are the fixed molds of plant 5: 10 cm cubes and
// 15x15x50 cm beams.
func P5Dimensions(shape domain.Shape) domain.Dimensions {
	cm := func(v float64) *float64 { return &v }
	switch shape {
	case domain.Cube:
		return domain.Dimensions{CubeSideCm: cm(10)}
	case domain.Beam:
		return domain.Dimensions{BeamWidthCm: cm(15), BeamHeightCm: cm(15), BeamSpanCm: cm(50)}
	default:
		return domain.Dimensions{}
	}
}

var registry = func() map[string]Layout {
	p1 := strengthLayout("p1")
	silao := strengthLayout("silao")

	p2 := loadLayout("p2", schedule.TimeDecimal)

	p4 := loadLayout("p4", schedule.TimeClock)
	p4.Columns["cantidad_de_muestras"] = colSampleCount
	p4.SampleCounts = []int{3, 4}
	p4.Required = append(p4.Required, colSampleCount)

	p5 := Layout{
		Name:                "p5",
		Date:                schedule.DateTextual,
		Time:                schedule.TimeNone,
		Reading:             schedule.ReadingStrength,
		DefaultSamplingTime: eightAM,
		InferShape:          ShapeFromStrength,
		DefaultDimensions:   P5Dimensions,
		Columns: slotColumns(ambientColumns(map[string]string{
			"remision": colReference,
			"fecha":    colDate,
		}), "edad_%d", "", "resistencia_%d"),
		Required: []string{colReference, colDate},
	}

	m := map[string]Layout{}
	for _, l := range []Layout{p1, silao, p2, p4, p5} {
		m[l.Name] = l
	}
	return m
}()

// Lookup returns the layout registered under name (case-insensitive).
func Lookup(name string) (Layout, error) {
	l, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q (have %s)", ErrUnknownLayout, name, strings.Join(Names(), ", "))
	}
	return l, nil
}

// Names lists the registered layouts in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
