package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"labmigrate/internal/domain"
)

// Load multipliers turn a strength reading (kg/cm2) into a load (kg).
const (
	// CubeFactor is the nominal 10x10 cm cross-section.
	CubeFactor = 100.0
	// BeamFactor is the factor the lab system applies to beams. It is not an
	// area and must not be re-derived.
	BeamFactor = 75.0
)

// NormalizeShape maps free text onto the closed shape set by case-insensitive
// substring match. Anything unrecognized is a cube.
func NormalizeShape(text string) domain.Shape {
	t := strings.ToUpper(text)
	switch {
	case strings.Contains(t, "CUBO"), strings.Contains(t, "CUBE"):
		return domain.Cube
	case strings.Contains(t, "VIGA"), strings.Contains(t, "BEAM"):
		return domain.Beam
	case strings.Contains(t, "CILINDRO"), strings.Contains(t, "CYLINDER"):
		return domain.Cylinder
	default:
		return domain.Cube
	}
}

// ShapeDimensions extracts the nominal size named in the shape text, e.g.
// "CUBO 15 X 15" or "CILINDRO 10". Beam sizes are never inferred.
func ShapeDimensions(text string) domain.Dimensions {
	t := strings.ToUpper(text)
	var d domain.Dimensions
	switch NormalizeShape(text) {
	case domain.Cube:
		switch {
		case strings.Contains(t, "15"):
			d.CubeSideCm = floatPtr(15)
		case strings.Contains(t, "10"):
			d.CubeSideCm = floatPtr(10)
		}
	case domain.Cylinder:
		if strings.Contains(t, "10") {
			d.DiameterCm = floatPtr(10)
		}
	}
	return d
}

// LoadFactor returns the strength-to-load multiplier for a shape.
func LoadFactor(shape domain.Shape) float64 {
	if shape == domain.Beam {
		return BeamFactor
	}
	return CubeFactor
}

// StrengthToLoad converts a strength reading for the given shape text into an
// equivalent load. ok is false when the reading is empty; a non-numeric
// reading returns ErrInvalidNumericField.
func StrengthToLoad(reading, shapeText string) (load float64, ok bool, err error) {
	v, ok, err := parseOptionalFloat(reading)
	if err != nil || !ok {
		return 0, false, err
	}
	return v * LoadFactor(NormalizeShape(shapeText)), true, nil
}

// parseOptionalFloat treats blank input as absent.
func parseOptionalFloat(raw string) (float64, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidNumericField, s)
	}
	return v, true, nil
}

func floatPtr(v float64) *float64 { return &v }
