package schedule

import (
	"errors"
	"testing"

	"labmigrate/internal/domain"
)

func TestNormalizeShape(t *testing.T) {
	t.Parallel()

	cases := map[string]domain.Shape{
		"CUBO 10 X 10":   domain.Cube,
		"cubo 15x15":     domain.Cube,
		"Cube":           domain.Cube,
		"VIGA 15X15X50":  domain.Beam,
		"beam":           domain.Beam,
		"CILINDRO 10X20": domain.Cylinder,
		"Cylinder":       domain.Cylinder,
		"":               domain.Cube,
		"PRISMA":         domain.Cube,
	}
	for in, want := range cases {
		if got := NormalizeShape(in); got != want {
			t.Fatalf("NormalizeShape(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestShapeDimensions(t *testing.T) {
	t.Parallel()

	d := ShapeDimensions("CUBO 15 X 15")
	if d.CubeSideCm == nil || *d.CubeSideCm != 15 {
		t.Fatalf("cube 15: %+v", d)
	}
	d = ShapeDimensions("CUBO 10 X 10")
	if d.CubeSideCm == nil || *d.CubeSideCm != 10 {
		t.Fatalf("cube 10: %+v", d)
	}
	d = ShapeDimensions("CILINDRO 10X20")
	if d.DiameterCm == nil || *d.DiameterCm != 10 || d.CubeSideCm != nil {
		t.Fatalf("cylinder: %+v", d)
	}
	// Beam sizes are never inferred from text.
	d = ShapeDimensions("VIGA 15X15X50")
	if d != (domain.Dimensions{}) {
		t.Fatalf("beam should carry no dimensions: %+v", d)
	}
}

func TestStrengthToLoad(t *testing.T) {
	t.Parallel()

	cases := []struct {
		reading, shape string
		want           float64
		ok             bool
	}{
		{"250", "CUBO 10 X 10", 25000, true},
		{"100", "VIGA 15X15X50", 7500, true},
		{"45.5", "VIGA", 3412.5, true},
		{"200", "CILINDRO 10X20", 20000, true},
		{"200", "", 20000, true},
		{"", "CUBO", 0, false},
		{"  ", "VIGA", 0, false},
	}
	for _, tc := range cases {
		got, ok, err := StrengthToLoad(tc.reading, tc.shape)
		if err != nil {
			t.Fatalf("StrengthToLoad(%q, %q): %v", tc.reading, tc.shape, err)
		}
		if ok != tc.ok || got != tc.want {
			t.Fatalf("StrengthToLoad(%q, %q) = (%v, %v), want (%v, %v)", tc.reading, tc.shape, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStrengthToLoad_NonNumeric(t *testing.T) {
	t.Parallel()

	_, ok, err := StrengthToLoad("N/D", "CUBO")
	if ok || !errors.Is(err, ErrInvalidNumericField) {
		t.Fatalf("got ok=%v err=%v, want ErrInvalidNumericField", ok, err)
	}
}

func TestLoadFactor(t *testing.T) {
	t.Parallel()

	if LoadFactor(domain.Cube) != 100 || LoadFactor(domain.Beam) != 75 || LoadFactor(domain.Cylinder) != 100 {
		t.Fatalf("unexpected factors: %v %v %v", LoadFactor(domain.Cube), LoadFactor(domain.Beam), LoadFactor(domain.Cylinder))
	}
}
