package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"labmigrate/internal/domain"
	"labmigrate/internal/schedule"
	"labmigrate/internal/source"
)

// Defaults applied when neither the manifest nor a flag sets a value.
const (
	DefaultTimezone    = "America/Mexico_City"
	DefaultLabTestTime = "08:00"
)

// ErrInvalidManifest wraps every manifest validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is the YAML run description:
//
//	timezone: America/Mexico_City
//	lab_test_time: "08:00"
//	sites:
//	  P1: 4cc02bc8-990a-4bde-96f2-7a1f5af4d4ad
//	jobs:
//	  - name: silao
//	    layout: silao
//	    site: P1
//	    csv: exports/Carga Silao.csv
type Manifest struct {
	Timezone         string `yaml:"timezone"`
	LabTestTime      string `yaml:"lab_test_time"`
	TwoDigitYearBase int    `yaml:"two_digit_year_base"`
	Sites            Sites  `yaml:"sites"`
	Jobs             []Job  `yaml:"jobs"`
}

// Sites maps a logical site code to the plant UUID of the target schema.
// It satisfies schedule.SiteDirectory.
type Sites map[string]string

// PlantID looks up code; codes are matched exactly.
func (s Sites) PlantID(code string) (string, bool) {
	id, ok := s[code]
	return id, ok
}

// Job is one CSV export to migrate.
type Job struct {
	Name      string `yaml:"name"`
	Layout    string `yaml:"layout"`
	Site      string `yaml:"site"`
	CSV       string `yaml:"csv"`
	Encoding  string `yaml:"encoding,omitempty"`
	Delimiter string `yaml:"delimiter,omitempty"`
}

// Comma returns the delimiter byte, defaulting to ','.
func (j Job) Comma() byte { return comma(j.Delimiter) }

// ParseManifest decodes YAML from r. Unknown keys are rejected; an empty
// document yields an empty manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return m, nil
}

// LoadManifest reads and parses path. Relative job CSV paths are resolved
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range m.Jobs {
		if p := m.Jobs[i].CSV; p != "" && !filepath.IsAbs(p) {
			m.Jobs[i].CSV = filepath.Join(dir, p)
		}
	}
	return m, nil
}

// Validate checks site UUIDs and that every job names a known layout and a
// site in the table. All problems are reported together.
func (m *Manifest) Validate() error {
	var errs []error

	codes := make([]string, 0, len(m.Sites))
	for code := range m.Sites {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if strings.TrimSpace(code) == "" {
			errs = append(errs, fmt.Errorf("site with empty code"))
			continue
		}
		if _, err := uuid.Parse(m.Sites[code]); err != nil {
			errs = append(errs, fmt.Errorf("site %s: plant id %q: %v", code, m.Sites[code], err))
		}
	}

	seen := map[string]bool{}
	for i, j := range m.Jobs {
		if err := validateJob(j, m.Sites); err != nil {
			errs = append(errs, fmt.Errorf("job %d (%s): %w", i+1, j.Name, err))
		}
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("job %d: duplicate name %q", i+1, j.Name))
		}
		seen[j.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}
	return nil
}

func validateJob(j Job, sites Sites) error {
	var errs []error
	if j.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if _, err := source.Lookup(j.Layout); err != nil {
		errs = append(errs, err)
	}
	if _, ok := sites.PlantID(j.Site); !ok {
		errs = append(errs, fmt.Errorf("site %q is not in the site table", j.Site))
	}
	if j.CSV == "" {
		errs = append(errs, errors.New("csv is required"))
	}
	if len(j.Delimiter) > 1 && j.Delimiter != `\t` && j.Delimiter != "tab" {
		errs = append(errs, fmt.Errorf("delimiter %q must be one byte", j.Delimiter))
	}
	return errors.Join(errs...)
}

// Plan is the validated input of a run.
type Plan struct {
	Timezone         string
	LabTestTime      domain.TimeOfDay
	TwoDigitYearBase int
	Sites            Sites
	Jobs             []Job
}

// Resolve merges the manifest with flag overrides. In single-job mode
// (cfg.CSV set) the manifest only contributes the site table and defaults.
func Resolve(cfg *Config, m *Manifest) (*Plan, error) {
	if m == nil {
		m = &Manifest{}
	}
	merged := *m
	if cfg.CSV != "" {
		name := cfg.Layout
		if name == "" {
			name = "job"
		}
		merged.Jobs = []Job{{
			Name:      name,
			Layout:    cfg.Layout,
			Site:      cfg.Site,
			CSV:       cfg.CSV,
			Encoding:  cfg.Encoding,
			Delimiter: cfg.Delimiter,
		}}
	}
	if len(merged.Jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs (use the manifest or -csv/-layout/-site)", ErrInvalidManifest)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	p := &Plan{
		Timezone:         firstNonEmpty(cfg.Timezone, m.Timezone, DefaultTimezone),
		TwoDigitYearBase: m.TwoDigitYearBase,
		Sites:            m.Sites,
		Jobs:             merged.Jobs,
	}
	if cfg.TwoDigitYearBase != 0 {
		p.TwoDigitYearBase = cfg.TwoDigitYearBase
	}
	lab := firstNonEmpty(cfg.LabTestTime, m.LabTestTime, DefaultLabTestTime)
	tod, err := schedule.DecodeTime(schedule.TimeClock, lab)
	if err != nil || tod == nil || !strings.Contains(lab, ":") {
		return nil, fmt.Errorf("%w: lab test time %q is not HH:MM", ErrInvalidManifest, lab)
	}
	p.LabTestTime = *tod
	return p, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
