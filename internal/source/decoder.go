package source

import (
	"errors"
	"fmt"
	"io"
	"strings"

	jcsv "github.com/jszwec/csvutil"

	"labmigrate/internal/csvutil"
	"labmigrate/internal/schedule"
)

// ErrLayoutMismatch is returned when a file's header does not fit the layout.
var ErrLayoutMismatch = errors.New("header does not match layout")

// Row is one export row after its headers were mapped to canonical names.
type Row struct {
	Reference      string `csv:"reference"`
	Date           string `csv:"date"`
	Time           string `csv:"time"`
	Slump          string `csv:"slump"`
	UnitMass       string `csv:"unit_mass"`
	AmbientTemp    string `csv:"ambient_temp"`
	ConcreteTemp   string `csv:"concrete_temp"`
	Classification string `csv:"classification"`
	SampleCount    string `csv:"sample_count"`

	Age1     string `csv:"age_1"`
	Shape1   string `csv:"shape_1"`
	Reading1 string `csv:"reading_1"`
	Age2     string `csv:"age_2"`
	Shape2   string `csv:"shape_2"`
	Reading2 string `csv:"reading_2"`
	Age3     string `csv:"age_3"`
	Shape3   string `csv:"shape_3"`
	Reading3 string `csv:"reading_3"`
	Age4     string `csv:"age_4"`
	Shape4   string `csv:"shape_4"`
	Reading4 string `csv:"reading_4"`
}

// Input converts the row for the scheduler, applying the layout's shape
// inference to slots without a shape.
func (r Row) Input(l Layout) schedule.EventInput {
	in := schedule.EventInput{
		Reference:      r.Reference,
		Date:           r.Date,
		Time:           r.Time,
		Slump:          r.Slump,
		UnitMass:       r.UnitMass,
		AmbientTemp:    r.AmbientTemp,
		ConcreteTemp:   r.ConcreteTemp,
		Classification: r.Classification,
		SampleCount:    r.SampleCount,
		Slots: [schedule.SlotCount]schedule.SlotInput{
			{Age: r.Age1, Shape: r.Shape1, Reading: r.Reading1},
			{Age: r.Age2, Shape: r.Shape2, Reading: r.Reading2},
			{Age: r.Age3, Shape: r.Shape3, Reading: r.Reading3},
			{Age: r.Age4, Shape: r.Shape4, Reading: r.Reading4},
		},
	}
	if l.InferShape != nil {
		for i := range in.Slots {
			if strings.TrimSpace(in.Slots[i].Shape) == "" {
				in.Slots[i].Shape = l.InferShape(in.Slots[i].Reading)
			}
		}
	}
	return in
}

// Record is one decoded row together with its position in the file.
type Record struct {
	Line  int
	Raw   string
	Input schedule.EventInput
}

// Decoder streams Records from one export file.
type Decoder struct {
	layout Layout
	rd     *csvutil.Reader
	dec    *jcsv.Decoder
}

// DecoderOptions controls how the raw file is read.
type DecoderOptions struct {
	// Encoding is passed to csvutil.Decode; empty means UTF-8.
	Encoding string
	// Comma defaults to ','.
	Comma byte
}

// NewDecoder reads and maps the header of r. Unmapped columns are ignored.
func NewDecoder(r io.Reader, l Layout, opts DecoderOptions) (*Decoder, error) {
	in, err := csvutil.Decode(r, opts.Encoding)
	if err != nil {
		return nil, err
	}
	rd, err := csvutil.NewReader(in, opts.Comma)
	if err != nil {
		return nil, err
	}
	header, err := l.mapHeader(rd.Header())
	if err != nil {
		return nil, err
	}
	dec, err := jcsv.NewDecoder(rd, header...)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", l.Name, err)
	}
	return &Decoder{layout: l, rd: rd, dec: dec}, nil
}

// Next returns the next Record or io.EOF.
func (d *Decoder) Next() (Record, error) {
	var row Row
	if err := d.dec.Decode(&row); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{Line: d.rd.Line(), Raw: d.rd.Raw()}, fmt.Errorf("source %s line %d: %w", d.layout.Name, d.rd.Line(), err)
	}
	return Record{Line: d.rd.Line(), Raw: d.rd.Raw(), Input: row.Input(d.layout)}, nil
}

// Ragged counts rows that were padded or cut to the header width.
func (d *Decoder) Ragged() int { return d.rd.Ragged() }

// Blank counts skipped blank rows.
func (d *Decoder) Blank() int { return d.rd.Blank() }

// mapHeader renames source headers to canonical names. Unmapped columns get
// a unique placeholder so the decoder ignores them.
func (l Layout) mapHeader(raw []string) ([]string, error) {
	out := make([]string, len(raw))
	seen := map[string]string{}
	for i, h := range raw {
		norm := csvutil.NormalizeHeader(h)
		canon, ok := l.Columns[norm]
		if !ok {
			out[i] = fmt.Sprintf("_unmapped_%d", i)
			continue
		}
		if prev, dup := seen[canon]; dup {
			return nil, fmt.Errorf("%w: %s: %q and %q both map to %s", ErrLayoutMismatch, l.Name, prev, h, canon)
		}
		seen[canon] = h
		out[i] = canon
	}
	var missing []string
	for _, c := range l.Required {
		if _, ok := seen[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: missing %s", ErrLayoutMismatch, l.Name, strings.Join(missing, ", "))
	}
	return out, nil
}
