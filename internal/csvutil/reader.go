package csvutil

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrNoHeader is returned when the input has no header row.
var ErrNoHeader = errors.New("csvutil: missing header row")

// Reader yields records of a fixed width, which is what
// github.com/jszwec/csvutil needs from its csvutil.Reader. Short rows are
// padded with empty cells and long rows are cut at the header width; rows
// whose cells are all blank are skipped.
type Reader struct {
	br     *bufio.Reader
	comma  byte
	header []string

	line    int
	raw     string
	ragged  int
	skipped int
}

// NewReader reads the header row from r. The header is returned as found,
// with only the BOM removed; see NormalizeHeaders.
func NewReader(r io.Reader, comma byte) (*Reader, error) {
	if comma == 0 {
		comma = ','
	}
	cr := &Reader{br: bufio.NewReaderSize(r, 64*1024), comma: comma}
	line, err := ReadLogicalLine(cr.br, comma)
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	cr.line = 1
	cr.raw = line
	cr.header = SplitLoose(StripBOM(line), comma)
	return cr, nil
}

// Header returns the header cells.
func (r *Reader) Header() []string { return r.header }

// Read returns the next non-blank record, sized to the header.
func (r *Reader) Read() ([]string, error) {
	for {
		line, err := ReadLogicalLine(r.br, r.comma)
		if err != nil {
			return nil, err
		}
		r.line++
		r.raw = line
		if strings.TrimSpace(line) == "" {
			r.skipped++
			continue
		}
		rec := SplitLoose(line, r.comma)
		if blank(rec) {
			r.skipped++
			continue
		}
		if len(rec) != len(r.header) {
			r.ragged++
			rec = fit(rec, len(r.header))
		}
		return rec, nil
	}
}

// Line is the 1-based index of the last logical line read; the header is 1.
func (r *Reader) Line() int { return r.line }

// Raw is the text of the last logical line read.
func (r *Reader) Raw() string { return r.raw }

// Ragged counts records that had to be padded or cut.
func (r *Reader) Ragged() int { return r.ragged }

// Blank counts skipped blank records.
func (r *Reader) Blank() int { return r.skipped }

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func fit(rec []string, n int) []string {
	if len(rec) > n {
		return rec[:n]
	}
	out := make([]string, n)
	copy(out, rec)
	return out
}
