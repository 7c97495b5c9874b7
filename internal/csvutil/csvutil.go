// Package csvutil reads the lab's spreadsheet exports. The exports are not
// always clean CSV: quoted cells may contain line breaks, quotes show up in
// the middle of unquoted cells, the first header carries a UTF-8 BOM and
// some plants save as Windows-1252. encoding/csv rejects most of that, so
// rows are split with a tolerant scanner instead.
package csvutil

import (
	"bufio"
	"io"
	"strings"
)

// ReadLogicalLine reads one logical record from r. A quoted cell that spans
// physical lines is stitched back together with "\r\n". A final line without
// a newline is returned as is; io.EOF is returned only when nothing was read.
func ReadLogicalLine(r *bufio.Reader, comma byte) (string, error) {
	var sb strings.Builder
	inQuotes := false
	atFieldStart := true
	first := true

	for {
		part, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		part = strings.TrimRight(part, "\r\n")

		if !first && inQuotes {
			sb.WriteString("\r\n")
		}
		sb.WriteString(part)
		first = false

		for i := 0; i < len(part); i++ {
			ch := part[i]
			switch {
			case ch == comma:
				if !inQuotes {
					atFieldStart = true
				}
			case ch == '"' && inQuotes:
				if i+1 < len(part) && part[i+1] == '"' {
					i++
					continue
				}
				if closesField(part, i+1, comma) {
					inQuotes = false
					atFieldStart = false
				}
			case ch == '"' && atFieldStart:
				inQuotes = true
				atFieldStart = false
			default:
				if !inQuotes {
					atFieldStart = false
				}
			}
		}

		if !inQuotes || err == io.EOF {
			if sb.Len() == 0 && err == io.EOF {
				return "", io.EOF
			}
			return sb.String(), nil
		}
	}
}

// SplitLoose splits one logical line into cells. A quote opens a quoted cell
// only at the start of a cell and closes it only before a delimiter or the
// end of the line; any other quote is kept as a literal. It never fails.
func SplitLoose(line string, comma byte) []string {
	var fields []string
	var sb strings.Builder
	inQuotes := false
	atFieldStart := true

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == comma && !inQuotes:
			fields = append(fields, sb.String())
			sb.Reset()
			atFieldStart = true
		case ch == comma:
			sb.WriteByte(ch)
		case ch == '"' && inQuotes:
			if i+1 < len(line) && line[i+1] == '"' {
				sb.WriteByte('"')
				i++
				if closesField(line, i+1, comma) {
					inQuotes = false
				}
				continue
			}
			if closesField(line, i+1, comma) {
				inQuotes = false
				continue
			}
			sb.WriteByte('"')
		case ch == '"' && atFieldStart:
			inQuotes = true
			atFieldStart = false
		default:
			sb.WriteByte(ch)
			if !inQuotes {
				atFieldStart = false
			}
		}
	}
	return append(fields, sb.String())
}

// closesField reports whether only blanks separate position j from the next
// delimiter or the end of s.
func closesField(s string, j int, comma byte) bool {
	for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
		j++
	}
	return j >= len(s) || s[j] == comma
}
