// Package skiplog records every dropped event and recovered slot problem of a
// job to a CSV file, so the lab can review them next to the source export.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/zeebo/xxh3"
)

// Header is the first row of every skip file.
var Header = []string{"reason", "line_number", "reference", "slot", "field", "detail", "row_hash"}

// Entry is one skip-file row.
type Entry struct {
	Reason    string
	Line      int
	Reference string
	Slot      int
	Field     string
	Detail    string
	Raw       string
}

// Log appends entries to a CSV file and keeps per-reason counts plus the
// first few messages for the run summary.
type Log struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	reasons map[string]int
	sample  []string
	keep    int
}

// Open creates path (and its parent directories) and writes the header.
// keep bounds the number of messages retained by Sample.
func Open(path string, keep int) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("skiplog: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("skiplog: open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("skiplog: write header: %w", err)
	}
	return &Log{f: f, w: w, reasons: make(map[string]int), keep: keep}, nil
}

// Discard returns a Log that only counts.
func Discard(keep int) *Log {
	return &Log{reasons: make(map[string]int), keep: keep}
}

// Add records one entry. Write errors surface on Close.
func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reasons[e.Reason]++
	if len(l.sample) < l.keep {
		l.sample = append(l.sample, e.String())
	}
	if l.w == nil {
		return
	}
	slot := ""
	if e.Slot > 0 {
		slot = strconv.Itoa(e.Slot)
	}
	_ = l.w.Write([]string{e.Reason, strconv.Itoa(e.Line), e.Reference, slot, e.Field, e.Detail, RowHash(e.Raw)})
}

// Counts returns a copy of the per-reason counters.
func (l *Log) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}

// Total is the number of entries added.
func (l *Log) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.reasons {
		n += v
	}
	return n
}

// Sample returns the retained messages in insertion order.
func (l *Log) Sample() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sample...)
}

// Reasons lists the recorded reasons, sorted.
func (l *Log) Reasons() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.reasons))
	for k := range l.reasons {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	l.w.Flush()
	err := l.w.Error()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.w = nil
	return err
}

func (e Entry) String() string {
	if e.Slot > 0 {
		return fmt.Sprintf("line %d: %s: remision %s M%d %s: %s", e.Line, e.Reason, e.Reference, e.Slot, e.Field, e.Detail)
	}
	return fmt.Sprintf("line %d: %s: remision %s: %s", e.Line, e.Reason, e.Reference, e.Detail)
}

// RowHash fingerprints a raw source line. Empty input hashes to "".
func RowHash(raw string) string {
	if raw == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.HashString(raw))
}
