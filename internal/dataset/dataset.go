// Package dataset provides an immutable, column-major view over pre-cleaned
// tabular data plus adapters for loading it from workbook and CSV files.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dataset is a rows-by-named-columns table. Cell values are kept as the raw
// strings produced by the source adapter; typed access goes through Numbers,
// Times, and Strings. A Dataset is never mutated after construction: period
// partitions and other derived shapes are row-subset views sharing the parent's
// backing storage.
type Dataset struct {
	columns []string
	cells   map[string][]string
	rows    []int // row indices into cells; nil means all of rowCount
	rowLen  int
}

// New builds a Dataset from an ordered header and row-major records. Short
// rows are padded with empty cells; extra cells beyond the header are dropped.
func New(header []string, records [][]string) (*Dataset, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("dataset: empty header")
	}
	cols := make([]string, 0, len(header))
	cells := make(map[string][]string, len(header))
	for _, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Column %d", len(cols)+1)
		}
		if _, dup := cells[name]; dup {
			// Disambiguate duplicate headers while preserving order.
			base := name
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s %d", base, n)
				if _, exists := cells[name]; !exists {
					break
				}
			}
		}
		cols = append(cols, name)
		cells[name] = make([]string, len(records))
	}
	for r, rec := range records {
		for c, name := range cols {
			if c < len(rec) {
				cells[name][r] = strings.TrimSpace(rec[c])
			}
		}
	}
	return &Dataset{columns: cols, cells: cells, rowLen: len(records)}, nil
}

// Columns returns the column names in source order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// Rows reports the number of rows in this view.
func (d *Dataset) Rows() int {
	if d.rows != nil {
		return len(d.rows)
	}
	return d.rowLen
}

// HasColumn reports whether the named column exists.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.cells[name]
	return ok
}

// Strings returns the raw cell values of a column for this view.
func (d *Dataset) Strings(name string) ([]string, bool) {
	col, ok := d.cells[name]
	if !ok {
		return nil, false
	}
	if d.rows == nil {
		out := make([]string, len(col))
		copy(out, col)
		return out, true
	}
	out := make([]string, len(d.rows))
	for i, r := range d.rows {
		out[i] = col[r]
	}
	return out, true
}

// Numbers parses the column as floats. Blank and non-numeric cells are
// skipped; ok reports parsed/total so callers can judge coverage.
func (d *Dataset) Numbers(name string) (vals []float64, parsed, total int) {
	raw, ok := d.Strings(name)
	if !ok {
		return nil, 0, 0
	}
	vals = make([]float64, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		total++
		if f, ok := ParseNumber(s); ok {
			vals = append(vals, f)
			parsed++
		}
	}
	return vals, parsed, total
}

// Times parses the column as timestamps using a set of common layouts.
// Blank cells are skipped; parsed/total report coverage over non-blank cells.
func (d *Dataset) Times(name string) (vals []time.Time, parsed, total int) {
	raw, ok := d.Strings(name)
	if !ok {
		return nil, 0, 0
	}
	vals = make([]time.Time, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		total++
		if ts, ok := ParseTime(s); ok {
			vals = append(vals, ts)
			parsed++
		}
	}
	return vals, parsed, total
}

// Cell returns the raw value at (row, column) within this view.
func (d *Dataset) Cell(row int, name string) (string, bool) {
	col, ok := d.cells[name]
	if !ok {
		return "", false
	}
	if d.rows != nil {
		if row < 0 || row >= len(d.rows) {
			return "", false
		}
		return col[d.rows[row]], true
	}
	if row < 0 || row >= d.rowLen {
		return "", false
	}
	return col[row], true
}

// Subset returns a view containing only the given row indices of this view.
// The backing cells are shared; the parent is never modified.
func (d *Dataset) Subset(rows []int) *Dataset {
	abs := make([]int, 0, len(rows))
	for _, r := range rows {
		if d.rows != nil {
			if r >= 0 && r < len(d.rows) {
				abs = append(abs, d.rows[r])
			}
			continue
		}
		if r >= 0 && r < d.rowLen {
			abs = append(abs, r)
		}
	}
	return &Dataset{columns: d.columns, cells: d.cells, rows: abs, rowLen: d.rowLen}
}

// RenameColumns returns a view with columns renamed through fn. Collisions are
// disambiguated by keeping the first column and suffixing later ones.
func (d *Dataset) RenameColumns(fn func(string) string) *Dataset {
	header := make([]string, len(d.columns))
	seen := make(map[string]int, len(d.columns))
	for i, c := range d.columns {
		name := fn(c)
		if name == "" {
			name = c
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s %d", name, n+1)
		} else {
			seen[name] = 1
		}
		header[i] = name
	}
	cells := make(map[string][]string, len(header))
	for i, name := range header {
		cells[name] = d.cells[d.columns[i]]
	}
	return &Dataset{columns: header, cells: cells, rows: d.rows, rowLen: d.rowLen}
}

// ParseNumber accepts plain floats plus common currency/percent decorations.
func ParseNumber(s string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', ' ':
			return -1
		default:
			return r
		}
	}, s)
	clean = strings.TrimSuffix(clean, "%")
	if clean == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// timeLayouts covers the formats the source adapters commonly emit.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// ParseTime attempts the known layouts in order.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
