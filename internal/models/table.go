package models

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/mastersim/internal/slave"
)

var ErrBadTable = errors.New("models: invalid table")

// timeUnits converts time column units to seconds.
var timeUnits = map[string]float64{
	"":    1,
	"s":   1,
	"min": 60,
	"h":   3600,
	"d":   86400,
	"a":   365 * 86400,
}

// Table replays the columns of a CSV or tab-separated file as outputs.
// The first column is time; the header names every column as
// "name [unit]". Values between rows are interpolated linearly and held
// constant outside the tabulated range.
type Table struct {
	core
	desc    slave.Descriptor
	names   []string
	times   []float64
	columns [][]float64
}

// LoadTable reads a table file.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTable parses table data. The separator is a tab when the header
// contains one and a comma otherwise.
func ReadTable(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	header, _, _ := strings.Cut(text, "\n")

	cr := csv.NewReader(strings.NewReader(text))
	if strings.Contains(header, "\t") {
		cr.Comma = '\t'
	}
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: need a header and at least one row", ErrBadTable)
	}
	if len(records[0]) < 2 {
		return nil, fmt.Errorf("%w: no data columns", ErrBadTable)
	}

	_, timeUnit := splitCaption(records[0][0])
	scale, ok := timeUnits[timeUnit]
	if !ok {
		return nil, fmt.Errorf("%w: unknown time unit %q", ErrBadTable, timeUnit)
	}

	t := &Table{columns: make([][]float64, len(records[0])-1)}
	for i, caption := range records[0][1:] {
		name, unit := splitCaption(caption)
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrBadTable, i+2)
		}
		if _, dup := t.desc.Lookup(name); dup {
			return nil, fmt.Errorf("%w: duplicate column %s", ErrBadTable, name)
		}
		t.names = append(t.names, name)
		t.desc.Variables = append(t.desc.Variables, realVar(name, slave.Output, unit))
	}

	for line, rec := range records[1:] {
		if len(rec) != len(records[0]) {
			return nil, fmt.Errorf("%w: row %d has %d fields, header has %d", ErrBadTable, line+2, len(rec), len(records[0]))
		}
		tm, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrBadTable, line+2, err)
		}
		tm *= scale
		if n := len(t.times); n > 0 && tm <= t.times[n-1] {
			return nil, fmt.Errorf("%w: time must increase strictly (row %d)", ErrBadTable, line+2)
		}
		t.times = append(t.times, tm)
		for j, cell := range rec[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %v", ErrBadTable, line+2, t.names[j], err)
			}
			t.columns[j] = append(t.columns[j], v)
		}
	}
	t.core = newCore(t.desc)
	return t, nil
}

// splitCaption separates "name [unit]" into its parts.
func splitCaption(s string) (string, string) {
	s = strings.TrimSpace(s)
	open := strings.LastIndex(s, "[")
	if open < 0 || !strings.HasSuffix(s, "]") {
		return s, ""
	}
	return strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1 : len(s)-1])
}

func (t *Table) Descriptor() slave.Descriptor {
	return t.desc
}

// Range returns the first and last tabulated time.
func (t *Table) Range() (float64, float64) {
	return t.times[0], t.times[len(t.times)-1]
}

func (t *Table) DoStep(tm, h float64) slave.StepResult {
	t.t = tm + h
	return slave.Success()
}

func (t *Table) Outputs() slave.Values {
	out := make(slave.Values, len(t.names))
	for j, name := range t.names {
		out[name] = slave.RealValue(t.At(j, t.t))
	}
	return out
}

// At interpolates column j at time tm.
func (t *Table) At(j int, tm float64) float64 {
	ys := t.columns[j]
	n := len(t.times)
	if tm <= t.times[0] {
		return ys[0]
	}
	if tm >= t.times[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(t.times, tm)
	if t.times[i] == tm {
		return ys[i]
	}
	t0, t1 := t.times[i-1], t.times[i]
	w := (tm - t0) / (t1 - t0)
	return ys[i-1] + w*(ys[i]-ys[i-1])
}
