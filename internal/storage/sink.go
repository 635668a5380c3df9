package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/san-kum/mastersim/internal/slave"
)

// Column identifies one persisted output variable.
type Column struct {
	SlaveIndex int
	Slave      string
	Variable   string
	Unit       string
	Type       slave.ScalarType
}

// Caption is the column header used in tabular exports.
func (c Column) Caption() string {
	name := c.Slave + "." + c.Variable
	if c.Unit != "" {
		name += " [" + c.Unit + "]"
	}
	return name
}

// Sink receives one row of output values per emitted time point. Rows
// written before a failed run must remain readable.
type Sink interface {
	Begin(runID string, cols []Column) error
	Write(t float64, row []slave.Value) error
}

// Multi fans rows out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Begin(runID string, cols []Column) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Begin(runID, cols))
	}
	return errors.Join(errs...)
}

func (m multiSink) Write(t float64, row []slave.Value) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Write(t, row))
	}
	return errors.Join(errs...)
}

type key struct {
	slave, variable string
	t               float64
}

// Recorder keeps results in memory, addressable by (slave, variable, time).
type Recorder struct {
	mu     sync.RWMutex
	runID  string
	cols   []Column
	times  []float64
	rows   [][]slave.Value
	lookup map[key]slave.Value
}

func NewRecorder() *Recorder {
	return &Recorder{lookup: make(map[key]slave.Value)}
}

func (r *Recorder) Begin(runID string, cols []Column) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.cols = append([]Column(nil), cols...)
	r.times = nil
	r.rows = nil
	r.lookup = make(map[key]slave.Value)
	return nil
}

func (r *Recorder) Write(t float64, row []slave.Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(row) != len(r.cols) {
		return fmt.Errorf("row has %d values, expected %d", len(row), len(r.cols))
	}
	r.times = append(r.times, t)
	r.rows = append(r.rows, append([]slave.Value(nil), row...))
	for i, c := range r.cols {
		r.lookup[key{c.Slave, c.Variable, t}] = row[i]
	}
	return nil
}

func (r *Recorder) RunID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runID
}

func (r *Recorder) Columns() []Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Column(nil), r.cols...)
}

func (r *Recorder) Times() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]float64(nil), r.times...)
}

func (r *Recorder) Value(slaveName, variable string, t float64) (slave.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.lookup[key{slaveName, variable, t}]
	return v, ok
}

// Series returns the numeric history of one variable.
func (r *Recorder) Series(slaveName, variable string) ([]float64, []float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := -1
	for i, c := range r.cols {
		if c.Slave == slaveName && c.Variable == variable {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	values := make([]float64, len(r.rows))
	for i, row := range r.rows {
		values[i] = row[idx].Float()
	}
	return append([]float64(nil), r.times...), values
}

// Last returns the latest recorded time, or false when nothing was written.
func (r *Recorder) Last() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.times) == 0 {
		return 0, false
	}
	return r.times[len(r.times)-1], true
}

// Variables lists "slave.variable" names in column order.
func (r *Recorder) Variables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.cols))
	for i, c := range r.cols {
		names[i] = c.Slave + "." + c.Variable
	}
	return names
}

// SortColumns orders columns by slave index, then variable name.
func SortColumns(cols []Column) {
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].SlaveIndex != cols[j].SlaveIndex {
			return cols[i].SlaveIndex < cols[j].SlaveIndex
		}
		return cols[i].Variable < cols[j].Variable
	})
}
