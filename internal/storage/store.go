package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/san-kum/mastersim/internal/slave"
)

const (
	metadataFile = "metadata.json"
	resultsFile  = "results.csv"
	timeCaption  = "time [s]"
)

// Run status values recorded in metadata.json.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

var ErrUnknownColumn = errors.New("storage: unknown column")

// Store keeps one directory per run below baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Project   string             `json:"project"`
	Timestamp time.Time          `json:"timestamp"`
	TStart    float64            `json:"t_start"`
	TEnd      float64            `json:"t_end"`
	StepMode  string             `json:"step_mode"`
	Algorithm string             `json:"algorithm"`
	Columns   []string           `json:"columns"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	Stats     map[string]float64 `json:"stats,omitempty"`
}

// Create starts a run directory for meta.ID and returns a sink writing
// its results.
func (s *Store) Create(meta RunMetadata) (*RunWriter, error) {
	if meta.ID == "" {
		return nil, errors.New("storage: run id is required")
	}
	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Status = StatusRunning
	if err := writeMetadata(runDir, &meta); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(runDir, resultsFile))
	if err != nil {
		return nil, err
	}
	return &RunWriter{dir: runDir, meta: meta, file: f, csv: csv.NewWriter(f)}, nil
}

func writeMetadata(dir string, meta *RunMetadata) error {
	f, err := os.Create(filepath.Join(dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// RunWriter is a Sink that appends rows to results.csv. Every row is
// flushed, so a failed run leaves all rows written so far on disk.
type RunWriter struct {
	mu   sync.Mutex
	dir  string
	meta RunMetadata
	file *os.File
	csv  *csv.Writer
	cols int
}

func (w *RunWriter) Dir() string {
	return w.dir
}

func (w *RunWriter) Begin(runID string, cols []Column) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if runID != w.meta.ID {
		return fmt.Errorf("storage: run %s written to directory of run %s", runID, w.meta.ID)
	}
	header := make([]string, 0, len(cols)+1)
	header = append(header, timeCaption)
	w.meta.Columns = w.meta.Columns[:0]
	for _, c := range cols {
		header = append(header, c.Caption())
		w.meta.Columns = append(w.meta.Columns, c.Caption())
	}
	w.cols = len(cols)
	if err := w.csv.Write(header); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

func (w *RunWriter) Write(t float64, row []slave.Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(row) != w.cols {
		return fmt.Errorf("storage: row has %d values, header has %d", len(row), w.cols)
	}
	rec := make([]string, 0, len(row)+1)
	rec = append(rec, formatFloat(t))
	for _, v := range row {
		rec = append(rec, formatValue(v))
	}
	if err := w.csv.Write(rec); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Finish closes the results file and records the final status.
func (w *RunWriter) Finish(status string, runErr error, stats map[string]float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	closeErr := w.file.Close()
	w.meta.Status = status
	if runErr != nil {
		w.meta.Error = runErr.Error()
	}
	w.meta.Stats = stats
	return errors.Join(w.csv.Error(), closeErr, writeMetadata(w.dir, &w.meta))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatValue(v slave.Value) string {
	switch v.Type {
	case slave.Integer:
		return strconv.FormatInt(v.Int, 10)
	case slave.Boolean:
		if v.Bool {
			return "1"
		}
		return "0"
	case slave.String:
		return v.Str
	}
	return formatFloat(v.Real)
}

// List returns the metadata of every stored run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Results is a stored run read back as numbers. Non-numeric cells read
// as NaN.
type Results struct {
	Columns []string
	Times   []float64
	Values  [][]float64
}

// Column returns the index of the column whose caption is name or starts
// with "name [".
func (r *Results) Column(name string) (int, error) {
	for i, c := range r.Columns {
		if c == name || strings.HasPrefix(c, name+" [") {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
}

// Series returns the values of one column.
func (r *Results) Series(name string) ([]float64, error) {
	i, err := r.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(r.Values))
	for j, row := range r.Values {
		out[j] = row[i]
	}
	return out, nil
}

// OpenResults opens the raw results.csv of a run.
func (s *Store) OpenResults(runID string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.baseDir, runID, resultsFile))
}

func (s *Store) LoadResults(runID string) (*Results, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, resultsFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	res := &Results{}
	if len(records) == 0 {
		return res, nil
	}
	res.Columns = append(res.Columns, records[0][1:]...)
	for _, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			continue
		}
		row := make([]float64, len(res.Columns))
		for i := range row {
			row[i] = math.NaN()
			if i+1 < len(rec) {
				if v, err := strconv.ParseFloat(rec[i+1], 64); err == nil {
					row[i] = v
				}
			}
		}
		res.Times = append(res.Times, t)
		res.Values = append(res.Values, row)
	}
	return res, nil
}
