package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/san-kum/mastersim/internal/slave"
)

var sampleColumns = []Column{
	{SlaveIndex: 0, Slave: "src", Variable: "y", Unit: "m", Type: slave.Real},
	{SlaveIndex: 1, Slave: "counter", Variable: "n", Type: slave.Integer},
	{SlaveIndex: 2, Slave: "flag", Variable: "on", Type: slave.Boolean},
	{SlaveIndex: 3, Slave: "label", Variable: "s", Type: slave.String},
}

type sampleRow struct {
	t   float64
	row []slave.Value
}

var sampleRows = []sampleRow{
	{0, []slave.Value{slave.RealValue(1.5), slave.IntValue(0), slave.BoolValue(false), slave.StringValue("idle")}},
	{0.5, []slave.Value{slave.RealValue(2.25), slave.IntValue(1), slave.BoolValue(true), slave.StringValue("a,b")}},
	{1, []slave.Value{slave.RealValue(3), slave.IntValue(2), slave.BoolValue(false), slave.StringValue("done")}},
}

func writeSample(t *testing.T, st *Store, id string) *RunWriter {
	t.Helper()
	w, err := st.Create(RunMetadata{ID: id, Project: "sample", TEnd: 1})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := w.Begin(id, sampleColumns); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	for _, r := range sampleRows {
		if err := w.Write(r.t, r.row); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	return w
}

func TestResultsCSVGolden(t *testing.T) {
	st := New(t.TempDir())
	w := writeSample(t, st, "golden")
	if err := w.Finish(StatusCompleted, nil, nil); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), resultsFile))
	if err != nil {
		t.Fatal(err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "results", data)
}

func TestRowsSurviveFailedRun(t *testing.T) {
	st := New(t.TempDir())
	w := writeSample(t, st, "partial")

	// Rows are on disk before the run is finished.
	res, err := st.LoadResults("partial")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(res.Times) != 3 {
		t.Fatalf("expected 3 rows before finish, got %d", len(res.Times))
	}

	if err := w.Finish(StatusFailed, errors.New("step size underflow"), map[string]float64{"steps": 2}); err != nil {
		t.Fatal(err)
	}
	meta, err := st.Load("partial")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != StatusFailed || meta.Error != "step size underflow" {
		t.Errorf("unexpected status %q, error %q", meta.Status, meta.Error)
	}
	if meta.Stats["steps"] != 2 {
		t.Errorf("expected stats to be kept, got %v", meta.Stats)
	}
	if len(meta.Columns) != 4 || meta.Columns[0] != "src.y [m]" {
		t.Errorf("unexpected columns %v", meta.Columns)
	}
}

func TestLoadResults(t *testing.T) {
	st := New(t.TempDir())
	w := writeSample(t, st, "load")
	w.Finish(StatusCompleted, nil, nil)

	res, err := st.LoadResults("load")
	if err != nil {
		t.Fatal(err)
	}
	y, err := res.Series("src.y")
	if err != nil {
		t.Fatal(err)
	}
	if y[1] != 2.25 {
		t.Errorf("expected 2.25, got %f", y[1])
	}
	flags, _ := res.Series("flag.on")
	if flags[1] != 1 {
		t.Errorf("expected boolean stored as 1, got %f", flags[1])
	}
	labels, _ := res.Series("label.s")
	if !math.IsNaN(labels[0]) {
		t.Errorf("expected NaN for string cell, got %f", labels[0])
	}
	if _, err := res.Series("nope.x"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestBeginChecksRunID(t *testing.T) {
	st := New(t.TempDir())
	w, err := st.Create(RunMetadata{ID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Finish(StatusFailed, nil, nil)
	if err := w.Begin("b", sampleColumns); err == nil {
		t.Error("expected error for mismatched run id")
	}
	if _, err := st.Create(RunMetadata{}); err == nil {
		t.Error("expected error for empty run id")
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		w, err := st.Create(RunMetadata{ID: id, Timestamp: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatal(err)
		}
		w.Finish(StatusCompleted, nil, nil)
	}
	os.MkdirAll(filepath.Join(tmpDir, "junk"), 0755)

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "new" {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}
}

func TestExportJSON(t *testing.T) {
	st := New(t.TempDir())
	w := writeSample(t, st, "export")
	w.Finish(StatusCompleted, nil, nil)
	meta, _ := st.Load("export")
	res, _ := st.LoadResults("export")

	var buf bytes.Buffer
	if err := ExportJSON(&buf, *meta, res); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Run    RunMetadata  `json:"run"`
		Times  []float64    `json:"times"`
		Values [][]*float64 `json:"values"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Run.ID != "export" || len(got.Times) != 3 {
		t.Errorf("unexpected export %+v", got)
	}
	if got.Values[0][3] != nil {
		t.Error("string cells should export as null")
	}
	if got.Values[2][0] == nil || *got.Values[2][0] != 3 {
		t.Error("expected numeric cell 3")
	}
}
