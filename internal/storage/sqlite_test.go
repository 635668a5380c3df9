package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/san-kum/mastersim/internal/slave"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteSink(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Write(0, nil); err == nil {
		t.Error("expected error writing before begin")
	}
	if err := db.Begin("run-1", sampleColumns); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	for _, r := range sampleRows {
		if err := db.Write(r.t, r.row); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := db.Write(2, sampleRows[0].row[:2]); err == nil {
		t.Error("expected error for short row")
	}

	times, values, err := db.Series(ctx, "run-1", "src", "y")
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 3 || times[2] != 1 || values[1] != 2.25 {
		t.Errorf("unexpected series %v %v", times, values)
	}
	_, labels, err := db.Series(ctx, "run-1", "label", "s")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(labels[0]) {
		t.Errorf("expected NaN for strings, got %v", labels)
	}
	if _, _, err := db.Series(ctx, "run-1", "ghost", "y"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}

	status, err := db.Status(ctx, "run-1")
	if err != nil || status != StatusRunning {
		t.Errorf("expected running, got %q (%v)", status, err)
	}
	if err := db.Finish(StatusCompleted, nil); err != nil {
		t.Fatal(err)
	}
	status, _ = db.Status(ctx, "run-1")
	if status != StatusCompleted {
		t.Errorf("expected completed, got %q", status)
	}
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Begin("first", sampleColumns[:1]); err != nil {
		t.Fatal(err)
	}
	db.Write(0, []slave.Value{slave.RealValue(7)})
	db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	_, values, err := db.Series(context.Background(), "first", "src", "y")
	if err != nil {
		t.Fatal(err)
	}
	if values[0] != 7 {
		t.Errorf("expected 7, got %v", values)
	}
	if err := db.Begin("first", sampleColumns[:1]); err == nil {
		t.Error("expected duplicate run id to fail")
	}
}
