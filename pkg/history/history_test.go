package history

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(Memory, Options{})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if store.RunID() == "" {
		t.Fatal("expected a generated run id")
	}
	if err := store.Record([]float64{1, 2}, []float64{0.5}, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries := store.(*MemoryStore).Entries()
	if len(entries) != 1 || entries[0].X[1] != 2 || entries[0].Residuals[0] != 0.5 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, err := Open("parquet", Options{}); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore("run")
	x := []float64{1}
	_ = s.Record(x, nil, nil)
	x[0] = 5
	if got := s.Entries()[0].X[0]; got != 1 {
		t.Fatalf("stored x = %v", got)
	}
}

func TestCSVStoreSaveInterval(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCSVStore(Options{Path: dir, RunID: "r1", SaveInterval: 2, Variables: []string{"k_e@3", "phi_0_rel@3"}})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_ = store.Record([]float64{1, 0.1}, []float64{0.3, -0.2}, []float64{-1, 0.5})
	if _, err := os.Stat(filepath.Join(dir, SettingsFile)); !os.IsNotExist(err) {
		t.Fatalf("settings written before the save interval: %v", err)
	}
	_ = store.Record([]float64{1.1, 0.2}, []float64{0.1, 0.05}, []float64{-1, -0.5})
	_ = store.Record([]float64{1.2, 0.3}, []float64{0.01, 0}, []float64{-2, -0.1})
	entries, err := LoadCSV(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries after one save, want 2", len(entries))
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, err = LoadCSV(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Entry{Index: 2, RunID: "r1", X: []float64{1.2, 0.3}, Residuals: []float64{0.01, 0}, Constraints: []float64{-2, -0.1}}
	if len(entries) != 3 || !reflect.DeepEqual(entries[2], want) {
		t.Fatalf("entries = %+v", entries)
	}

	raw, err := os.ReadFile(filepath.Join(dir, SettingsFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(raw[:len("index,run_id,k_e@3,phi_0_rel@3")]); got != "index,run_id,k_e@3,phi_0_rel@3" {
		t.Fatalf("header = %q", got)
	}
}

func TestCSVStoreReplacesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	first, _ := NewCSVStore(Options{Path: dir, RunID: "old"})
	_ = first.Record([]float64{1}, []float64{1}, nil)
	_ = first.Close()

	second, err := NewCSVStore(Options{Path: dir, RunID: "new"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_ = second.Record([]float64{2}, []float64{2}, nil)
	_ = second.Close()

	entries, err := LoadCSV(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "new" || entries[0].Constraints != nil {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestTee(t *testing.T) {
	dir := t.TempDir()
	primary, err := NewCSVStore(Options{Path: dir, RunID: "disk"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	mirror := NewMemoryStore("mirror")
	store := Tee(primary, mirror)
	if store.RunID() != "disk" {
		t.Fatalf("run id = %s", store.RunID())
	}
	_ = store.Record([]float64{1}, []float64{0.5}, nil)
	_ = store.Record([]float64{2}, []float64{0.25}, nil)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	onDisk, err := LoadCSV(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(onDisk) != 2 || len(mirror.Entries()) != 2 || mirror.Entries()[1].Residuals[0] != 0.25 {
		t.Fatalf("disk = %+v, memory = %+v", onDisk, mirror.Entries())
	}
}
