package runlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func entry(runID, kind, name string, rmse float64) Entry {
	return Entry{
		RunID:     runID,
		Kind:      kind,
		Name:      name,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Values:    map[string]float64{"rmse": rmse},
		Labels:    map[string]string{"params": "n_estimators=200"},
	}
}

func TestFileStore_AppendList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	for i, name := range []string{"trial-0", "trial-1"} {
		if err := store.Append(ctx, entry("run-a", KindTrial, name, float64(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(ctx, entry("run-b", KindMetric, "model", 9)); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx, "run-a")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "trial-0" || got[1].Values["rmse"] != 1 {
		t.Errorf("entries = %+v", got)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening appends to the same ledger.
	store, err = NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Append(ctx, entry("run-a", KindArtifact, "gbt_model", 0)); err != nil {
		t.Fatal(err)
	}
	got, _ = store.List(ctx, "run-a")
	if len(got) != 3 || got[2].Kind != KindArtifact {
		t.Errorf("after reopen entries = %+v", got)
	}
}

func TestReplay_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), LedgerFile)
	data := `{"run_id":"r","kind":"trial","name":"a","timestamp":"2024-05-01T10:00:00Z"}
not json
{"run_id":"r","kind":"trial","name":"b","timestamp":"2024-05-01T10:00:00Z"}
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}

	entries, err = Replay(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil || entries != nil {
		t.Errorf("missing file = (%v, %v), want (nil, nil)", entries, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	store.Append(ctx, entry("r", KindStage, "features", 0))
	if got, _ := store.List(ctx, "r"); len(got) != 1 {
		t.Errorf("memory store holds %d entries, want 1", len(got))
	}

	nop, err := Open(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := nop.(Nop); !ok {
		t.Errorf("empty backend should open Nop, got %T", nop)
	}

	if _, err := Open(ctx, Config{Backend: "kafka"}); err == nil {
		t.Error("unknown backend should fail")
	}

	fs, err := Open(ctx, Config{Backend: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	fs.Close()
}
