package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, true)

	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("fresh load: ok=%v err=%v", ok, err)
	}

	if err := store.Save(1234); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 1234 {
		t.Fatalf("LastProcessedBlock = %d, want 1234", cp.LastProcessedBlock)
	}
	if cp.Version != checkpointVersion {
		t.Fatalf("Version = %d, want %d", cp.Version, checkpointVersion)
	}
}

func TestCheckpointDisabled(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"), false)
	if err := store.Save(1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("disabled load: ok=%v err=%v", ok, err)
	}
}

func TestCheckpointRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	data := []byte(`{"version": 99, "last_processed_block": 10}`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewCheckpointStore(path, true)
	if _, _, err := store.Load(); err == nil {
		t.Fatalf("expected version error")
	}
}
