package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"pricescraper/pkg/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return mgr
}

func TestOpenCreatesAndResumes(t *testing.T) {
	mgr := newTestManager(t)

	cp, err := mgr.Open("2026-03", "run-1")
	if err != nil {
		t.Fatalf("Failed to open checkpoint: %v", err)
	}
	if cp.Period != "2026-03" || cp.RunID != "run-1" || cp.Version != 1 {
		t.Errorf("Unexpected fresh checkpoint %+v", cp)
	}
	if _, err := os.Stat(mgr.Path("2026-03")); err != nil {
		t.Fatalf("Expected checkpoint file on disk: %v", err)
	}

	if err := mgr.Record(cp, "veh-1", OutcomePersisted); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}
	if err := mgr.Record(cp, "veh-2", "failed"); err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	resumed, err := mgr.Open("2026-03", "run-2")
	if err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}
	if resumed.RunID != "run-2" {
		t.Errorf("Expected run id to follow the new run, got %s", resumed.RunID)
	}
	if !resumed.Done("veh-1") {
		t.Error("veh-1 should be done")
	}
	if resumed.Done("veh-2") {
		t.Error("failed vehicles must be retried on resume")
	}
	if resumed.Persisted != 1 {
		t.Errorf("Expected 1 persisted, got %d", resumed.Persisted)
	}
}

func TestRecordCountsPersistedOnce(t *testing.T) {
	mgr := newTestManager(t)
	cp, _ := mgr.Open("2026-04", "run")

	for i := 0; i < 3; i++ {
		if err := mgr.Record(cp, "veh-1", OutcomePersisted); err != nil {
			t.Fatal(err)
		}
	}
	if cp.Persisted != 1 {
		t.Errorf("Expected 1 persisted, got %d", cp.Persisted)
	}
}

func TestLoadMissingPeriod(t *testing.T) {
	mgr := newTestManager(t)

	cp, err := mgr.Load("1999-01")
	if err != nil || cp != nil {
		t.Errorf("Expected nil, nil for a missing period, got %v, %v", cp, err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	mgr := newTestManager(t)
	if err := os.WriteFile(mgr.Path("2026-05"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Load("2026-05"); err == nil {
		t.Error("Expected a decode error")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	mgr := newTestManager(t)
	cp, _ := mgr.Open("2026-06", "run")
	if err := mgr.Save(cp); err != nil {
		t.Fatal(err)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(mgr.Path("2026-06")), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("Expected no temp files, found %v", matches)
	}
}

func TestDelete(t *testing.T) {
	mgr := newTestManager(t)
	cp, _ := mgr.Open("2026-07", "run")

	if err := mgr.Delete(cp.Period); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(mgr.Path("2026-07")); !os.IsNotExist(err) {
		t.Error("Expected checkpoint file to be gone")
	}
	// deleting twice is fine
	if err := mgr.Delete(cp.Period); err != nil {
		t.Errorf("Second delete failed: %v", err)
	}
}

func TestDefaultDirectoryUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	mgr, err := NewManager("", nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if filepath.Dir(mgr.Path("2026-01")) != filepath.Join(dir, "pricescraper", "checkpoints") && os.Getenv("APPDATA") == "" {
		t.Skip("platform data directory is not XDG based")
	}
}
