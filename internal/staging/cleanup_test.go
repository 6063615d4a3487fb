package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	root := t.TempDir()

	oldDir := filepath.Join(root, "job-old")
	if err := os.Mkdir(oldDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	freshDir := filepath.Join(root, "job-fresh")
	if err := os.Mkdir(freshDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	loosePath := filepath.Join(root, "stray-file")
	if err := os.WriteFile(loosePath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result := CleanStale(root, 24*time.Hour, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %#v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("fresh directory should survive: %v", err)
	}
	if _, err := os.Stat(loosePath); err != nil {
		t.Fatalf("loose file should survive: %v", err)
	}
}

func TestCleanStaleHandlesMissingRoot(t *testing.T) {
	result := CleanStale(filepath.Join(t.TempDir(), "missing"), time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected no-op for missing root, got %#v", result)
	}
}

func TestCleanOrphanedKeepsActiveJobs(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"job-active", "job-done"} {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	active := map[string]struct{}{"job-active": {}}
	result := CleanOrphaned(root, active, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %#v", result.Errors)
	}
	if len(result.Removed) != 1 || filepath.Base(result.Removed[0]) != "job-done" {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(filepath.Join(root, "job-active")); err != nil {
		t.Fatalf("active directory should survive: %v", err)
	}
}

func TestCleanEmptyRootIsNoop(t *testing.T) {
	if result := CleanStale("", time.Hour, nil); len(result.Removed) != 0 {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if result := CleanOrphaned("   ", nil, nil); len(result.Removed) != 0 {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
}
