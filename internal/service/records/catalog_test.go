package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRecordFile(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestCatalog_ListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	writeRecordFile(t, dir, "meeting_analysis_a.json", base)
	writeRecordFile(t, dir, "meeting_analysis_b.json", base.Add(2*time.Hour))
	writeRecordFile(t, dir, "meeting_analysis_c.json", base.Add(time.Hour))
	writeRecordFile(t, dir, "notes.txt", base.Add(3*time.Hour))

	catalog := NewCatalog(dir)
	entries, err := catalog.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	expected := []string{"meeting_analysis_b.json", "meeting_analysis_c.json", "meeting_analysis_a.json"}
	if len(entries) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(entries))
	}
	for i, name := range expected {
		if entries[i].Name != name {
			t.Errorf("entry %d: expected %s, got %s", i, name, entries[i].Name)
		}
	}
	if entries[0].JobID != "b" {
		t.Errorf("expected job id b, got %s", entries[0].JobID)
	}
	if entries[0].SizeBytes != 2 {
		t.Errorf("expected size 2, got %d", entries[0].SizeBytes)
	}
}

func TestCatalog_ListMissingDir(t *testing.T) {
	catalog := NewCatalog(filepath.Join(t.TempDir(), "missing"))
	if _, err := catalog.List(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestCatalog_WatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	catalog := NewCatalog(dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- catalog.Watch(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		catalog.mu.RLock()
		watching := catalog.watching
		catalog.mu.RUnlock()
		if watching {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(dir, "meeting_analysis_new.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		entries, _ := catalog.List()
		if len(entries) == 1 && entries[0].Name == "meeting_analysis_new.json" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected new record in catalog, got %v", entries)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected watch error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("watch did not stop")
	}
}
