package queue

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAccountFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("account-data-"+n), 0644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
}

func TestLoadOrdersLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeAccountFiles(t, dir, "c.xml", "a.xml", "b.xml")

	q := New()
	count, err := q.Load(dir, ".xml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 tasks, got %d", count)
	}

	snap := q.Snapshot()
	got := []string{snap[0].Filename, snap[1].Filename, snap[2].Filename}
	want := []string{"a.xml", "b.xml", "c.xml"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestClaimIsExclusive(t *testing.T) {
	dir := t.TempDir()
	writeAccountFiles(t, dir, "a.xml")

	q := New()
	if _, err := q.Load(dir, ".xml"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	first := q.Claim("emu-1")
	if first == nil {
		t.Fatalf("expected a task")
	}
	second := q.Claim("emu-2")
	if second != nil {
		t.Fatalf("expected no second claimable task while first is running")
	}
}

func TestCompleteClearsRunningAndCountsProcessed(t *testing.T) {
	dir := t.TempDir()
	writeAccountFiles(t, dir, "a.xml", "b.xml")

	q := New()
	q.Load(dir, ".xml")

	task := q.Claim("emu-1")
	if err := q.Complete(task.Filename, true, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	processed, total := q.Counts()
	if processed != 1 || total != 2 {
		t.Fatalf("got processed=%d total=%d, want 1,2", processed, total)
	}

	snap := q.Snapshot()
	for _, tk := range snap {
		if tk.Filename == task.Filename {
			if tk.RunningOnDevice != "" {
				t.Errorf("expected RunningOnDevice cleared after Complete")
			}
			if !tk.Success {
				t.Errorf("expected Success=true")
			}
		}
	}
}

func TestResetRunningPreservesProcessed(t *testing.T) {
	dir := t.TempDir()
	writeAccountFiles(t, dir, "a.xml", "b.xml")

	q := New()
	q.Load(dir, ".xml")

	done := q.Claim("emu-1")
	q.Complete(done.Filename, true, "")
	inFlight := q.Claim("emu-2")

	q.ResetRunning()

	snap := q.Snapshot()
	for _, tk := range snap {
		if tk.Filename == done.Filename && !tk.Processed {
			t.Errorf("ResetRunning must not touch completed tasks")
		}
		if tk.Filename == inFlight.Filename && tk.RunningOnDevice != "" {
			t.Errorf("ResetRunning must clear running_on_device on incomplete tasks")
		}
	}
}

func TestMarkBuggedDeletesFileAndDropsUnprocessedTask(t *testing.T) {
	dir := t.TempDir()
	writeAccountFiles(t, dir, "a.xml", "b.xml")

	q := New()
	q.Load(dir, ".xml")

	if err := q.MarkBugged("a.xml"); err != nil {
		t.Fatalf("MarkBugged: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "a.xml")); !os.IsNotExist(err) {
		t.Errorf("expected a.xml removed from disk")
	}

	_, total := q.Counts()
	if total != 1 {
		t.Errorf("expected bugged task dropped from queue, total=%d", total)
	}
}
