package batch

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestFindDuplicatesDryRunLeavesFilesIntact(t *testing.T) {
	folderA := t.TempDir()
	folderB := t.TempDir()

	writeFile(t, folderA, "x.xml", "same-bytes")
	writeFile(t, folderA, "y.xml", "unique-a")
	writeFile(t, folderB, "x.xml", "same-bytes")
	writeFile(t, folderB, "z.xml", "unique-b")

	pairs, removed, err := FindDuplicates(folderA, folderB, ".xml", true)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if removed != 0 {
		t.Errorf("dry run must not remove files, got removed=%d", removed)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected exactly 1 duplicate pair, got %d", len(pairs))
	}
	if pairs[0].FileBName != "x.xml" || pairs[0].MatchesWithName != "x.xml" {
		t.Errorf("unexpected pair: %+v", pairs[0])
	}

	for _, name := range []string{"x.xml", "z.xml"} {
		if _, err := os.Stat(filepath.Join(folderB, name)); err != nil {
			t.Errorf("expected %s to remain on disk after dry run: %v", name, err)
		}
	}
}

func TestFindDuplicatesRealRunDeletesFromFolderB(t *testing.T) {
	folderA := t.TempDir()
	folderB := t.TempDir()

	writeFile(t, folderA, "x.xml", "same-bytes")
	writeFile(t, folderB, "x.xml", "same-bytes")
	writeFile(t, folderB, "z.xml", "unique-b")

	pairs, removed, err := FindDuplicates(folderA, folderB, ".xml", false)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if removed != 1 || len(pairs) != 1 {
		t.Fatalf("expected 1 duplicate removed, got pairs=%d removed=%d", len(pairs), removed)
	}

	if _, err := os.Stat(filepath.Join(folderB, "x.xml")); !os.IsNotExist(err) {
		t.Errorf("expected x.xml removed from folder B")
	}
	if _, err := os.Stat(filepath.Join(folderB, "z.xml")); err != nil {
		t.Errorf("expected z.xml to remain: %v", err)
	}
}

func TestFindDuplicatesNoMatches(t *testing.T) {
	folderA := t.TempDir()
	folderB := t.TempDir()

	writeFile(t, folderA, "a.xml", "alpha")
	writeFile(t, folderB, "b.xml", "beta")

	pairs, removed, err := FindDuplicates(folderA, folderB, ".xml", false)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(pairs) != 0 || removed != 0 {
		t.Errorf("expected no duplicates, got pairs=%d removed=%d", len(pairs), removed)
	}
}
