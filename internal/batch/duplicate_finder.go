// Package batch implements DuplicateFinder and AccountExporter, two
// filesystem utilities built on top of DeviceChannel-adjacent account
// files (spec.md §4.9).
package batch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitfield/script"
)

// DuplicatePair is one detected duplicate: fileB's name and the name in
// folder A it matches content with.
type DuplicatePair struct {
	FileBName     string
	MatchesWithName string
}

// FindDuplicates hashes every file in folders A (master) and B and reports
// B files whose content matches any A file. When dryRun, no files are
// deleted. Content hash is SHA-256 over raw bytes (spec.md §4.9), computed
// with bitfield/script rather than a hand-rolled hasher.
func FindDuplicates(folderA, folderB, ext string, dryRun bool) ([]DuplicatePair, int, error) {
	if ext == "" {
		ext = ".xml"
	}

	hashesA, err := hashFolder(folderA, ext)
	if err != nil {
		return nil, 0, fmt.Errorf("hash folder A: %w", err)
	}
	byHash := make(map[string]string, len(hashesA))
	for name, h := range hashesA {
		byHash[h] = name
	}

	hashesB, err := hashFolder(folderB, ext)
	if err != nil {
		return nil, 0, fmt.Errorf("hash folder B: %w", err)
	}

	var pairs []DuplicatePair
	for nameB, h := range hashesB {
		if nameA, ok := byHash[h]; ok {
			pairs = append(pairs, DuplicatePair{FileBName: nameB, MatchesWithName: nameA})
		}
	}

	removed := 0
	if !dryRun {
		for _, p := range pairs {
			if err := os.Remove(filepath.Join(folderB, p.FileBName)); err != nil {
				return pairs, removed, fmt.Errorf("remove duplicate %s: %w", p.FileBName, err)
			}
			removed++
		}
	}
	return pairs, removed, nil
}

func hashFolder(folder, ext string) (map[string]string, error) {
	paths, err := script.ListFiles(filepath.Join(folder, "*"+ext)).Slice()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		h, err := script.File(p).SHA256Sum()
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", p, err)
		}
		out[filepath.Base(p)] = h
	}
	return out, nil
}
