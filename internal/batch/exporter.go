package batch

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitfield/script"
)

// ExportAccounts bundles every matching account file under folder into a
// single zip at destZip, for operators moving a batch between machines.
// This is the AccountExporter batch utility, exposed as an "export"
// endpoint alongside duplicate-find.
func ExportAccounts(folder, ext, destZip string) (int, error) {
	if ext == "" {
		ext = ".xml"
	}
	paths, err := script.ListFiles(filepath.Join(folder, "*"+ext)).Slice()
	if err != nil {
		return 0, fmt.Errorf("scan export folder: %w", err)
	}

	out, err := os.Create(destZip)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, p := range paths {
		if err := addFileToZip(zw, p); err != nil {
			return 0, fmt.Errorf("add %s to export: %w", p, err)
		}
	}
	return len(paths), nil
}

func addFileToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
