package imaging

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Template is a persisted, named needle image (spec.md §3). Immutable once
// captured; a same-name replacement writes a new file and a new row with a
// timestamp suffix, per spec.md §4.3.
type Template struct {
	ID       int64
	Name     string
	FilePath string
	Width    int
	Height   int
}

// Screenshotter is the minimal capability TemplateStore.Capture needs from
// a device — satisfied by *adb.DeviceChannel without imaging importing adb.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Region is a capture rectangle in device pixel coordinates.
type Region struct {
	X, Y, Width, Height int
}

// TemplateStore persists templates under a content root, backed by SQLite
// for metadata, matching the teacher's config/database.go persistence
// pattern (spec.md §4.3).
type TemplateStore struct {
	db   *sql.DB
	root string

	mu    sync.RWMutex
	cache map[string]image.Image // name -> decoded pixels
}

func NewTemplateStore(db *sql.DB, root string) (*TemplateStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template root: %w", err)
	}
	return &TemplateStore{db: db, root: root, cache: make(map[string]image.Image)}, nil
}

// Capture screenshots the device, crops region, writes a PNG under root,
// and records a new row. A capture with a name already in use is treated
// as a replacement: the old row and file are retained, and the new file
// gets a timestamp suffix so `name` still resolves to something, but
// callers should re-List() to see the newest id.
func (s *TemplateStore) Capture(ctx context.Context, dev Screenshotter, name string, region Region) (*Template, error) {
	raw, err := dev.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot for capture failed: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	crop := image.NewRGBA(image.Rect(0, 0, region.Width, region.Height))
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			crop.Set(x, y, img.At(region.X+x, region.Y+y))
		}
	}

	filename := fmt.Sprintf("%s_%s.png", name, time.Now().Format("20060102_150405"))
	fpath := filepath.Join(s.root, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return nil, err
	}
	if err := png.Encode(f, crop); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (name, file_path, width, height, region_x, region_y, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, fpath, region.Width, region.Height, region.X, region.Y, time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()

	s.mu.Lock()
	s.cache[name] = crop
	s.mu.Unlock()

	return &Template{ID: id, Name: name, FilePath: fpath, Width: region.Width, Height: region.Height}, nil
}

// List returns every template row, most recent first.
func (s *TemplateStore) List(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, file_path, width, height FROM templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.FilePath, &t.Width, &t.Height); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get resolves a template by name, most recently captured wins.
func (s *TemplateStore) Get(ctx context.Context, name string) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, file_path, width, height FROM templates WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name)
	var t Template
	if err := row.Scan(&t.ID, &t.Name, &t.FilePath, &t.Width, &t.Height); err != nil {
		return nil, fmt.Errorf("template %q not found: %w", name, err)
	}
	return &t, nil
}

// Load decodes and caches the pixel buffer for a named template.
func (s *TemplateStore) Load(ctx context.Context, name string) (image.Image, error) {
	s.mu.RLock()
	if img, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return img, nil
	}
	s.mu.RUnlock()

	t, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(t.FilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = img
	s.mu.Unlock()
	return img, nil
}
