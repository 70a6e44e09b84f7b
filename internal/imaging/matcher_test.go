package imaging

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Gray) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, c)
		}
	}
	return img
}

func pasteAt(dst *image.Gray, needle *image.Gray, x, y int) {
	for ny := 0; ny < needle.Bounds().Dy(); ny++ {
		for nx := 0; nx < needle.Bounds().Dx(); nx++ {
			dst.SetGray(x+nx, y+ny, needle.GrayAt(nx, ny))
		}
	}
}

func checkerNeedle(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 20})
			} else {
				img.SetGray(x, y, color.Gray{Y: 220})
			}
		}
	}
	return img
}

func TestBestMatchFindsExactPlacement(t *testing.T) {
	haystack := solidImage(100, 100, color.Gray{Y: 128})
	needle := checkerNeedle(10, 10)
	pasteAt(haystack, needle, 40, 55)

	m := NewMatcher()
	match, ok := m.BestMatch(haystack, needle, 0.98)
	if !ok {
		t.Fatalf("expected a match above threshold")
	}
	if match.X != 40 || match.Y != 55 {
		t.Errorf("expected match at (40,55), got (%d,%d)", match.X, match.Y)
	}
	if match.Confidence < 0.98 {
		t.Errorf("expected confidence >= 0.98, got %v", match.Confidence)
	}
}

func TestBestMatchBelowThresholdFails(t *testing.T) {
	haystack := solidImage(50, 50, color.Gray{Y: 128})
	needle := checkerNeedle(8, 8)

	m := NewMatcher()
	_, ok := m.BestMatch(haystack, needle, 0.98)
	if ok {
		t.Fatalf("expected no match against a flat haystack")
	}
}

func TestMatchAllSuppressesOverlaps(t *testing.T) {
	haystack := solidImage(120, 40, color.Gray{Y: 128})
	needle := checkerNeedle(10, 10)
	pasteAt(haystack, needle, 5, 5)
	pasteAt(haystack, needle, 60, 5)
	pasteAt(haystack, needle, 100, 5)

	m := NewMatcher()
	matches := m.MatchAll(haystack, needle, 0.95)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	seen := map[[2]int]bool{}
	for _, mt := range matches {
		seen[[2]int{mt.X, mt.Y}] = true
	}
	for _, want := range [][2]int{{5, 5}, {60, 5}, {100, 5}} {
		if !seen[want] {
			t.Errorf("missing expected match at %v", want)
		}
	}
}

func TestRescaleNoopWhenSameSize(t *testing.T) {
	img := solidImage(64, 64, color.Gray{Y: 10})
	out := Rescale(img, 64, 64)
	if out.Bounds().Dx() != 64 || out.Bounds().Dy() != 64 {
		t.Fatalf("unexpected rescale dimensions")
	}
}

func TestRescaleChangesDimensions(t *testing.T) {
	img := solidImage(200, 100, color.Gray{Y: 10})
	out := Rescale(img, 100, 50)
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 50 {
		t.Errorf("expected rescaled dims 100x50, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}
