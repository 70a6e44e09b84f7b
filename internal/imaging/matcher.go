// Package imaging implements TemplateStore and ImageMatcher (spec.md
// §4.3-§4.4). No OpenCV-Go binding appears anywhere in the retrieval pack
// (cgo bindings for OpenCV aren't represented in this corpus at all), so
// the normalized-cross-correlation matcher itself is hand-rolled against
// the standard library's image package — this is core domain math, not an
// ambient concern with an obvious library home. See DESIGN.md.
package imaging

import (
	"image"
	"image/draw"
	"math"
)

// Match is one located occurrence of a needle in a haystack: (x, y) is the
// needle's top-left corner in haystack coordinates, Confidence is the
// normalized correlation in [-1, 1].
type Match struct {
	X          int
	Y          int
	Confidence float64
}

// Center returns the midpoint of the matched region, used by on_match_action
// = tap_center and by loop_click/find_all_click's tap targets.
func (m Match) Center(w, h int) (int, int) {
	return m.X + w/2, m.Y + h/2
}

// grayBuffer is a decoded, luma-only pixel buffer used for matching.
type grayBuffer struct {
	w, h int
	px   []float64
}

func toGray(img image.Image) grayBuffer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)

	px := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x := 0; x < w; x++ {
			px[y*w+x] = float64(row[x])
		}
	}
	return grayBuffer{w: w, h: h, px: px}
}

func (g grayBuffer) at(x, y int) float64 { return g.px[y*g.w+x] }

// Rescale resizes a haystack to the workflow's declared resolution using
// nearest-neighbor sampling (spec.md §4.4: rescale the haystack, not the
// template, since templates are authored at a fixed canonical resolution).
func Rescale(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sx := float64(b.Dx()) / float64(width)
	sy := float64(b.Dy()) / float64(height)
	for y := 0; y < height; y++ {
		srcY := b.Min.Y + int(float64(y)*sy)
		for x := 0; x < width; x++ {
			srcX := b.Min.X + int(float64(x)*sx)
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// Matcher runs normalized cross-correlation template matching, the Go
// stand-in for OpenCV's cv2.matchTemplate(..., TM_CCOEFF_NORMED).
type Matcher struct{}

func NewMatcher() *Matcher { return &Matcher{} }

// MatchAll returns every match whose confidence is >= threshold, after
// non-maximum suppression with radius = min(needle_w, needle_h)/2
// (spec.md §4.4), sorted by descending confidence.
func (m *Matcher) MatchAll(haystack, needle image.Image, threshold float64) []Match {
	hg := toGray(haystack)
	ng := toGray(needle)
	if ng.w > hg.w || ng.h > hg.h || ng.w == 0 || ng.h == 0 {
		return nil
	}

	nMean, nVar := meanVar(ng.px)
	if nVar == 0 {
		return nil
	}

	var raw []Match
	for y := 0; y <= hg.h-ng.h; y++ {
		for x := 0; x <= hg.w-ng.w; x++ {
			conf := correlationAt(hg, ng, x, y, nMean, nVar)
			if conf >= threshold {
				raw = append(raw, Match{X: x, Y: y, Confidence: conf})
			}
		}
	}

	radius := ng.w
	if ng.h < radius {
		radius = ng.h
	}
	radius /= 2

	return nonMaxSuppress(raw, radius)
}

// BestMatch returns the single highest-confidence match, or ok=false if
// none clears threshold.
func (m *Matcher) BestMatch(haystack, needle image.Image, threshold float64) (Match, bool) {
	hg := toGray(haystack)
	ng := toGray(needle)
	if ng.w > hg.w || ng.h > hg.h || ng.w == 0 || ng.h == 0 {
		return Match{}, false
	}

	nMean, nVar := meanVar(ng.px)
	if nVar == 0 {
		return Match{}, false
	}

	best := Match{Confidence: -2}
	for y := 0; y <= hg.h-ng.h; y++ {
		for x := 0; x <= hg.w-ng.w; x++ {
			conf := correlationAt(hg, ng, x, y, nMean, nVar)
			if conf > best.Confidence {
				best = Match{X: x, Y: y, Confidence: conf}
			}
		}
	}
	if best.Confidence < threshold {
		return Match{}, false
	}
	return best, true
}

func meanVar(px []float64) (float64, float64) {
	var sum float64
	for _, v := range px {
		sum += v
	}
	mean := sum / float64(len(px))
	var variance float64
	for _, v := range px {
		d := v - mean
		variance += d * d
	}
	return mean, variance
}

// correlationAt computes Pearson correlation between the needle and the
// haystack window at (x, y), i.e. TM_CCOEFF_NORMED.
func correlationAt(hg, ng grayBuffer, x, y int, nMean, nVar float64) float64 {
	var hSum float64
	for wy := 0; wy < ng.h; wy++ {
		for wx := 0; wx < ng.w; wx++ {
			hSum += hg.at(x+wx, y+wy)
		}
	}
	hMean := hSum / float64(ng.w*ng.h)

	var num, hVar float64
	for wy := 0; wy < ng.h; wy++ {
		for wx := 0; wx < ng.w; wx++ {
			hd := hg.at(x+wx, y+wy) - hMean
			nd := ng.at(wx, wy) - nMean
			num += hd * nd
			hVar += hd * hd
		}
	}
	denom := math.Sqrt(hVar * nVar)
	if denom == 0 {
		return 0
	}
	return num / denom
}

func nonMaxSuppress(matches []Match, radius int) []Match {
	if len(matches) == 0 {
		return nil
	}
	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	// descending by confidence
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Confidence > sorted[j-1].Confidence; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var kept []Match
	for _, cand := range sorted {
		suppressed := false
		for _, k := range kept {
			dx := cand.X - k.X
			dy := cand.Y - k.Y
			if dx*dx+dy*dy <= radius*radius {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}
