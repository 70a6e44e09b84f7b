package workflow

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// defaultFuzzyThreshold matches original_source's ocr_service.fuzzy_match
// default similarity cutoff.
const defaultFuzzyThreshold = 0.6

// ErrStopGroup signals that a step inside a repeat_group's driven group
// wants the enclosing repeat_group to stop after this iteration without
// being a failure, mirroring original_source's StopIteration("GACHA_MATCH")
// (SPEC_FULL.md D.1).
var ErrStopGroup = fmt.Errorf("stop enclosing repeat_group")

// TextExtractor pulls text out of a cropped screen region for gacha_check
// (SPEC_FULL.md D.1). No OCR backend ships in this tree — no Tesseract or
// other OCR binding appears anywhere in the retrieval pack, and spec.md §1
// excludes OCR from the hot path — but the interface lets a real backend be
// wired in later without the interpreter changing.
type TextExtractor interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
}

// NullExtractor is the default TextExtractor: it never recognizes text, so
// gacha_check always falls through without a match until a real backend is
// configured.
type NullExtractor struct{}

func (NullExtractor) ExtractText(ctx context.Context, img image.Image) (string, error) {
	return "", nil
}

// FuzzyMatch returns the target with the highest Levenshtein-normalized
// similarity to text, provided that similarity clears threshold
// (SPEC_FULL.md D.1). No Levenshtein library appears anywhere in the
// retrieval pack, so this is hand-rolled the same way internal/imaging's
// NCC matcher is, rather than adopting a dependency none of the examples
// ground.
func FuzzyMatch(text string, targets []string, threshold float64) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" || len(targets) == 0 {
		return "", false
	}
	best := ""
	bestSim := -1.0
	for _, target := range targets {
		t := strings.ToLower(strings.TrimSpace(target))
		if t == "" {
			continue
		}
		sim := similarity(text, t)
		if sim > bestSim {
			bestSim = sim
			best = target
		}
	}
	if bestSim >= threshold {
		return best, true
	}
	return "", false
}

func similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes the classic edit distance with a two-row dynamic
// program, operating on runes so multi-byte characters count as one edit.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}
