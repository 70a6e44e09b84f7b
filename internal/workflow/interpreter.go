package workflow

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"androidfleet/internal/cancel"
	"androidfleet/internal/imaging"
)

// keycodeBack is the Android debug-bridge keyevent for the system back
// button (spec.md §6 "input keyevent 4").
const keycodeBack = 4

var gachaFilenameReplacer = strings.NewReplacer(" ", "_", "/", "_")

// Device is everything the interpreter needs from a single device. An
// *adb.DeviceChannel satisfies it without this package importing adb.
type Device interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x, y, ex, ey, durationMs int) error
	Key(ctx context.Context, keycode int) error
	LaunchApp(ctx context.Context, pkg string) error
	ForceStop(ctx context.Context, pkg string) error
	RestartGame(ctx context.Context, pkg string) error
	Shell(ctx context.Context, command string) (string, error)
	Pull(ctx context.Context, remotePath string) ([]byte, error)
}

// Templates resolves a named template to its decoded pixels.
type Templates interface {
	Load(ctx context.Context, name string) (image.Image, error)
}

// StepError is an unrecoverable step failure: the enclosing account is
// marked failed and the worker proceeds to the next account (spec.md §7).
type StepError struct {
	OrderIndex int
	StepType   StepType
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.OrderIndex, e.StepType, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrCancelled is returned by Run when the cancellation token fires
// mid-workflow; not a StepError, matching spec.md §7 "Cancellation — not
// an error; recorded as cancelled" by the caller.
var ErrCancelled = fmt.Errorf("workflow cancelled")

// Interpreter executes one Workflow against one Device (spec.md §4.6).
type Interpreter struct {
	templates         Templates
	matcher           *imaging.Matcher
	extractor         TextExtractor
	gamePkg           string
	accountRemotePath string
	coldStart         time.Duration
}

func NewInterpreter(templates Templates, matcher *imaging.Matcher, extractor TextExtractor, gamePkg, accountRemotePath string, coldStart time.Duration) *Interpreter {
	return &Interpreter{
		templates:         templates,
		matcher:           matcher,
		extractor:         extractor,
		gamePkg:           gamePkg,
		accountRemotePath: accountRemotePath,
		coldStart:         coldStart,
	}
}

// Run executes w's top-level steps in order (spec.md §4.6 "Step ordering").
// Steps belonging to a group are still executed inline here; repeat_group
// additionally drives the group's steps as a sub-loop. A gacha_check match
// inside a group can unwind here as ErrStopGroup with no enclosing
// repeat_group to catch it; that's still a normal completion, not a failure.
func (in *Interpreter) Run(ctx context.Context, w *Workflow, dev Device, token *cancel.Token) error {
	err := in.runSteps(ctx, w, w.Steps, dev, token)
	if err == ErrStopGroup {
		return nil
	}
	return err
}

// runSteps drives steps with a mutable program counter rather than a plain
// range loop, so conditional's goto can reassign it — a true jump, matching
// original_source's mutable step_index (workflow_service.py), including
// backward jumps for looping. A range loop keeps visiting later indices
// after a jump target executes, which double-runs or fails to skip steps.
func (in *Interpreter) runSteps(ctx context.Context, w *Workflow, steps []Step, dev Device, token *cancel.Token) error {
	pc := 0
	for pc < len(steps) {
		s := steps[pc]
		if token.Cancelled() {
			return ErrCancelled
		}
		jump, err := in.runStep(ctx, w, s, dev, token)
		if err != nil {
			return err
		}
		if jump != nil {
			idx := indexForOrder(steps, *jump)
			if idx < 0 {
				return &StepError{OrderIndex: s.OrderIndex, StepType: s.Type, Err: fmt.Errorf("goto target order_index %d not found", *jump)}
			}
			pc = idx
			continue
		}
		pc++
	}
	return nil
}

func indexForOrder(steps []Step, orderIndex int) int {
	for i, s := range steps {
		if s.OrderIndex == orderIndex {
			return i
		}
	}
	return -1
}

// runStep executes one step, returning a non-nil jump target when the step
// wants runSteps to reposition its program counter (conditional only).
func (in *Interpreter) runStep(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) (*int, error) {
	var err error
	var jump *int
	switch s.Type {
	case StepClick:
		err = dev.Tap(ctx, s.X, s.Y)
	case StepSwipe:
		err = dev.Swipe(ctx, s.X, s.Y, s.EndX, s.EndY, s.SwipeDurationMs)
	case StepWait:
		if !token.Sleep(ctx, time.Duration(s.WaitDurationMs)*time.Millisecond) {
			return nil, ErrCancelled
		}
	case StepPressBack:
		err = dev.Key(ctx, keycodeBack)
	case StepStartGame:
		err = dev.LaunchApp(ctx, in.gamePkg)
	case StepRestartGame:
		if err = dev.RestartGame(ctx, in.gamePkg); err == nil {
			if !token.Sleep(ctx, in.coldStart) {
				return nil, ErrCancelled
			}
		}
	case StepWaitForColor:
		err = in.runWaitForColor(ctx, s, dev, token)
	case StepImageMatch:
		err = in.runImageMatch(ctx, w, s, dev, token)
	case StepFindAllClick:
		err = in.runFindAllClick(ctx, w, s, dev, token)
	case StepLoopClick:
		err = in.runLoopClick(ctx, w, s, dev, token)
	case StepRepeatGroup:
		err = in.runRepeatGroup(ctx, w, s, dev, token)
	case StepConditional:
		jump, err = in.runConditional(ctx, w, s, dev, token)
	case StepGachaCheck:
		err = in.runGachaCheck(ctx, w, s, dev, token)
	default:
		err = fmt.Errorf("unhandled step_type %q", s.Type)
	}
	if err != nil && err != ErrCancelled && err != ErrStopGroup {
		return nil, &StepError{OrderIndex: s.OrderIndex, StepType: s.Type, Err: err}
	}
	return jump, err
}

func (in *Interpreter) screenshot(ctx context.Context, w *Workflow, dev Device) (image.Image, error) {
	raw, err := dev.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return imaging.Rescale(img, w.ScreenWidth, w.ScreenHeight), nil
}

func (in *Interpreter) runWaitForColor(ctx context.Context, s Step, dev Device, token *cancel.Token) error {
	deadline := time.Now().Add(time.Duration(s.MaxWaitSeconds) * time.Second)
	interval := time.Duration(s.CheckInterval * float64(time.Second))
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		if token.Cancelled() {
			return ErrCancelled
		}
		raw, err := dev.Screenshot(ctx)
		if err != nil {
			return err
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("decode screenshot: %w", err)
		}
		r, g, b, _ := img.At(s.X, s.Y).RGBA()
		actual := BGR{B: int(b >> 8), G: int(g >> 8), R: int(r >> 8)}
		if within(actual.B, s.ExpectedColor.B, s.Tolerance) &&
			within(actual.G, s.ExpectedColor.G, s.Tolerance) &&
			within(actual.R, s.ExpectedColor.R, s.Tolerance) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait_for_color: pixel (%d,%d) never matched within %v", s.X, s.Y, time.Duration(s.MaxWaitSeconds)*time.Second)
		}
		if !token.Sleep(ctx, interval) {
			return ErrCancelled
		}
	}
}

func within(actual, expected, tolerance int) bool {
	d := actual - expected
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func (in *Interpreter) runImageMatch(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) error {
	needle, err := in.templates.Load(ctx, s.TemplateRef)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(s.MaxWaitSeconds) * time.Second)
	interval := time.Duration(s.RetryInterval * float64(time.Second))
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		if token.Cancelled() {
			return ErrCancelled
		}
		if s.MaxRetries != nil && attempt >= *s.MaxRetries {
			break
		}
		if time.Now().After(deadline) {
			break
		}

		haystack, err := in.screenshot(ctx, w, dev)
		if err != nil {
			return err
		}
		if m, ok := in.matcher.BestMatch(haystack, needle, s.Threshold); ok {
			if s.OnMatchAction == OnMatchTapCenter {
				nb := needle.Bounds()
				cx, cy := m.Center(nb.Dx(), nb.Dy())
				if err := dev.Tap(ctx, cx, cy); err != nil {
					return err
				}
			}
			return nil
		}

		if !token.Sleep(ctx, interval) {
			return ErrCancelled
		}
	}

	if s.SkipIfNotFound {
		return nil
	}
	return fmt.Errorf("image_match: template %q not found within budget", s.TemplateRef)
}

func (in *Interpreter) runFindAllClick(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) error {
	needle, err := in.templates.Load(ctx, s.TemplateRef)
	if err != nil {
		return err
	}
	haystack, err := in.screenshot(ctx, w, dev)
	if err != nil {
		return err
	}
	nb := needle.Bounds()

	if s.MatchAll {
		matches := in.matcher.MatchAll(haystack, needle, s.Threshold)
		for _, m := range matches {
			if token.Cancelled() {
				return ErrCancelled
			}
			cx, cy := m.Center(nb.Dx(), nb.Dy())
			if err := dev.Tap(ctx, cx, cy); err != nil {
				return err
			}
		}
		return nil
	}

	if m, ok := in.matcher.BestMatch(haystack, needle, s.Threshold); ok {
		cx, cy := m.Center(nb.Dx(), nb.Dy())
		return dev.Tap(ctx, cx, cy)
	}
	return nil
}

func (in *Interpreter) runLoopClick(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) error {
	needle, err := in.templates.Load(ctx, s.TemplateRef)
	if err != nil {
		return err
	}
	nb := needle.Bounds()

	clickDelay := time.Duration(s.ClickDelay * float64(time.Second))
	retryDelay := time.Duration(s.RetryDelay * float64(time.Second))

	notFound := 0
	for i := 0; i < s.MaxIterations; i++ {
		if token.Cancelled() {
			return ErrCancelled
		}
		haystack, err := in.screenshot(ctx, w, dev)
		if err != nil {
			return err
		}
		if m, ok := in.matcher.BestMatch(haystack, needle, s.Threshold); ok {
			notFound = 0
			cx, cy := m.Center(nb.Dx(), nb.Dy())
			if err := dev.Tap(ctx, cx, cy); err != nil {
				return err
			}
			if !token.Sleep(ctx, clickDelay) {
				return ErrCancelled
			}
			continue
		}

		notFound++
		if notFound >= s.NotFoundThreshold {
			return nil
		}
		if !token.Sleep(ctx, retryDelay) {
			return ErrCancelled
		}
	}
	return nil
}

func (in *Interpreter) runRepeatGroup(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) error {
	groupSteps := w.GroupSteps(s.LoopGroupName)

	var needle image.Image
	if s.StopTemplateRef != "" {
		var err error
		needle, err = in.templates.Load(ctx, s.StopTemplateRef)
		if err != nil {
			return err
		}
	}

	for i := 0; i < s.LoopMaxIterations; i++ {
		if token.Cancelled() {
			return ErrCancelled
		}

		if needle != nil {
			haystack, err := in.screenshot(ctx, w, dev)
			if err != nil {
				return err
			}
			_, found := in.matcher.BestMatch(haystack, needle, s.Threshold)
			if s.StopOnNotFound && !found {
				return nil
			}
			if !s.StopOnNotFound && found {
				return nil
			}
		}

		if err := in.runSteps(ctx, w, groupSteps, dev, token); err != nil {
			if err == ErrStopGroup {
				return nil
			}
			return err
		}
	}
	return nil
}

// runConditional evaluates an image-presence predicate and returns the
// order_index runSteps should jump its program counter to, or nil to fall
// through to the next step (SPEC_FULL.md D.2, original_source's
// `step_index = step["goto_step_on_true"] - 1`).
func (in *Interpreter) runConditional(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) (*int, error) {
	needle, err := in.templates.Load(ctx, s.TemplateRef)
	if err != nil {
		return nil, err
	}
	haystack, err := in.screenshot(ctx, w, dev)
	if err != nil {
		return nil, err
	}
	_, found := in.matcher.BestMatch(haystack, needle, s.Threshold)

	truthy := found
	if s.ConditionType == "image_not_exists" {
		truthy = !found
	}

	if truthy {
		return s.GotoOnTrue, nil
	}
	return s.GotoOnFalse, nil
}

// runGachaCheck crops the OCR region out of a fresh screenshot, extracts
// text through the pluggable TextExtractor, and fuzzy-matches it against
// target_characters (SPEC_FULL.md D.1, original_source's
// ocr_service.fuzzy_match). On a match it exports the account's preference
// file to gacha_save_folder under a timestamped name and returns
// ErrStopGroup so the enclosing repeat_group stops after this iteration
// (mirroring original_source's StopIteration("GACHA_MATCH")).
func (in *Interpreter) runGachaCheck(ctx context.Context, w *Workflow, s Step, dev Device, token *cancel.Token) error {
	if len(s.TargetCharacters) == 0 {
		return nil
	}

	raw, err := dev.Screenshot(ctx)
	if err != nil {
		return err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode screenshot: %w", err)
	}

	r := s.OCRRegion
	crop := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			crop.Set(x, y, img.At(r.X+x, r.Y+y))
		}
	}

	text, err := in.extractor.ExtractText(ctx, crop)
	if err != nil {
		return err
	}

	threshold := s.FuzzyThreshold
	if threshold <= 0 {
		threshold = defaultFuzzyThreshold
	}
	matched, ok := FuzzyMatch(text, s.TargetCharacters, threshold)
	if !ok {
		return nil
	}

	if s.GachaSaveFolder != "" {
		if err := in.exportAccountFile(ctx, dev, s.GachaSaveFolder, matched); err != nil {
			return err
		}
	}
	return ErrStopGroup
}

// exportAccountFile copies the account's preference file off the device
// through a su-owned temp path and pulls it into saveFolder, matching
// original_source's shell_su/pull_file/rm sequence.
func (in *Interpreter) exportAccountFile(ctx context.Context, dev Device, saveFolder, matched string) error {
	const tempPath = "/sdcard/_temp_gacha_export.xml"
	if _, err := dev.Shell(ctx, fmt.Sprintf("su -c 'cp %s %s'", in.accountRemotePath, tempPath)); err != nil {
		return err
	}
	if _, err := dev.Shell(ctx, fmt.Sprintf("su -c 'chmod 644 %s'", tempPath)); err != nil {
		return err
	}
	data, err := dev.Pull(ctx, tempPath)
	if err != nil {
		return err
	}
	dev.Shell(ctx, fmt.Sprintf("rm %s", tempPath))

	if err := os.MkdirAll(saveFolder, 0755); err != nil {
		return err
	}
	clean := gachaFilenameReplacer.Replace(matched)
	filename := fmt.Sprintf("%s_%s.xml", clean, time.Now().Format("20060102"))
	return os.WriteFile(filepath.Join(saveFolder, filename), data, 0644)
}
