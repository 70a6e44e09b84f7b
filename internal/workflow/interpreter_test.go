package workflow

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"androidfleet/internal/cancel"
	"androidfleet/internal/imaging"
)

const (
	canvasW, canvasH = 100, 100
	needleSize       = 10
	needleX, needleY = 30, 30
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func makeNeedle() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, needleSize, needleSize))
	for y := 0; y < needleSize; y++ {
		for x := 0; x < needleSize; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 10})
			} else {
				img.SetGray(x, y, color.Gray{Y: 240})
			}
		}
	}
	return img
}

func makeFrame(present bool, needle *image.Gray) *image.Gray {
	canvas := image.NewGray(image.Rect(0, 0, canvasW, canvasH))
	for y := 0; y < canvasH; y++ {
		for x := 0; x < canvasW; x++ {
			canvas.SetGray(x, y, color.Gray{Y: 128})
		}
	}
	if present {
		for y := 0; y < needleSize; y++ {
			for x := 0; x < needleSize; x++ {
				canvas.SetGray(needleX+x, needleY+y, needle.GrayAt(x, y))
			}
		}
	}
	return canvas
}

// fakeDevice drives the interpreter through a scripted presence sequence:
// the Nth Screenshot call returns a frame where the needle is present iff
// presence[N] is true (clamped to the last element once exhausted).
type fakeDevice struct {
	t         *testing.T
	needle    *image.Gray
	presence  []bool
	calls     int
	taps      [][2]int
	shellCmds []string
}

func (d *fakeDevice) Screenshot(ctx context.Context) ([]byte, error) {
	present := d.presence[d.calls]
	if d.calls < len(d.presence)-1 {
		d.calls++
	}
	return encodePNG(d.t, makeFrame(present, d.needle)), nil
}

func (d *fakeDevice) Tap(ctx context.Context, x, y int) error {
	d.taps = append(d.taps, [2]int{x, y})
	return nil
}
func (d *fakeDevice) Swipe(ctx context.Context, x, y, ex, ey, ms int) error { return nil }
func (d *fakeDevice) Key(ctx context.Context, keycode int) error           { return nil }
func (d *fakeDevice) LaunchApp(ctx context.Context, pkg string) error      { return nil }
func (d *fakeDevice) ForceStop(ctx context.Context, pkg string) error      { return nil }
func (d *fakeDevice) RestartGame(ctx context.Context, pkg string) error    { return nil }
func (d *fakeDevice) Shell(ctx context.Context, command string) (string, error) {
	d.shellCmds = append(d.shellCmds, command)
	return "", nil
}
func (d *fakeDevice) Pull(ctx context.Context, remotePath string) ([]byte, error) {
	return []byte("<pref/>"), nil
}

// fixedExtractor is a TextExtractor stub returning a fixed string regardless
// of the cropped image, for exercising gacha_check's fuzzy-match branch.
type fixedExtractor struct{ text string }

func (f fixedExtractor) ExtractText(ctx context.Context, img image.Image) (string, error) {
	return f.text, nil
}

type fakeTemplates struct {
	needle image.Image
}

func (f *fakeTemplates) Load(ctx context.Context, name string) (image.Image, error) {
	return f.needle, nil
}

func TestLoopClickMashUntilGone(t *testing.T) {
	needle := makeNeedle()
	dev := &fakeDevice{t: t, needle: needle, presence: []bool{true, true, true, true, false, false, false}}
	templates := &fakeTemplates{needle: needle}
	interp := NewInterpreter(templates, imaging.NewMatcher(), NullExtractor{}, "com.test.game", "/sdcard/account_pref.xml", 0)

	w := &Workflow{ScreenWidth: canvasW, ScreenHeight: canvasH}
	step := Step{
		Type:              StepLoopClick,
		TemplateRef:       "popup_close",
		Threshold:         0.9,
		MaxIterations:     20,
		NotFoundThreshold: 3,
	}

	_, err := interp.runStep(context.Background(), w, step, dev, cancel.New())
	if err != nil {
		t.Fatalf("loop_click failed: %v", err)
	}
	if len(dev.taps) != 4 {
		t.Errorf("expected 4 taps, got %d", len(dev.taps))
	}
	if dev.calls != 6 {
		t.Errorf("expected 7 total screenshots (calls index reaching 6), got calls=%d", dev.calls)
	}
}

func TestRepeatGroupStopsWhenTemplateDisappears(t *testing.T) {
	needle := makeNeedle()
	dev := &fakeDevice{t: t, needle: needle, presence: []bool{true, true, true, true, false}}
	templates := &fakeTemplates{needle: needle}
	interp := NewInterpreter(templates, imaging.NewMatcher(), NullExtractor{}, "com.test.game", "/sdcard/account_pref.xml", 0)

	w := &Workflow{
		ScreenWidth: canvasW, ScreenHeight: canvasH,
		Steps: []Step{
			{OrderIndex: 0, Type: StepClick, GroupName: "farm_loop", X: 1, Y: 1},
			{OrderIndex: 1, Type: StepClick, GroupName: "farm_loop", X: 2, Y: 2},
		},
	}
	step := Step{
		Type:              StepRepeatGroup,
		LoopGroupName:     "farm_loop",
		StopTemplateRef:   "energy_button",
		StopOnNotFound:    true,
		LoopMaxIterations: 50,
		Threshold:         0.9,
	}

	_, err := interp.runStep(context.Background(), w, step, dev, cancel.New())
	if err != nil {
		t.Fatalf("repeat_group failed: %v", err)
	}
	if len(dev.taps) != 8 {
		t.Errorf("expected 4 iterations x 2 taps = 8 taps, got %d", len(dev.taps))
	}
}

func TestImageMatchSkipIfNotFoundBecomesNoop(t *testing.T) {
	needle := makeNeedle()
	dev := &fakeDevice{t: t, needle: needle, presence: []bool{false}}
	templates := &fakeTemplates{needle: needle}
	interp := NewInterpreter(templates, imaging.NewMatcher(), NullExtractor{}, "com.test.game", "/sdcard/account_pref.xml", 0)

	w := &Workflow{ScreenWidth: canvasW, ScreenHeight: canvasH}
	step := Step{
		Type:            StepImageMatch,
		TemplateRef:     "never_appears",
		Threshold:       0.9,
		MaxWaitSeconds:  0,
		RetryInterval:   0,
		SkipIfNotFound:  true,
	}

	_, err := interp.runStep(context.Background(), w, step, dev, cancel.New())
	if err != nil {
		t.Fatalf("expected skip_if_not_found to suppress the failure, got: %v", err)
	}
}

func TestImageMatchFailsWithoutSkip(t *testing.T) {
	needle := makeNeedle()
	dev := &fakeDevice{t: t, needle: needle, presence: []bool{false}}
	templates := &fakeTemplates{needle: needle}
	interp := NewInterpreter(templates, imaging.NewMatcher(), NullExtractor{}, "com.test.game", "/sdcard/account_pref.xml", 0)

	w := &Workflow{ScreenWidth: canvasW, ScreenHeight: canvasH}
	step := Step{
		Type:           StepImageMatch,
		TemplateRef:    "never_appears",
		Threshold:      0.9,
		MaxWaitSeconds: 0,
		RetryInterval:  0,
	}

	_, err := interp.runStep(context.Background(), w, step, dev, cancel.New())
	if err == nil {
		t.Fatalf("expected step failure when template never found and skip_if_not_found unset")
	}
}

// TestConditionalJumpSkipsInterveningSteps exercises the program-counter
// jump directly: workflow [0:conditional(goto_on_true=2), 1:click, 2:click].
// On a match, step 1 (the click the goto exists to skip) must never run and
// step 2 must run exactly once — not twice, as a naive range-loop-plus-tail-
// recursion implementation would produce.
func TestConditionalJumpSkipsInterveningSteps(t *testing.T) {
	needle := makeNeedle()
	dev := &fakeDevice{t: t, needle: needle, presence: []bool{true}}
	templates := &fakeTemplates{needle: needle}
	interp := NewInterpreter(templates, imaging.NewMatcher(), NullExtractor{}, "com.test.game", "/sdcard/account_pref.xml", 0)

	target := 2
	w := &Workflow{
		ScreenWidth: canvasW, ScreenHeight: canvasH,
		Steps: []Step{
			{OrderIndex: 0, Type: StepConditional, TemplateRef: "gate", Threshold: 0.9, ConditionType: "image_exists", GotoOnTrue: &target},
			{OrderIndex: 1, Type: StepClick, X: 999, Y: 999},
			{OrderIndex: 2, Type: StepClick, X: 5, Y: 5},
		},
	}

	if err := interp.Run(context.Background(), w, dev, cancel.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(dev.taps) != 1 || dev.taps[0] != [2]int{5, 5} {
		t.Fatalf("expected exactly one tap at (5,5) from step 2, got %v", dev.taps)
	}
}

// TestConditionalBackwardJumpLoops exercises a backward goto: the step at
// order_index 0 clicks and the step at order_index 1 jumps back to it as
// long as the gate template is present, falling through once it's gone. The original Python implementation's
// mutable step_index supports this; a forward-only "steps with order_index
// >= target" slice cannot.
func TestConditionalBackwardJumpLoops(t *testing.T) {
	needle := makeNeedle()
	dev := &fakeDevice{t: t, needle: needle, presence: []bool{true, true, false}}
	templates := &fakeTemplates{needle: needle}
	interp := NewInterpreter(templates, imaging.NewMatcher(), NullExtractor{}, "com.test.game", "/sdcard/account_pref.xml", 0)

	loopTarget := 0
	w := &Workflow{
		ScreenWidth: canvasW, ScreenHeight: canvasH,
		Steps: []Step{
			{OrderIndex: 0, Type: StepClick, X: 7, Y: 7},
			{OrderIndex: 1, Type: StepConditional, TemplateRef: "gate", Threshold: 0.9, ConditionType: "image_exists", GotoOnTrue: &loopTarget},
		},
	}

	if err := interp.Run(context.Background(), w, dev, cancel.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(dev.taps) != 3 {
		t.Fatalf("expected 3 taps (the first pass plus one per gate-present screenshot), got %d", len(dev.taps))
	}
}

func TestGachaCheckMatchExportsAndStopsGroup(t *testing.T) {
	dev := &fakeDevice{t: t, needle: makeNeedle(), presence: []bool{true}}
	templates := &fakeTemplates{needle: makeNeedle()}
	interp := NewInterpreter(templates, imaging.NewMatcher(), fixedExtractor{text: "Captain Marv"}, "com.test.game", "/sdcard/account_pref.xml", 0)

	saveFolder := t.TempDir()
	w := &Workflow{ScreenWidth: canvasW, ScreenHeight: canvasH}
	step := Step{
		Type:             StepGachaCheck,
		OCRRegion:        OCRRegion{X: 0, Y: 0, Width: 20, Height: 10},
		TargetCharacters: []string{"Captain Marvel"},
		FuzzyThreshold:   0.6,
		GachaSaveFolder:  saveFolder,
	}

	_, err := interp.runStep(context.Background(), w, step, dev, cancel.New())
	if err != ErrStopGroup {
		t.Fatalf("expected ErrStopGroup on a gacha match, got: %v", err)
	}

	entries, rerr := os.ReadDir(saveFolder)
	if rerr != nil {
		t.Fatalf("read save folder: %v", rerr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one exported file, got %d", len(entries))
	}
	if len(dev.shellCmds) == 0 {
		t.Errorf("expected shell commands issued to export the account file")
	}
}

func TestGachaCheckNoMatchContinues(t *testing.T) {
	dev := &fakeDevice{t: t, needle: makeNeedle(), presence: []bool{true}}
	templates := &fakeTemplates{needle: makeNeedle()}
	interp := NewInterpreter(templates, imaging.NewMatcher(), fixedExtractor{text: "totally unrelated"}, "com.test.game", "/sdcard/account_pref.xml", 0)

	w := &Workflow{ScreenWidth: canvasW, ScreenHeight: canvasH}
	step := Step{
		Type:             StepGachaCheck,
		OCRRegion:        OCRRegion{X: 0, Y: 0, Width: 20, Height: 10},
		TargetCharacters: []string{"Captain Marvel"},
		FuzzyThreshold:   0.6,
		GachaSaveFolder:  t.TempDir(),
	}

	_, err := interp.runStep(context.Background(), w, step, dev, cancel.New())
	if err != nil {
		t.Fatalf("expected a non-matching gacha_check to be a no-op, got: %v", err)
	}
	if len(dev.shellCmds) != 0 {
		t.Errorf("expected no export when nothing matched")
	}
}
