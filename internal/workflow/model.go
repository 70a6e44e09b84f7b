// Package workflow implements the Workflow/WorkflowStep model, WorkflowRepo,
// load-time validation, and WorkflowInterpreter (spec.md §3, §4.5, §4.6).
package workflow

import "encoding/json"

// StepType is the tag of a WorkflowStep's variant. The step set is finite
// and rarely extended, so steps are one flat struct discriminated by this
// tag (spec.md §9 "Polymorphism over step types") rather than a class
// hierarchy — mirroring original_source's flat-column WorkflowStep model
// and the teacher's own tagged models.Action{Type, Params}.
type StepType string

const (
	StepClick        StepType = "click"
	StepSwipe        StepType = "swipe"
	StepWait         StepType = "wait"
	StepWaitForColor StepType = "wait_for_color"
	StepImageMatch   StepType = "image_match"
	StepFindAllClick StepType = "find_all_click"
	StepLoopClick    StepType = "loop_click"
	StepRepeatGroup  StepType = "repeat_group"
	StepPressBack    StepType = "press_back"
	StepStartGame    StepType = "start_game"
	StepRestartGame  StepType = "restart_game"
	StepConditional  StepType = "conditional"  // SPEC_FULL.md D.2
	StepGachaCheck   StepType = "gacha_check"  // SPEC_FULL.md D.1
)

// OnMatchAction is what image_match does after a hit.
type OnMatchAction string

const (
	OnMatchTapCenter OnMatchAction = "tap_center"
	OnMatchNone      OnMatchAction = "none"
)

// BGR is a [B, G, R] color triple, matching wait_for_color's expected_color
// wire format (spec.md §6).
type BGR struct {
	B int `json:"b"`
	G int `json:"g"`
	R int `json:"r"`
}

// MarshalJSON encodes the color as a [B, G, R] array.
func (c BGR) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{c.B, c.G, c.R})
}

// UnmarshalJSON decodes a [B, G, R] array.
func (c *BGR) UnmarshalJSON(data []byte) error {
	var a [3]int
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	c.B, c.G, c.R = a[0], a[1], a[2]
	return nil
}

// OCRRegion is the screen rectangle gacha_check reads text from.
type OCRRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Step is one record of a Workflow. Only the fields relevant to Type are
// meaningful; the interpreter switches on Type (model.go / interpreter.go).
type Step struct {
	OrderIndex  int      `json:"order_index"`
	Type        StepType `json:"step_type"`
	Description string   `json:"description,omitempty"`
	GroupName   string   `json:"group_name,omitempty"` // empty means "not part of a group"

	// click / swipe / wait_for_color coordinates
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// swipe
	EndX            int `json:"end_x,omitempty"`
	EndY            int `json:"end_y,omitempty"`
	SwipeDurationMs int `json:"swipe_duration_ms,omitempty"`

	// wait
	WaitDurationMs int `json:"wait_duration_ms,omitempty"`

	// wait_for_color
	ExpectedColor  BGR     `json:"expected_color,omitempty"`
	Tolerance      int     `json:"tolerance,omitempty"`
	MaxWaitSeconds int     `json:"max_wait_seconds,omitempty"`
	CheckInterval  float64 `json:"check_interval,omitempty"`

	// image_match / find_all_click / loop_click / repeat_group's stop check
	TemplateRef    string        `json:"template_ref,omitempty"`
	Threshold      float64       `json:"threshold,omitempty"`
	MaxRetries     *int          `json:"max_retries,omitempty"` // nil = unbounded, bounded only by MaxWaitSeconds
	RetryInterval  float64       `json:"retry_interval,omitempty"`
	SkipIfNotFound bool          `json:"skip_if_not_found,omitempty"`
	OnMatchAction  OnMatchAction `json:"on_match_action,omitempty"`
	MatchAll       bool          `json:"match_all,omitempty"` // find_all_click: tap every match, not just the best

	// loop_click
	MaxIterations     int     `json:"max_iterations,omitempty"`
	NotFoundThreshold int     `json:"not_found_threshold,omitempty"`
	ClickDelay        float64 `json:"click_delay,omitempty"`
	RetryDelay        float64 `json:"retry_delay,omitempty"`

	// repeat_group
	LoopGroupName     string `json:"loop_group_name,omitempty"`
	StopTemplateRef   string `json:"stop_template_ref,omitempty"`
	StopOnNotFound    bool   `json:"stop_on_not_found,omitempty"`
	LoopMaxIterations int    `json:"loop_max_iterations,omitempty"`

	// conditional (SPEC_FULL.md D.2)
	ConditionType string `json:"condition_type,omitempty"` // image_exists | image_not_exists
	GotoOnTrue    *int   `json:"goto_on_true,omitempty"`
	GotoOnFalse   *int   `json:"goto_on_false,omitempty"`

	// gacha_check (SPEC_FULL.md D.1)
	OCRRegion        OCRRegion `json:"ocr_region,omitempty"`
	TargetCharacters []string  `json:"target_characters,omitempty"`
	GachaSaveFolder  string    `json:"gacha_save_folder,omitempty"`
	FuzzyThreshold   float64   `json:"fuzzy_threshold,omitempty"`
}

// Workflow is an ordered step program bound to a declared resolution
// (spec.md §3). At most one Workflow has IsMaster = true across the repo.
type Workflow struct {
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	IsMaster     bool   `json:"is_master"`
	ModeName     string `json:"mode_name,omitempty"` // e.g. "daily-login"; empty if unset
	MonthYear    string `json:"month_year,omitempty"` // "YYYY-MM"; empty if unset
	Steps        []Step `json:"steps"`
}

// GroupSteps returns every step sharing groupName, preserving relative
// order — the view a repeat_group step drives (spec.md §4.6).
func (w *Workflow) GroupSteps(groupName string) []Step {
	var out []Step
	for _, s := range w.Steps {
		if s.GroupName == groupName {
			out = append(out, s)
		}
	}
	return out
}
