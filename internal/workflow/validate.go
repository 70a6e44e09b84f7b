package workflow

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// TemplateResolver reports whether a template name is known, used to
// reject dangling template_ref fields at load time.
type TemplateResolver func(name string) bool

var knownStepTypes = map[StepType]bool{
	StepClick: true, StepSwipe: true, StepWait: true, StepWaitForColor: true,
	StepImageMatch: true, StepFindAllClick: true, StepLoopClick: true,
	StepRepeatGroup: true, StepPressBack: true, StepStartGame: true,
	StepRestartGame: true, StepConditional: true, StepGachaCheck: true,
}

// Validate rejects a Workflow at load time per spec.md §7 "Workflow-load
// error": a cycle in repeat_group, a missing template reference, an
// unknown step_type, or a non-contiguous order_index. None of these run
// the workflow; they're checked before WorkflowInterpreter.Run ever calls
// device.Tap.
func Validate(w *Workflow, templateExists TemplateResolver) error {
	if err := validateOrdering(w); err != nil {
		return err
	}
	if err := validateStepTypes(w); err != nil {
		return err
	}
	if err := validateTemplateRefs(w, templateExists); err != nil {
		return err
	}
	if err := validateGroups(w); err != nil {
		return err
	}
	return nil
}

func validateOrdering(w *Workflow) error {
	for i, s := range w.Steps {
		if s.OrderIndex != i {
			return fmt.Errorf("workflow load error: order_index not contiguous at position %d (got %d)", i, s.OrderIndex)
		}
	}
	return nil
}

func validateStepTypes(w *Workflow) error {
	for _, s := range w.Steps {
		if !knownStepTypes[s.Type] {
			return fmt.Errorf("workflow load error: unknown step_type %q at order_index %d", s.Type, s.OrderIndex)
		}
	}
	return nil
}

func validateTemplateRefs(w *Workflow, templateExists TemplateResolver) error {
	if templateExists == nil {
		return nil
	}
	check := func(ref string, idx int) error {
		if ref == "" {
			return nil
		}
		if !templateExists(ref) {
			return fmt.Errorf("workflow load error: template reference %q at order_index %d not found", ref, idx)
		}
		return nil
	}
	for _, s := range w.Steps {
		switch s.Type {
		case StepImageMatch, StepFindAllClick, StepLoopClick, StepConditional:
			if err := check(s.TemplateRef, s.OrderIndex); err != nil {
				return err
			}
		case StepRepeatGroup:
			if err := check(s.StopTemplateRef, s.OrderIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateGroups checks that every repeat_group's loop_group_name refers to
// an existing group, then runs cycle detection over the "group contains a
// driver of group" relation using gammazero/toposort — a self-reference
// (a repeat_group driving its own containing group) is the 1-node case of
// this same cycle check (spec.md §8 invariant 5, §9 Open Question b: nested
// drivers of disjoint groups are fine, only cycles are rejected).
func validateGroups(w *Workflow) error {
	groupExists := make(map[string]bool)
	for _, s := range w.Steps {
		if s.GroupName != "" {
			groupExists[s.GroupName] = true
		}
	}

	const root = "\x00root"
	var edges []toposort.Edge

	for _, s := range w.Steps {
		if s.Type != StepRepeatGroup {
			continue
		}
		if s.LoopGroupName == "" {
			return fmt.Errorf("workflow load error: repeat_group at order_index %d missing loop_group_name", s.OrderIndex)
		}
		if !groupExists[s.LoopGroupName] {
			return fmt.Errorf("workflow load error: repeat_group at order_index %d references unknown group %q", s.OrderIndex, s.LoopGroupName)
		}
		from := s.GroupName
		if from == "" {
			from = root
		}
		edges = append(edges, toposort.Edge{from, s.LoopGroupName})
	}

	if len(edges) == 0 {
		return nil
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("workflow load error: cycle detected in repeat_group group graph")
	}
	return nil
}
