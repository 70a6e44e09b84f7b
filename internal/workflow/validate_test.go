package workflow

import "testing"

func steps(types ...StepType) []Step {
	out := make([]Step, len(types))
	for i, ty := range types {
		out[i] = Step{OrderIndex: i, Type: ty}
	}
	return out
}

func TestValidateRejectsNonContiguousOrderIndex(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepClick},
		{OrderIndex: 2, Type: StepClick},
	}}
	if err := Validate(w, nil); err == nil {
		t.Fatalf("expected error for non-contiguous order_index")
	}
}

func TestValidateRejectsUnknownStepType(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: "not_a_real_step"},
	}}
	if err := Validate(w, nil); err == nil {
		t.Fatalf("expected error for unknown step_type")
	}
}

func TestValidateRejectsMissingTemplate(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepImageMatch, TemplateRef: "missing"},
	}}
	exists := func(name string) bool { return false }
	if err := Validate(w, exists); err == nil {
		t.Fatalf("expected error for unresolved template reference")
	}
}

func TestValidateAcceptsResolvedTemplate(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepImageMatch, TemplateRef: "known"},
	}}
	exists := func(name string) bool { return name == "known" }
	if err := Validate(w, exists); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsSelfReferencingRepeatGroup(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepClick, GroupName: "loop_a"},
		{OrderIndex: 1, Type: StepRepeatGroup, GroupName: "loop_a", LoopGroupName: "loop_a"},
	}}
	if err := Validate(w, nil); err == nil {
		t.Fatalf("expected error for repeat_group referencing its own containing group")
	}
}

func TestValidateRejectsIndirectCycle(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepClick, GroupName: "a"},
		{OrderIndex: 1, Type: StepRepeatGroup, GroupName: "a", LoopGroupName: "b"},
		{OrderIndex: 2, Type: StepClick, GroupName: "b"},
		{OrderIndex: 3, Type: StepRepeatGroup, GroupName: "b", LoopGroupName: "a"},
	}}
	if err := Validate(w, nil); err == nil {
		t.Fatalf("expected error for a->b->a cycle across groups")
	}
}

func TestValidateAllowsNestedDisjointGroups(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepClick, GroupName: "outer"},
		{OrderIndex: 1, Type: StepRepeatGroup, GroupName: "outer", LoopGroupName: "inner"},
		{OrderIndex: 2, Type: StepClick, GroupName: "inner"},
	}}
	if err := Validate(w, nil); err != nil {
		t.Fatalf("expected nested disjoint groups to be allowed, got: %v", err)
	}
}

func TestValidateRejectsRepeatGroupWithUnknownTarget(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{OrderIndex: 0, Type: StepRepeatGroup, LoopGroupName: "nonexistent"},
	}}
	if err := Validate(w, nil); err == nil {
		t.Fatalf("expected error for repeat_group referencing unknown group")
	}
}
