package scheduler

import (
	"context"
	"testing"

	"github.com/vk/gridbench/internal/config"
)

func stringParam(name, value string) *config.Parameter {
	return &config.Parameter{Name: name, Value: value, Type: config.TypeString, Mode: config.ModeText}
}

func paramset(name string, params ...*config.Parameter) *config.Parameterset {
	ps := &config.Parameterset{Name: name, Parameters: map[string]*config.Parameter{}}
	for _, p := range params {
		ps.Parameters[p.Name] = p
		ps.Order = append(ps.Order, p.Name)
	}
	return ps
}

func TestBuild_RootStepExpandsItsOwnParameterSpace(t *testing.T) {
	t.Parallel()
	bench := &config.Benchmark{
		Parametersets: map[string]*config.Parameterset{
			"sizes": paramset("sizes", stringParam("n", "1,2,3")),
		},
		Steps: []*config.Step{
			{Name: "compile", Use: []string{"sizes"}},
		},
	}
	rc := &RunContext{BenchDir: t.TempDir(), Benchmark: bench}

	_, all, err := Build(context.Background(), rc)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	seen := map[string]bool{}
	for _, wp := range all {
		if wp.Step != "compile" {
			t.Errorf("wp.Step = %q, want %q", wp.Step, "compile")
		}
		seen[wp.Params["n"]] = true
	}
	for _, n := range []string{"1", "2", "3"} {
		if !seen[n] {
			t.Errorf("missing workpackage for n=%s", n)
		}
	}
}

func TestBuild_DependentStepCrossJoinsParents(t *testing.T) {
	t.Parallel()
	bench := &config.Benchmark{
		Parametersets: map[string]*config.Parameterset{
			"sizes": paramset("sizes", stringParam("n", "1,2")),
			"runs":  paramset("runs", stringParam("r", "a,b")),
		},
		Steps: []*config.Step{
			{Name: "compile", Use: []string{"sizes"}},
			{Name: "execute", Use: []string{"runs"}, Depend: []string{"compile"}},
		},
	}
	rc := &RunContext{BenchDir: t.TempDir(), Benchmark: bench}

	_, all, err := Build(context.Background(), rc)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	var executeCount int
	for _, wp := range all {
		if wp.Step != "execute" {
			continue
		}
		executeCount++
		if wp.Params["n"] == "" {
			t.Error("execute workpackage should inherit n from its compile parent")
		}
		if len(wp.ParentIDs) != 1 {
			t.Errorf("ParentIDs = %v, want exactly one parent", wp.ParentIDs)
		}
	}
	if want := 2 * 2; executeCount != want {
		t.Errorf("execute workpackage count = %d, want %d", executeCount, want)
	}
}

func TestBuild_InactiveStepIsSkipped(t *testing.T) {
	t.Parallel()
	bench := &config.Benchmark{
		Steps: []*config.Step{
			{Name: "gpu_only", Active: "gpu"},
		},
	}
	rc := &RunContext{BenchDir: t.TempDir(), Benchmark: bench, ActiveTags: map[string]bool{}}

	_, all, err := Build(context.Background(), rc)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("len(all) = %d, want 0 (step gated off by inactive tag)", len(all))
	}
}

func TestBuild_DependingOnUnknownStepFails(t *testing.T) {
	t.Parallel()
	bench := &config.Benchmark{
		Steps: []*config.Step{
			{Name: "execute", Depend: []string{"missing"}},
		},
	}
	rc := &RunContext{BenchDir: t.TempDir(), Benchmark: bench}

	if _, _, err := Build(context.Background(), rc); err == nil {
		t.Fatal("Build() should fail when a step depends on an unknown step")
	}
}

func TestBuild_IterationsProduceSeparateWorkpackages(t *testing.T) {
	t.Parallel()
	bench := &config.Benchmark{
		Steps: []*config.Step{
			{Name: "repeat", Iterations: 3},
		},
	}
	rc := &RunContext{BenchDir: t.TempDir(), Benchmark: bench}

	_, all, err := Build(context.Background(), rc)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	seen := map[int]bool{}
	for _, wp := range all {
		seen[wp.Iteration] = true
	}
	for _, it := range []int{0, 1, 2} {
		if !seen[it] {
			t.Errorf("missing workpackage for iteration %d", it)
		}
	}
}

func TestCompatible_RejectsConflictingSharedParameter(t *testing.T) {
	t.Parallel()
	combo := []*Workpackage{{Params: map[string]string{"n": "1"}}}
	candidate := &Workpackage{Params: map[string]string{"n": "2"}}

	if compatible(combo, candidate) {
		t.Error("compatible() should reject a candidate disagreeing on a shared parameter")
	}
}

func TestCompatible_AcceptsAgreeingSharedParameter(t *testing.T) {
	t.Parallel()
	combo := []*Workpackage{{Params: map[string]string{"n": "1"}}}
	candidate := &Workpackage{Params: map[string]string{"n": "1", "extra": "x"}}

	if !compatible(combo, candidate) {
		t.Error("compatible() should accept a candidate agreeing on the shared parameter")
	}
}

func TestCrossJoinCompatible_DropsIncompatibleCombinations(t *testing.T) {
	t.Parallel()
	groupA := []*Workpackage{{ID: 1, Params: map[string]string{"n": "1"}}}
	groupB := []*Workpackage{
		{ID: 2, Params: map[string]string{"n": "1"}},
		{ID: 3, Params: map[string]string{"n": "2"}},
	}

	combos := crossJoinCompatible([][]*Workpackage{groupA, groupB})
	if len(combos) != 1 {
		t.Fatalf("len(combos) = %d, want 1 (only id 2 agrees with id 1 on n)", len(combos))
	}
	if combos[0][1].ID != 2 {
		t.Errorf("surviving combo's second member = %d, want 2", combos[0][1].ID)
	}
}

func TestTopoOrder_OrdersStepsAfterTheirDependencies(t *testing.T) {
	t.Parallel()
	steps := []*config.Step{
		{Name: "c", Depend: []string{"b"}},
		{Name: "a"},
		{Name: "b", Depend: []string{"a"}},
	}

	order, err := topoOrder(steps)
	if err != nil {
		t.Fatalf("topoOrder() returned error: %v", err)
	}
	pos := map[string]int{}
	for i, s := range order {
		pos[s.Name] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("order = %v, want a before b before c", []string{order[0].Name, order[1].Name, order[2].Name})
	}
}

func TestTopoOrder_DetectsCycle(t *testing.T) {
	t.Parallel()
	steps := []*config.Step{
		{Name: "a", Depend: []string{"b"}},
		{Name: "b", Depend: []string{"a"}},
	}
	if _, err := topoOrder(steps); err == nil {
		t.Fatal("topoOrder() should detect the a<->b cycle")
	}
}
