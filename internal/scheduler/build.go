package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/ctxlog"
	"github.com/vk/gridbench/internal/dag"
	"github.com/vk/gridbench/internal/errs"
	"github.com/vk/gridbench/internal/paramexpand"
	"github.com/vk/gridbench/internal/tagexpr"
	"github.com/vk/gridbench/internal/wpstore"
)

// Build expands rc.Benchmark's steps into a workpackage graph: root steps
// expand their own parameter space, dependent steps cross-product every
// compatible combination of parent workpackages with their own parameter
// space (spec §4.4).
func Build(ctx context.Context, rc *RunContext) (*dag.Graph, map[int]*Workpackage, error) {
	logger := ctxlog.FromContext(ctx)
	order, err := topoOrder(rc.Benchmark.Steps)
	if err != nil {
		return nil, nil, err
	}

	graph := dag.New()
	all := map[int]*Workpackage{}
	byStep := map[string][]*Workpackage{}
	nextID := 1

	resolver := paramexpand.NewResolver(rc.ActiveTags)
	rc.Resolver = resolver

	for _, step := range order {
		if step.Active != "" {
			expr, err := tagexpr.Parse(step.Active)
			if err != nil {
				return nil, nil, &errs.ConfigError{Detail: fmt.Sprintf("step %q: %v", step.Name, err), Cause: err}
			}
			if !expr.Eval(rc.ActiveTags) {
				logger.Debug("scheduler: step deactivated by tag expression.", "step", step.Name)
				continue
			}
		}

		merged, err := MergeStepParametersets(rc.Benchmark, step)
		if err != nil {
			return nil, nil, err
		}
		instances := paramexpand.Expand(merged)

		var parentGroups [][]*Workpackage
		if len(step.Depend) == 0 {
			parentGroups = [][]*Workpackage{{nil}}
		} else {
			for _, dep := range step.Depend {
				parents, ok := byStep[dep]
				if !ok {
					return nil, nil, &errs.ConfigError{Detail: fmt.Sprintf("step %q depends on unknown or inactive step %q", step.Name, dep)}
				}
				parentGroups = append(parentGroups, parents)
			}
		}
		combos := crossJoinCompatible(parentGroups)

		for _, combo := range combos {
			inherited := map[string]string{}
			var parentIDs []int
			for _, p := range combo {
				if p == nil {
					continue
				}
				for k, v := range p.Params {
					inherited[k] = v
				}
				parentIDs = append(parentIDs, p.ID)
			}

			for _, inst := range instances {
				combined := &paramexpand.Instance{Raw: map[string]string{}}
				for k, v := range inherited {
					combined.Raw[k] = v
				}
				for k, v := range inst.Raw {
					combined.Raw[k] = v
				}
				for iter := 0; iter < max(step.Iterations, 1); iter++ {
					resolved, err := resolver.Resolve(ctx, merged, combined)
					if err != nil {
						return nil, nil, err
					}
					id := nextID
					nextID++
					env := map[string]string{}
					for k := range resolved.Exported {
						env[k] = resolved.Values[k]
					}
					raw := make(map[string]string, len(combined.Raw))
					for k, v := range combined.Raw {
						raw[k] = v
					}
					wp := &Workpackage{
						ID:          id,
						Step:        step.Name,
						Suffix:      step.Suffix,
						Iteration:   iter,
						ParentIDs:   parentIDs,
						Params:      resolved.Values,
						Env:         env,
						Dir:         wpstore.WorkpackageDir(rc.BenchDir, id, step.Name, step.Suffix),
						CyclesTotal: max(step.Cycles, 1),
						Merged:      merged,
						Raw:         raw,
					}
					all[id] = wp
					byStep[step.Name] = append(byStep[step.Name], wp)
					nodeID := nodeIDFor(id)
					graph.AddNode(nodeID)
					for _, pid := range parentIDs {
						if err := graph.AddEdge(nodeIDFor(pid), nodeID); err != nil {
							return nil, nil, fmt.Errorf("scheduler: %w", err)
						}
					}
				}
			}
		}
	}

	if err := graph.DetectCycles(); err != nil {
		return nil, nil, &errs.ConfigError{Detail: err.Error(), Cause: err}
	}
	logger.Info("scheduler: built workpackage graph.", "workpackages", len(all))
	return graph, all, nil
}

func nodeIDFor(wpID int) string {
	return fmt.Sprintf("wp%d", wpID)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MergeStepParametersets merges the parametersets a step's Use list refers
// to. Filesets and substitutesets referenced by Use are ignored here; the
// executor consults step.Use directly for those at run time. Exported so
// doInfo/doUpdate can summarize a step's parameter space without
// duplicating the merge logic.
func MergeStepParametersets(b *config.Benchmark, step *config.Step) (*config.Parameterset, error) {
	var sets []*config.Parameterset
	for _, name := range step.Use {
		if ps, ok := b.Parametersets[name]; ok {
			sets = append(sets, ps)
		}
	}
	return paramexpand.Merge(sets...)
}

// topoOrder returns steps ordered so that every step appears after all
// steps it depends on (Kahn's algorithm), rejecting dependency cycles.
func topoOrder(steps []*config.Step) ([]*config.Step, error) {
	byName := map[string]*config.Step{}
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, s := range steps {
		byName[s.Name] = s
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.Depend {
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var queue []string
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	sort.Strings(queue)

	var out []*config.Step
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, byName[name])
		var freed []string
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}
	if len(out) != len(steps) {
		return nil, &errs.ConfigError{Detail: "step dependency graph contains a cycle"}
	}
	return out, nil
}

// crossJoinCompatible returns the Cartesian product of groups, dropping any
// combination where two parents disagree on a shared parameter's value
// (spec §4.4: only compatible parent workpackages are combined).
func crossJoinCompatible(groups [][]*Workpackage) [][]*Workpackage {
	combos := [][]*Workpackage{{}}
	for _, group := range groups {
		var next [][]*Workpackage
		for _, combo := range combos {
			for _, wp := range group {
				if compatible(combo, wp) {
					extended := append(append([]*Workpackage(nil), combo...), wp)
					next = append(next, extended)
				}
			}
		}
		combos = next
	}
	return combos
}

func compatible(combo []*Workpackage, candidate *Workpackage) bool {
	for _, existing := range combo {
		for k, v := range existing.Params {
			if cv, ok := candidate.Params[k]; ok && cv != v {
				return false
			}
		}
	}
	return true
}
