package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/gridbench/internal/analyzer"
	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/paramexpand"
	"github.com/vk/gridbench/internal/result"
	"github.com/vk/gridbench/internal/scheduler"
	"github.com/vk/gridbench/internal/wpstore"
)

func analysisPath(benchDir, name string) string {
	return filepath.Join(benchDir, "analyse_"+name+".json")
}

// doAnalyse runs every analyser declared on the benchmark that produced
// benchDir against its already-completed workpackages, and persists the
// rows for a later `result` invocation (spec §6 `analyse`).
func (a *App) doAnalyse(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	if cfg.GridPath == "" {
		return fmt.Errorf("app: analyse requires the original grid path via --grid alongside --id %d", cfg.BenchID)
	}
	model, err := a.loader.Load(ctx, cfg.GridPath)
	if err != nil {
		return err
	}

	var graph map[string]*struct {
		ID     int
		Step   string
		Dir    string
		Params map[string]string
	}
	if err := wpstore.ReadGraphSnapshot(benchDir, &graph); err != nil {
		return err
	}

	for _, bench := range model.Benchmarks {
		for _, an := range bench.Analysers {
			var rows []*analyzer.Row
			for _, wp := range graph {
				if wp.Step != an.Step || !wpstore.IsDone(wp.Dir) {
					continue
				}
				row, err := analyzer.Analyze(an, bench.Patternsets, wpstore.WorkDir(wp.Dir), wp.ID, wp.Params)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			if err := writeAnalysisRows(benchDir, an.Name, rows); err != nil {
				return err
			}
			fmt.Fprintf(a.outW, "analyser %q produced %d row(s)\n", an.Name, len(rows))
		}
	}
	return nil
}

func writeAnalysisRows(benchDir, name string, rows []*analyzer.Row) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(analysisPath(benchDir, name), data, 0o644)
}

func readAnalysisRows(benchDir, name string) ([]*analyzer.Row, error) {
	data, err := os.ReadFile(analysisPath(benchDir, name))
	if err != nil {
		return nil, fmt.Errorf("app: no analysis output for %q; run `analyse` first: %w", name, err)
	}
	var rows []*analyzer.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// doResult composes every result block for the benchmark's results, reading
// rows previously written by doAnalyse (spec §6 `result`).
func (a *App) doResult(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	if cfg.GridPath == "" {
		return fmt.Errorf("app: result requires the original grid path via --grid alongside --id %d", cfg.BenchID)
	}
	model, err := a.loader.Load(ctx, cfg.GridPath)
	if err != nil {
		return err
	}

	for _, bench := range model.Benchmarks {
		for _, res := range bench.Results {
			rows, err := readAnalysisRows(benchDir, res.Analyser)
			if err != nil {
				return err
			}
			if res.Reduce || cfg.ResultReduce {
				rows = analyzer.ReduceRows(rows, func(r *analyzer.Row) string {
					return fmt.Sprint(r.Params)
				})
			}
			if err := composeResult(a, cfg, res, rows); err != nil {
				return err
			}
		}
	}
	return nil
}

func composeResult(a *App, cfg *Config, res *config.Result, rows []*analyzer.Row) error {
	if res.Table != nil {
		style := res.Table.Style
		if cfg.TableStyle != "" {
			style = cfg.TableStyle
		}
		tcfg := *res.Table
		tcfg.Style = style
		if err := result.WriteTable(a.outW, &tcfg, rows); err != nil {
			return err
		}
	}
	if res.Syslog != nil {
		if err := result.SendSyslog(res.Syslog, rows); err != nil {
			return err
		}
	}
	if res.Database != nil {
		if err := result.WriteDatabase(res.Database, rows); err != nil {
			return err
		}
	}
	return nil
}

// doInfo prints a benchmark's directory plus, per step, how many of its
// workpackages have completed and how many distinct values each of its
// parameters took across the expanded space (spec §6 `info`).
func (a *App) doInfo(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.outW, "benchmark id %d at %s\n", cfg.BenchID, benchDir)

	var graph map[string]*struct {
		ID     int
		Step   string
		Dir    string
		Params map[string]string
	}
	if err := wpstore.ReadGraphSnapshot(benchDir, &graph); err != nil {
		return err
	}

	type stepInfo struct {
		total, done int
		distinct    map[string]map[string]bool
	}
	steps := map[string]*stepInfo{}
	var order []string
	for _, wp := range graph {
		si, ok := steps[wp.Step]
		if !ok {
			si = &stepInfo{distinct: map[string]map[string]bool{}}
			steps[wp.Step] = si
			order = append(order, wp.Step)
		}
		si.total++
		if wpstore.IsDone(wp.Dir) {
			si.done++
		}
		for k, v := range wp.Params {
			if k == "jube_wp_cycle" {
				continue
			}
			if si.distinct[k] == nil {
				si.distinct[k] = map[string]bool{}
			}
			si.distinct[k][v] = true
		}
	}
	sort.Strings(order)

	for _, step := range order {
		si := steps[step]
		fmt.Fprintf(a.outW, "step %q: %d/%d workpackage(s) done\n", step, si.done, si.total)
		var names []string
		for name := range si.distinct {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(a.outW, "  %s: %d distinct value(s)\n", name, len(si.distinct[name]))
		}
	}
	return nil
}

// doUpdate re-resolves every update_mode="always" parameter in the original
// grid and persists the refreshed values for every workpackage of the steps
// that declare one (spec §9 `update`). Other cadences (never/use/step/cycle)
// only re-evaluate within a run or continue; update exists specifically to
// refresh "always" parameters (clocks, environment probes, live tags)
// between runs without re-executing anything.
func (a *App) doUpdate(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	if cfg.GridPath == "" {
		return fmt.Errorf("app: update requires the original grid path via --grid alongside --id %d", cfg.BenchID)
	}
	model, err := a.loader.Load(ctx, cfg.GridPath)
	if err != nil {
		return err
	}

	var graph map[string]*struct {
		ID     int
		Step   string
		Dir    string
		Params map[string]string
	}
	if err := wpstore.ReadGraphSnapshot(benchDir, &graph); err != nil {
		return err
	}

	resolver := paramexpand.NewResolver(parseTags(cfg.Tag))
	updated := 0
	for _, bench := range model.Benchmarks {
		for _, step := range bench.Steps {
			merged, err := scheduler.MergeStepParametersets(bench, step)
			if err != nil {
				return err
			}
			if !hasAlwaysParam(merged) {
				continue
			}
			for _, wp := range graph {
				if wp.Step != step.Name {
					continue
				}
				if err := updateAlwaysParams(ctx, resolver, merged, wp); err != nil {
					return err
				}
				updated++
			}
		}
	}
	fmt.Fprintf(a.outW, "re-evaluated always-mode parameters for %d workpackage(s)\n", updated)
	return nil
}

func hasAlwaysParam(ps *config.Parameterset) bool {
	for _, name := range ps.Order {
		if ps.Parameters[name].UpdateMode == config.UpdateAlways {
			return true
		}
	}
	return false
}

func updateAlwaysParams(ctx context.Context, resolver *paramexpand.Resolver, merged *config.Parameterset, wp *struct {
	ID     int
	Step   string
	Dir    string
	Params map[string]string
}) error {
	inst := &paramexpand.Instance{Raw: map[string]string{}}
	for k, v := range wp.Params {
		inst.Raw[k] = v
	}
	for _, name := range merged.Order {
		p := merged.Parameters[name]
		if p.UpdateMode == config.UpdateAlways {
			inst.Raw[name] = p.Value
		}
	}
	resolved, err := resolver.Resolve(ctx, merged, inst)
	if err != nil {
		return err
	}
	for _, name := range merged.Order {
		if merged.Parameters[name].UpdateMode == config.UpdateAlways {
			wp.Params[name] = resolved.Values[name]
		}
	}
	return wpstore.WriteParams(wp.Dir, wp.Params)
}

// doStatus prints how many of the benchmark's workpackages carry the done
// marker, as one done/total count (spec §6 `status`).
func (a *App) doStatus(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	var graph map[string]*struct {
		ID   int
		Step string
		Dir  string
	}
	if err := wpstore.ReadGraphSnapshot(benchDir, &graph); err != nil {
		return err
	}
	done, total := 0, len(graph)
	for _, wp := range graph {
		if wpstore.IsDone(wp.Dir) {
			done++
		}
	}
	fmt.Fprintf(a.outW, "%d/%d workpackages done\n", done, total)
	return nil
}

// doLog prints every matching workpackage's captured <do> output, for a
// step configured with do_log_file (spec §6 `log`).
func (a *App) doLog(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	if cfg.GridPath == "" {
		return fmt.Errorf("app: log requires the original grid path via --grid alongside --id %d", cfg.BenchID)
	}
	model, err := a.loader.Load(ctx, cfg.GridPath)
	if err != nil {
		return err
	}

	var graph map[string]*struct {
		ID   int
		Step string
		Dir  string
	}
	if err := wpstore.ReadGraphSnapshot(benchDir, &graph); err != nil {
		return err
	}

	found := 0
	for _, bench := range model.Benchmarks {
		step := bench.StepByName(cfg.Step)
		if step == nil || step.DoLogFile == "" {
			continue
		}
		for _, wp := range graph {
			if wp.Step != cfg.Step {
				continue
			}
			logPath := filepath.Join(wpstore.WorkDir(wp.Dir), step.DoLogFile)
			data, err := os.ReadFile(logPath)
			if err != nil {
				continue
			}
			fmt.Fprintf(a.outW, "--- workpackage %d ---\n", wp.ID)
			a.outW.Write(data)
			found++
		}
	}
	if found == 0 {
		return fmt.Errorf("app: no captured log output for step %q", cfg.Step)
	}
	return nil
}

// doComment appends a free-text annotation to a benchmark run (spec §6
// `comment`).
func (a *App) doComment(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(benchDir, "comment.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(cfg.Comment + "\n")
	return err
}

// doRemove deletes a benchmark run's on-disk directory (spec §6 `remove`).
func (a *App) doRemove(ctx context.Context, cfg *Config) error {
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	return os.RemoveAll(benchDir)
}
