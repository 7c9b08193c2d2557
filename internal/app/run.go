package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/vk/gridbench/internal/ctxlog"
	"github.com/vk/gridbench/internal/dag"
	"github.com/vk/gridbench/internal/scheduler"
	"github.com/vk/gridbench/internal/wpstore"
)

// doRun loads GridPath, expands every selected benchmark into a
// workpackage graph, and executes it (spec §6 `run`).
func (a *App) doRun(ctx context.Context, cfg *Config) error {
	model, err := a.loader.Load(ctx, cfg.GridPath)
	if err != nil {
		return err
	}
	tags := parseTags(cfg.Tag)

	for _, bench := range model.Benchmarks {
		id := nextBenchID(cfg.OutPath)
		benchDir := wpstore.BenchmarkDir(cfg.OutPath, id, bench.Name)
		if err := wpstore.InitBenchmark(benchDir); err != nil {
			return err
		}
		fmt.Fprintf(a.outW, "benchmark %q started with id %d\n", bench.Name, id)

		rc := &scheduler.RunContext{
			BenchDir:    benchDir,
			GroupName:   bench.Name,
			IncludePath: append(cfg.IncludePath, model.IncludePath...),
			ActiveTags:  tags,
			Exit:        cfg.Exit,
			Procs:       procsFor(cfg),
			Benchmark:   bench,
		}
		if err := runBenchmark(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

// doContinue reloads a persisted graph and resumes any workpackage that has
// not yet completed (spec §6 `continue`), tolerating a stamped engine
// version mismatch unless --strict was given.
func (a *App) doContinue(ctx context.Context, cfg *Config) error {
	logger := ctxlog.FromContext(ctx)
	benchDir, err := findBenchDir(cfg.OutPath, cfg.BenchID)
	if err != nil {
		return err
	}
	if err := wpstore.CheckVersion(benchDir); err != nil {
		if cfg.Strict {
			return err
		}
		logger.Warn("continue: engine version mismatch, proceeding anyway.", "error", err)
	}

	if cfg.GridPath == "" {
		return fmt.Errorf("app: continue requires the original grid path via --grid alongside --id %d", cfg.BenchID)
	}
	model, err := a.loader.Load(ctx, cfg.GridPath)
	if err != nil {
		return err
	}
	tags := parseTags(cfg.Tag)
	for _, bench := range model.Benchmarks {
		rc := &scheduler.RunContext{
			BenchDir:    benchDir,
			GroupName:   bench.Name,
			IncludePath: append(cfg.IncludePath, model.IncludePath...),
			ActiveTags:  tags,
			Exit:        cfg.Exit,
			Procs:       procsFor(cfg),
			Benchmark:   bench,
		}
		if err := runBenchmark(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

func runBenchmark(ctx context.Context, rc *scheduler.RunContext) error {
	graph, all, err := scheduler.Build(ctx, rc)
	if err != nil {
		return err
	}
	if err := wpstore.WriteGraphSnapshot(rc.BenchDir, all); err != nil {
		return err
	}

	exec := &dag.Executor{
		Graph:         graph,
		NumWorkers:    rc.Procs,
		Exec:          scheduler.Exec(rc, all),
		StopOnFailure: rc.Exit,
	}
	return exec.Run(ctx)
}

func procsFor(cfg *Config) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return runtime.NumCPU()
}

func parseTags(raw string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out[t] = true
		}
	}
	return out
}

// nextBenchID scans outpath for existing "NNNNNN_*" directories and returns
// one past the highest found, starting at 1.
func nextBenchID(outpath string) int {
	entries, err := os.ReadDir(outpath)
	if err != nil {
		return 1
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(prefix); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// findBenchDir locates the benchmark directory stamped with id under
// outpath.
func findBenchDir(outpath string, id int) (string, error) {
	entries, err := os.ReadDir(outpath)
	if err != nil {
		return "", fmt.Errorf("app: read %s: %w", outpath, err)
	}
	want := fmt.Sprintf("%06d_", id)
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), want) {
			return filepath.Join(outpath, e.Name()), nil
		}
	}
	return "", fmt.Errorf("app: no benchmark with id %d under %s", id, outpath)
}
