package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/wpstore"
)

type testWp struct {
	ID     int
	Step   string
	Dir    string
	Params map[string]string
}

func setupBenchWithOneDoneWorkpackage(t *testing.T, step string, doLogFile string) (string, *testWp) {
	t.Helper()
	outPath := t.TempDir()
	benchDir := wpstore.BenchmarkDir(outPath, 1, "bench")
	if err := wpstore.InitBenchmark(benchDir); err != nil {
		t.Fatal(err)
	}
	wp := &testWp{ID: 1, Step: step, Dir: wpstore.WorkpackageDir(benchDir, 1, step, ""), Params: map[string]string{"n": "1"}}
	if err := os.MkdirAll(wpstore.WorkDir(wp.Dir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := wpstore.MarkDone(wp.Dir); err != nil {
		t.Fatal(err)
	}
	if doLogFile != "" {
		if err := os.WriteFile(filepath.Join(wpstore.WorkDir(wp.Dir), doLogFile), []byte("log output\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	graph := map[string]*testWp{"wp1": wp}
	if err := wpstore.WriteGraphSnapshot(benchDir, graph); err != nil {
		t.Fatal(err)
	}
	return outPath, wp
}

func modelWithAnalyserAndResult(stepName string) *config.Model {
	def := "0"
	patternset := &config.Patternset{
		Name:     "ps",
		Patterns: map[string]*config.Pattern{"value": {Name: "value", Regex: `value=(\d+)`, Default: &def}},
		Order:    []string{"value"},
	}
	return &config.Model{
		Benchmarks: []*config.Benchmark{{
			Name:        "bench",
			Patternsets: map[string]*config.Patternset{"ps": patternset},
			Steps:       []*config.Step{{Name: stepName}},
			Analysers:   []*config.Analyser{{Name: "an", Step: stepName, Use: []string{"ps"}, Files: []*config.AnalyseFile{{Glob: "*.log"}}}},
			Results:     []*config.Result{{Name: "res", Analyser: "an", Table: &config.TableResult{Style: "csv"}}},
		}},
	}
}

func TestDoAnalyse_ProducesOneRowPerDoneWorkpackage(t *testing.T) {
	t.Parallel()
	outPath, wp := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	if err := os.WriteFile(filepath.Join(wpstore.WorkDir(wp.Dir), "out.log"), []byte("value=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	model := modelWithAnalyserAndResult("compile")
	var out strings.Builder
	a := &App{outW: &writerAdapter{&out}, logger: newLogger("", "", os.Stderr), loader: &fakeLoader{model: model}}
	cfg := &Config{Operation: "analyse", OutPath: outPath, GridPath: "grid.hcl", BenchID: 1}

	if err := a.doAnalyse(context.Background(), cfg); err != nil {
		t.Fatalf("doAnalyse() returned error: %v", err)
	}

	benchDir, err := findBenchDir(outPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := readAnalysisRows(benchDir, "an")
	if err != nil {
		t.Fatalf("readAnalysisRows() returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].Values["value"] != "7" {
		t.Errorf("value = %q, want %q", rows[0].Values["value"], "7")
	}
}

func TestDoResult_RendersTableFromPersistedRows(t *testing.T) {
	t.Parallel()
	outPath, wp := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	if err := os.WriteFile(filepath.Join(wpstore.WorkDir(wp.Dir), "out.log"), []byte("value=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	model := modelWithAnalyserAndResult("compile")
	var analyseOut strings.Builder
	a := &App{outW: &writerAdapter{&analyseOut}, logger: newLogger("", "", os.Stderr), loader: &fakeLoader{model: model}}
	cfg := &Config{Operation: "analyse", OutPath: outPath, GridPath: "grid.hcl", BenchID: 1}
	if err := a.doAnalyse(context.Background(), cfg); err != nil {
		t.Fatalf("doAnalyse() returned error: %v", err)
	}

	var resultOut strings.Builder
	a.outW = &writerAdapter{&resultOut}
	cfg.Operation = "result"
	if err := a.doResult(context.Background(), cfg); err != nil {
		t.Fatalf("doResult() returned error: %v", err)
	}
	if !strings.Contains(resultOut.String(), "value") {
		t.Errorf("result output missing the value column, got:\n%s", resultOut.String())
	}
}

func TestDoInfo_PrintsBenchDirectory(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	var out strings.Builder
	a := &App{outW: &writerAdapter{&out}, logger: newLogger("", "", os.Stderr)}
	if err := a.doInfo(context.Background(), &Config{OutPath: outPath, BenchID: 1}); err != nil {
		t.Fatalf("doInfo() returned error: %v", err)
	}
	if !strings.Contains(out.String(), "benchmark id 1") {
		t.Errorf("doInfo() output = %q, want it to mention the benchmark id", out.String())
	}
	if !strings.Contains(out.String(), `step "compile": 1/1 workpackage(s) done`) {
		t.Errorf("doInfo() output = %q, want a per-step done/total summary", out.String())
	}
	if !strings.Contains(out.String(), "n: 1 distinct value(s)") {
		t.Errorf("doInfo() output = %q, want a per-parameter distinct value count", out.String())
	}
}

func TestDoUpdate_ReevaluatesAlwaysModeParametersOnly(t *testing.T) {
	t.Parallel()
	outPath, wp := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	counter := &config.Parameter{Name: "clock", Mode: config.ModeShell, Value: "echo -n fresh", UpdateMode: config.UpdateAlways}
	fixed := &config.Parameter{Name: "n", Value: "1", UpdateMode: config.UpdateNever}
	model := &config.Model{Benchmarks: []*config.Benchmark{{
		Name: "bench",
		Parametersets: map[string]*config.Parameterset{
			"ps": {Name: "ps", Parameters: map[string]*config.Parameter{"clock": counter, "n": fixed}, Order: []string{"clock", "n"}},
		},
		Steps: []*config.Step{{Name: "compile", Use: []string{"ps"}}},
	}}}
	a := &App{outW: &writerAdapter{&strings.Builder{}}, logger: newLogger("", "", os.Stderr), loader: &fakeLoader{model: model}}
	cfg := &Config{OutPath: outPath, GridPath: "grid.hcl", BenchID: 1}

	if err := a.doUpdate(context.Background(), cfg); err != nil {
		t.Fatalf("doUpdate() returned error: %v", err)
	}

	params, err := wpstore.ReadParams(wp.Dir)
	if err != nil {
		t.Fatalf("ReadParams() returned error: %v", err)
	}
	if params["clock"] != "fresh" {
		t.Errorf("clock = %q, want %q (update_mode=always should re-resolve)", params["clock"], "fresh")
	}
	if params["n"] != "1" {
		t.Errorf("n = %q, want %q (update_mode=never should be left untouched)", params["n"], "1")
	}
}

func TestDoUpdate_RequiresGridPath(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	a := &App{outW: &writerAdapter{&strings.Builder{}}, logger: newLogger("", "", os.Stderr)}
	if err := a.doUpdate(context.Background(), &Config{OutPath: outPath, BenchID: 1}); err == nil {
		t.Fatal("doUpdate() should fail without --grid")
	}
}

func TestDoStatus_CountsDoneWorkpackages(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	var out strings.Builder
	a := &App{outW: &writerAdapter{&out}, logger: newLogger("", "", os.Stderr)}
	if err := a.doStatus(context.Background(), &Config{OutPath: outPath, BenchID: 1}); err != nil {
		t.Fatalf("doStatus() returned error: %v", err)
	}
	if !strings.Contains(out.String(), "1/1") {
		t.Errorf("doStatus() output = %q, want 1/1 workpackages done", out.String())
	}
}

func TestDoLog_PrintsCapturedDoLogFile(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "do.log")
	model := &config.Model{Benchmarks: []*config.Benchmark{{
		Name:  "bench",
		Steps: []*config.Step{{Name: "compile", DoLogFile: "do.log"}},
	}}}
	var out strings.Builder
	a := &App{outW: &writerAdapter{&out}, logger: newLogger("", "", os.Stderr), loader: &fakeLoader{model: model}}
	cfg := &Config{OutPath: outPath, GridPath: "grid.hcl", BenchID: 1, Step: "compile"}

	if err := a.doLog(context.Background(), cfg); err != nil {
		t.Fatalf("doLog() returned error: %v", err)
	}
	if !strings.Contains(out.String(), "log output") {
		t.Errorf("doLog() output = %q, want it to contain the captured log", out.String())
	}
}

func TestDoLog_FailsWhenStepHasNoCapturedOutput(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	model := &config.Model{Benchmarks: []*config.Benchmark{{
		Name:  "bench",
		Steps: []*config.Step{{Name: "compile"}},
	}}}
	a := &App{outW: &writerAdapter{&strings.Builder{}}, logger: newLogger("", "", os.Stderr), loader: &fakeLoader{model: model}}
	cfg := &Config{OutPath: outPath, GridPath: "grid.hcl", BenchID: 1, Step: "compile"}

	if err := a.doLog(context.Background(), cfg); err == nil {
		t.Fatal("doLog() should fail when the step has no do_log_file configured")
	}
}

func TestDoComment_AppendsToCommentFile(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	a := &App{outW: &writerAdapter{&strings.Builder{}}, logger: newLogger("", "", os.Stderr)}
	cfg := &Config{OutPath: outPath, BenchID: 1, Comment: "first note"}
	if err := a.doComment(context.Background(), cfg); err != nil {
		t.Fatalf("doComment() returned error: %v", err)
	}
	cfg.Comment = "second note"
	if err := a.doComment(context.Background(), cfg); err != nil {
		t.Fatalf("doComment() returned error: %v", err)
	}

	benchDir, err := findBenchDir(outPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(benchDir, "comment.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "first note") || !strings.Contains(string(data), "second note") {
		t.Errorf("comment.txt = %q, want both notes appended", data)
	}
}

func TestDoRemove_DeletesBenchmarkDirectory(t *testing.T) {
	t.Parallel()
	outPath, _ := setupBenchWithOneDoneWorkpackage(t, "compile", "")
	a := &App{outW: &writerAdapter{&strings.Builder{}}, logger: newLogger("", "", os.Stderr)}
	if err := a.doRemove(context.Background(), &Config{OutPath: outPath, BenchID: 1}); err != nil {
		t.Fatalf("doRemove() returned error: %v", err)
	}
	if _, err := findBenchDir(outPath, 1); err == nil {
		t.Fatal("benchmark directory should no longer exist after doRemove()")
	}
}

type writerAdapter struct {
	b *strings.Builder
}

func (w *writerAdapter) Write(p []byte) (int, error) { return w.b.Write(p) }
