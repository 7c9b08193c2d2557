package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/dag"
	"github.com/vk/gridbench/internal/errs"
	"github.com/vk/gridbench/internal/wpstore"
)

func newWorkpackage(t *testing.T, benchDir, step string) *Workpackage {
	t.Helper()
	return &Workpackage{
		ID:          1,
		Step:        step,
		Params:      map[string]string{},
		Env:         map[string]string{},
		Dir:         wpstore.WorkpackageDir(benchDir, 1, step, ""),
		CyclesTotal: 1,
	}
}

func TestExec_SyncDoSuccessMarksWorkpackageDone(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{Name: "compile", Do: []*config.Do{{Shell: "true"}}}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}
	wp := newWorkpackage(t, benchDir, "compile")
	all := map[int]*Workpackage{1: wp}

	exec := Exec(rc, all)
	if err := exec(context.Background(), &dag.Node{ID: "wp1"}); err != nil {
		t.Fatalf("exec returned error: %v", err)
	}
	if !wpstore.IsDone(wp.Dir) {
		t.Error("workpackage should be marked done after a successful <do>")
	}
}

func TestExec_SyncDoFailureReportsStderrTail(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{Name: "compile", Do: []*config.Do{{Shell: "echo boom 1>&2; exit 7"}}}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}
	wp := newWorkpackage(t, benchDir, "compile")
	all := map[int]*Workpackage{1: wp}

	exec := Exec(rc, all)
	err := exec(context.Background(), &dag.Node{ID: "wp1"})
	if err == nil {
		t.Fatal("exec should report the non-zero exit")
	}
	var execErr *errs.ExecutionError
	if !asExecutionError(err, &execErr) {
		t.Fatalf("expected *errs.ExecutionError, got %T", err)
	}
	if execErr.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", execErr.ExitCode)
	}
	if len(execErr.StderrTail) == 0 || execErr.StderrTail[0] != "boom" {
		t.Errorf("StderrTail = %v, want [\"boom\"]", execErr.StderrTail)
	}
}

func asExecutionError(err error, target **errs.ExecutionError) bool {
	ee, ok := err.(*errs.ExecutionError)
	if ok {
		*target = ee
	}
	return ok
}

func TestExec_DoLogFileCapturesOutput(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{Name: "compile", DoLogFile: "do.log", Do: []*config.Do{{Shell: "echo hello"}}}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}
	wp := newWorkpackage(t, benchDir, "compile")
	all := map[int]*Workpackage{1: wp}

	exec := Exec(rc, all)
	if err := exec(context.Background(), &dag.Node{ID: "wp1"}); err != nil {
		t.Fatalf("exec returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(wpstore.WorkDir(wp.Dir), "do.log"))
	if err != nil {
		t.Fatalf("expected do.log to be written: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("do.log = %q, want %q", data, "hello\n")
	}
}

func TestExec_AsyncDoSuspendsThenResumesOnReProbe(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{
		Name: "launch",
		Do:   []*config.Do{{Shell: "sleep 1 && touch finished.marker", DoneFile: "finished.marker"}},
	}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}
	wp := newWorkpackage(t, benchDir, "launch")
	all := map[int]*Workpackage{1: wp}

	exec := Exec(rc, all)
	start := time.Now()
	err := exec(context.Background(), &dag.Node{ID: "wp1"})
	if !errors.Is(err, dag.ErrAwaitingSentinel) {
		t.Fatalf("expected an error wrapping dag.ErrAwaitingSentinel while the sentinel is missing, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("exec should suspend promptly instead of blocking on the sentinel, took %v", time.Since(start))
	}
	if !wpstore.IsAsyncStarted(wp.Dir, 0) {
		t.Error("the async <do> should be marked started so a re-probe does not relaunch it")
	}

	time.Sleep(1200 * time.Millisecond)
	if err := exec(context.Background(), &dag.Node{ID: "wp1"}); err != nil {
		t.Fatalf("re-probe exec returned error: %v", err)
	}
	if !wpstore.IsDone(wp.Dir) {
		t.Error("the workpackage should be marked done once the sentinel is found on re-probe")
	}
}

func TestExec_AsyncDoErrorFileFailsTheWorkpackage(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{
		Name: "launch",
		Do:   []*config.Do{{Shell: "touch failed.marker", ErrorFile: "failed.marker"}},
	}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}
	wp := newWorkpackage(t, benchDir, "launch")
	all := map[int]*Workpackage{1: wp}

	exec := Exec(rc, all)
	err := exec(context.Background(), &dag.Node{ID: "wp1"})
	if err == nil {
		t.Fatal("exec should fail when error_file appears")
	}
	var asyncErr *errs.AsyncFailureError
	if !asAsyncFailureError(err, &asyncErr) {
		t.Fatalf("expected *errs.AsyncFailureError, got %T", err)
	}
}

func asAsyncFailureError(err error, target **errs.AsyncFailureError) bool {
	ae, ok := err.(*errs.AsyncFailureError)
	if ok {
		*target = ae
	}
	return ok
}

func TestExec_SharedDoSerializesAcrossWorkpackages(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{Name: "record", Do: []*config.Do{{Shell: "echo x >> log.txt", Shared: true}}}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}

	wp1 := newWorkpackage(t, benchDir, "record")
	wp2 := &Workpackage{ID: 2, Step: "record", Params: map[string]string{}, Env: map[string]string{}, Dir: wpstore.WorkpackageDir(benchDir, 2, "record", ""), CyclesTotal: 1}
	all := map[int]*Workpackage{1: wp1, 2: wp2}

	exec := Exec(rc, all)
	done := make(chan error, 2)
	go func() { done <- exec(context.Background(), &dag.Node{ID: "wp1"}) }()
	go func() { done <- exec(context.Background(), &dag.Node{ID: "wp2"}) }()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("exec returned error: %v", err)
		}
	}
}

func TestExec_AlreadyDoneWorkpackageIsSkipped(t *testing.T) {
	t.Parallel()
	benchDir := t.TempDir()
	step := &config.Step{Name: "compile", Do: []*config.Do{{Shell: "exit 1"}}}
	bench := &config.Benchmark{Steps: []*config.Step{step}}
	rc := &RunContext{BenchDir: benchDir, Benchmark: bench}
	wp := newWorkpackage(t, benchDir, "compile")
	all := map[int]*Workpackage{1: wp}

	if err := wpstore.MarkDone(wp.Dir); err != nil {
		t.Fatal(err)
	}

	exec := Exec(rc, all)
	if err := exec(context.Background(), &dag.Node{ID: "wp1"}); err != nil {
		t.Fatalf("exec should not re-run an already-done workpackage, got error: %v", err)
	}
}
