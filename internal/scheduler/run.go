package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/ctxlog"
	"github.com/vk/gridbench/internal/dag"
	"github.com/vk/gridbench/internal/errs"
	"github.com/vk/gridbench/internal/fileset"
	"github.com/vk/gridbench/internal/paramexpand"
	"github.com/vk/gridbench/internal/tagexpr"
	"github.com/vk/gridbench/internal/wpstore"
)

// asyncGraceIterations and asyncGracePollInterval bound how long runAsyncDo
// waits for a sentinel file before suspending the workpackage: long enough
// that a near-instant shell (e.g. "touch done.marker") is caught inline, but
// never an unbounded block (spec §4.4 continue).
const (
	asyncGraceIterations   = 3
	asyncGracePollInterval = 20 * time.Millisecond
)

// Exec returns the internal/dag.ExecFunc that runs one workpackage: it
// materializes the step's filesets/substitutesets, then runs every cycle's
// <do> operations in order, suspending rather than blocking when an async
// <do>'s sentinel has not yet appeared (spec §4.4/§4.5).
func Exec(rc *RunContext, all map[int]*Workpackage) dag.ExecFunc {
	return func(ctx context.Context, n *dag.Node) error {
		id, err := idFromNodeID(n.ID)
		if err != nil {
			return err
		}
		wp := all[id]
		step := rc.Benchmark.StepByName(wp.Step)
		if step == nil {
			return &errs.ConfigError{Detail: fmt.Sprintf("workpackage %d: unknown step %q", wp.ID, wp.Step)}
		}
		return runWorkpackage(ctx, rc, wp, step)
	}
}

func idFromNodeID(nodeID string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(nodeID, "wp%d", &id); err != nil {
		return 0, fmt.Errorf("scheduler: malformed node id %q", nodeID)
	}
	return id, nil
}

func runWorkpackage(ctx context.Context, rc *RunContext, wp *Workpackage, step *config.Step) error {
	logger := ctxlog.FromContext(ctx).With("workpackage", wp.ID, "step", wp.Step)
	if wpstore.IsDone(wp.Dir) {
		logger.Debug("scheduler: workpackage already done, skipping.")
		return nil
	}

	workDir := wpstore.WorkDir(wp.Dir)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return &errs.FilesystemError{Path: workDir, Cause: err}
	}
	if err := wpstore.WriteParams(wp.Dir, wp.Params); err != nil {
		return err
	}
	if err := wpstore.WriteEnv(wp.Dir, wp.Env); err != nil {
		return err
	}

	for _, name := range step.Use {
		if fs, ok := rc.Benchmark.Filesets[name]; ok {
			if err := fileset.Materialize(ctx, fs, rc.BenchDir, workDir, wp.Params, rc.ActiveTags); err != nil {
				return err
			}
		}
	}

	ndo := len(step.Do)
	for cycle := 0; cycle < wp.CyclesTotal; cycle++ {
		if cycleFullyDone(wp.Dir, ndo, cycle) {
			continue
		}
		if cycle > 0 {
			if err := reresolveCycleParams(ctx, rc, wp); err != nil {
				return err
			}
		}
		wp.Params["jube_wp_cycle"] = strconv.Itoa(cycle)
		for _, name := range step.Use {
			if ss, ok := rc.Benchmark.Substitutesets[name]; ok {
				if err := fileset.Substitute(ss, workDir, wp.Params); err != nil {
					return err
				}
			}
		}
		if err := runCycle(ctx, rc, wp, step, workDir, cycle); err != nil {
			return err
		}
	}

	if err := wpstore.MarkDone(wp.Dir); err != nil {
		return err
	}
	logger.Info("scheduler: workpackage completed.")
	return nil
}

// cycleFullyDone reports whether every <do> of cycle has its per-index
// sentinel, so runWorkpackage can skip a cycle without re-running any of its
// substitutions or cycle-scoped parameter re-resolution.
func cycleFullyDone(wpDir string, ndo, cycle int) bool {
	if ndo == 0 {
		return true
	}
	for i := 0; i < ndo; i++ {
		if !wpstore.IsDoDone(wpDir, cycle*ndo+i) {
			return false
		}
	}
	return true
}

// reresolveCycleParams re-evaluates wp's merged parameterset against its
// original (unresolved) instance values, folding only update_mode=cycle and
// update_mode=always parameters into wp.Params/wp.Env (spec §4.1: "step",
// "use" and "never" cadences are already satisfied by Build's one
// resolution per workpackage; only these two need re-evaluation on every
// pass through this cycle loop).
func reresolveCycleParams(ctx context.Context, rc *RunContext, wp *Workpackage) error {
	if wp.Merged == nil || rc.Resolver == nil {
		return nil
	}
	inst := &paramexpand.Instance{Raw: make(map[string]string, len(wp.Raw))}
	for k, v := range wp.Raw {
		inst.Raw[k] = v
	}
	resolved, err := rc.Resolver.Resolve(ctx, wp.Merged, inst)
	if err != nil {
		return err
	}

	changed := false
	for _, name := range wp.Merged.Order {
		p := wp.Merged.Parameters[name]
		if p.UpdateMode != config.UpdateCycle && p.UpdateMode != config.UpdateAlways {
			continue
		}
		wp.Params[name] = resolved.Values[name]
		if p.Export {
			wp.Env[name] = resolved.Values[name]
		}
		changed = true
	}
	if !changed {
		return nil
	}
	if err := wpstore.WriteParams(wp.Dir, wp.Params); err != nil {
		return err
	}
	return wpstore.WriteEnv(wp.Dir, wp.Env)
}

func runCycle(ctx context.Context, rc *RunContext, wp *Workpackage, step *config.Step, workDir string, cycle int) error {
	logger := ctxlog.FromContext(ctx).With("workpackage", wp.ID, "cycle", cycle)
	ndo := len(step.Do)
	for i, do := range step.Do {
		idx := cycle*ndo + i
		if wpstore.IsDoDone(wp.Dir, idx) {
			continue
		}

		if do.Active != "" {
			expr, err := tagexpr.Parse(do.Active)
			if err != nil {
				return &errs.ConfigError{Detail: fmt.Sprintf("workpackage %d: %v", wp.ID, err), Cause: err}
			}
			if !expr.Eval(rc.ActiveTags) {
				if err := wpstore.MarkDoDone(wp.Dir, idx); err != nil {
					return err
				}
				continue
			}
		}

		run := func() error { return runDo(ctx, rc, wp, step, do, workDir, idx) }
		if do.Shared {
			lock := rc.sharedLock(step.Name)
			lock.Lock()
			err := run()
			lock.Unlock()
			if err != nil {
				return err
			}
		} else {
			slot := rc.asyncSlot(step.Name, step.MaxAsync)
			slot <- struct{}{}
			err := run()
			<-slot
			if err != nil {
				return err
			}
		}

		if err := wpstore.MarkDoDone(wp.Dir, idx); err != nil {
			return err
		}
		logger.Debug("scheduler: <do> completed.", "index", idx)
	}
	return nil
}

func runDo(ctx context.Context, rc *RunContext, wp *Workpackage, step *config.Step, do *config.Do, workDir string, idx int) error {
	shell := os.Getenv("JUBE_EXEC_SHELL")
	if shell == "" {
		shell = os.Getenv("SHELL_OVERRIDE")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	if do.DoneFile != "" || do.ErrorFile != "" {
		return runAsyncDo(ctx, rc, wp, do, workDir, shell, idx)
	}

	cmd := exec.CommandContext(ctx, shell, "-c", do.Shell)
	cmd.Dir = workDir
	cmd.Env = buildEnv(rc, wp)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if step.DoLogFile != "" {
		logFile, err := os.OpenFile(filepath.Join(workDir, step.DoLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return &errs.FilesystemError{Path: step.DoLogFile, Cause: err}
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = io.MultiWriter(logFile, &stderr)
	}

	if err := cmd.Run(); err != nil {
		return &errs.ExecutionError{
			Command:    do.Shell,
			ExitCode:   exitCode(err),
			StderrTail: lastLines(stderr.String(), 5),
			Cause:      err,
		}
	}
	return nil
}

// runAsyncDo launches do.Shell detached (once, tracked via
// wpstore.MarkAsyncStarted so a re-probe doesn't relaunch it) and polls its
// sentinel files for a bounded grace window. If no sentinel has appeared by
// the end of that window it returns an error wrapping dag.ErrAwaitingSentinel
// instead of blocking further, so the worker can suspend the workpackage and
// move on (spec §4.4: a run must return promptly, a later continue resumes
// it).
func runAsyncDo(ctx context.Context, rc *RunContext, wp *Workpackage, do *config.Do, workDir, shell string, idx int) error {
	if !wpstore.IsAsyncStarted(wp.Dir, idx) {
		cmd := exec.Command(shell, "-c", do.Shell)
		cmd.Dir = workDir
		cmd.Env = buildEnv(rc, wp)
		if err := cmd.Start(); err != nil {
			return &errs.ExecutionError{Command: do.Shell, Cause: err}
		}
		go cmd.Wait()
		if err := wpstore.MarkAsyncStarted(wp.Dir, idx); err != nil {
			return err
		}
	}

	donePath := filepath.Join(workDir, do.DoneFile)
	errorPath := filepath.Join(workDir, do.ErrorFile)
	breakPath := filepath.Join(workDir, do.BreakFile)

	for i := 0; i < asyncGraceIterations; i++ {
		if do.BreakFile != "" && exists(breakPath) {
			return nil
		}
		if do.ErrorFile != "" && exists(errorPath) {
			return &errs.AsyncFailureError{ErrorFile: errorPath}
		}
		if do.DoneFile != "" && exists(donePath) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(asyncGracePollInterval):
		}
	}
	return fmt.Errorf("scheduler: workpackage %d <do> %d: %w", wp.ID, idx, dag.ErrAwaitingSentinel)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func buildEnv(rc *RunContext, wp *Workpackage) []string {
	env := os.Environ()
	env = append(env,
		"JUBE_GROUP_NAME="+rc.GroupName,
		"JUBE_INCLUDE_PATH="+strings.Join(rc.IncludePath, ":"),
		"JUBE_WP_ID="+strconv.Itoa(wp.ID),
	)
	for k, v := range wp.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
