// Package wpstore is the on-disk workpackage store (spec §4.3): the layout
// under a benchmark's output directory, the sentinel files that mark a
// workpackage or one of its <do> operations complete, and the plain-text/JSON
// snapshots a `continue` run reloads to reconstruct scheduler state.
package wpstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vk/gridbench/internal/errs"
	"github.com/vk/gridbench/internal/version"
)

const (
	doneFile     = "done"
	versionFile  = "version"
	startedFile  = "started"
	configFile   = "config.json"
	graphFile    = "graph.json"
	paramsFile   = "parameters.txt"
	envFile      = "environment.txt"
	workSubdir   = "work"
	doDonePfx    = "wp_done_"
	doStartedPfx = "wp_started_"
)

// BenchmarkDir returns the on-disk root for one benchmark run, padded per
// spec §4.3 (e.g. "000042_my_bench").
func BenchmarkDir(outpath string, id int, name string) string {
	return filepath.Join(outpath, fmt.Sprintf("%06d_%s", id, sanitize(name)))
}

// WorkpackageDir returns the on-disk directory for one workpackage's step
// execution, including its optional suffix (e.g. "000003_run").
func WorkpackageDir(benchDir string, wpID int, step, suffix string) string {
	name := fmt.Sprintf("%06d_%s", wpID, sanitize(step))
	if suffix != "" {
		name += "_" + sanitize(suffix)
	}
	return filepath.Join(benchDir, name)
}

// WorkDir is the sandbox subdirectory of a workpackage directory that
// filesets and <do> shells execute in.
func WorkDir(wpDir string) string {
	return filepath.Join(wpDir, workSubdir)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

// InitBenchmark creates benchDir and stamps it with the running engine's
// version, so a later `continue` can detect a version mismatch.
func InitBenchmark(benchDir string) error {
	if err := os.MkdirAll(benchDir, 0o755); err != nil {
		return &errs.FilesystemError{Path: benchDir, Cause: err}
	}
	if err := os.WriteFile(filepath.Join(benchDir, versionFile), []byte(version.Current), 0o644); err != nil {
		return &errs.FilesystemError{Path: benchDir, Cause: err}
	}
	return os.WriteFile(filepath.Join(benchDir, startedFile), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// CheckVersion compares benchDir's stamped engine version against the
// running engine, returning a *errs.VersionMismatchError on mismatch. The
// caller decides (via --strict) whether that is fatal.
func CheckVersion(benchDir string) error {
	raw, err := os.ReadFile(filepath.Join(benchDir, versionFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &errs.FilesystemError{Path: benchDir, Cause: err}
	}
	persisted := strings.TrimSpace(string(raw))
	if persisted != version.Current {
		return &errs.VersionMismatchError{Persisted: persisted, Running: version.Current}
	}
	return nil
}

// WriteConfigSnapshot persists v (typically the resolved config.Model) as
// benchDir/config.json, satisfying spec §4.3's "stable, structured schema"
// contract with JSON rather than literal XML (see DESIGN.md).
func WriteConfigSnapshot(benchDir string, v any) error {
	return writeJSON(filepath.Join(benchDir, configFile), v)
}

// WriteGraphSnapshot persists the workpackage graph, so `continue` can
// rebuild scheduler state without re-expanding parameters.
func WriteGraphSnapshot(benchDir string, v any) error {
	return writeJSON(filepath.Join(benchDir, graphFile), v)
}

// ReadGraphSnapshot loads a previously written graph snapshot into v.
func ReadGraphSnapshot(benchDir string, v any) error {
	return readJSON(filepath.Join(benchDir, graphFile), v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	return nil
}

// WriteParams snapshots a workpackage's resolved parameters as sorted
// key=value lines, so a restart can reload them without re-running any
// shell/script evaluator (spec §4.3).
func WriteParams(wpDir string, params map[string]string) error {
	return writeKV(filepath.Join(wpDir, paramsFile), params)
}

// ReadParams reloads a snapshot written by WriteParams.
func ReadParams(wpDir string) (map[string]string, error) {
	return readKV(filepath.Join(wpDir, paramsFile))
}

// WriteEnv snapshots the environment a workpackage's <do> shells ran with.
func WriteEnv(wpDir string, env map[string]string) error {
	return writeKV(filepath.Join(wpDir, envFile), env)
}

// ReadEnv reloads a snapshot written by WriteEnv.
func ReadEnv(wpDir string) (map[string]string, error) {
	return readKV(filepath.Join(wpDir, envFile))
}

func writeKV(path string, kv map[string]string) error {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, kv[k])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	return nil
}

func readKV(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.FilesystemError{Path: path, Cause: err}
	}
	out := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// MarkDone writes the presence-only "done" sentinel for a fully completed
// workpackage.
func MarkDone(wpDir string) error {
	return touch(filepath.Join(wpDir, doneFile))
}

// IsDone reports whether wpDir's workpackage has completed.
func IsDone(wpDir string) bool {
	_, err := os.Stat(filepath.Join(wpDir, doneFile))
	return err == nil
}

// MarkDoDone writes the presence-only "wp_done_NN" sentinel for one <do>
// operation, keyed by idx = cycle*len(step.Do)+doIndex (spec §4.3), so a
// process killed mid-cycle resumes at the exact <do> it reached rather than
// re-running the whole cycle.
func MarkDoDone(wpDir string, idx int) error {
	return touch(filepath.Join(wpDir, doDoneName(idx)))
}

// IsDoDone reports whether the <do> at idx has already completed.
func IsDoDone(wpDir string, idx int) bool {
	_, err := os.Stat(filepath.Join(wpDir, doDoneName(idx)))
	return err == nil
}

func doDoneName(idx int) string {
	return doDonePfx + strconv.Itoa(idx)
}

// MarkAsyncStarted records that the async <do> at idx has already been
// launched, so a re-probing continue only re-checks its sentinel files
// instead of relaunching the shell.
func MarkAsyncStarted(wpDir string, idx int) error {
	return touch(filepath.Join(wpDir, doStartedName(idx)))
}

// IsAsyncStarted reports whether the async <do> at idx has been launched.
func IsAsyncStarted(wpDir string, idx int) bool {
	_, err := os.Stat(filepath.Join(wpDir, doStartedName(idx)))
	return err == nil
}

func doStartedName(idx int) string {
	return doStartedPfx + strconv.Itoa(idx)
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return &errs.FilesystemError{Path: path, Cause: err}
	}
	return f.Close()
}
