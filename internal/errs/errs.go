// Package errs defines the engine's error kinds (spec §7): Config,
// Resolution, Filesystem, Execution, AsyncFailure, Analyzer, and
// VersionMismatch. Each wraps an underlying cause so callers can both
// errors.As to the specific kind and errors.Is/Unwrap through to the cause.
package errs

import "fmt"

// ConfigError signals a schema violation, a missing referenced set, or
// incompatible parametersets. Config errors abort the benchmark at load.
type ConfigError struct {
	Detail string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("config: %s", e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ResolutionError signals an unresolved $var after five passes, a
// scripting-evaluation failure, or a type-check failure. It fails only the
// affected workpackage.
type ResolutionError struct {
	Detail string
	Cause  error
}

func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolution: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("resolution: %s", e.Detail)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// FilesystemError signals a missing source file for link/copy or a
// permission failure.
type FilesystemError struct {
	Path  string
	Cause error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem: %s: %v", e.Path, e.Cause)
}

func (e *FilesystemError) Unwrap() error { return e.Cause }

// ExecutionError signals a shell command non-zero exit. StderrTail holds the
// last five captured lines of stderr, per spec §7's user-visible contract.
type ExecutionError struct {
	Command    string
	ExitCode   int
	StderrTail []string
	Cause      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: command %q exited %d: %v", e.Command, e.ExitCode, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// AsyncFailureError signals that a <do>'s error_file appeared.
type AsyncFailureError struct {
	ErrorFile string
}

func (e *AsyncFailureError) Error() string {
	return fmt.Sprintf("async failure: error_file %q present", e.ErrorFile)
}

// AnalyzerError signals a circular pattern derivation or a corrupt analyzer
// state file. File-read failures are warned, not wrapped in this type.
type AnalyzerError struct {
	Detail string
	Cause  error
}

func (e *AnalyzerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("analyzer: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("analyzer: %s", e.Detail)
}

func (e *AnalyzerError) Unwrap() error { return e.Cause }

// VersionMismatchError signals that a persisted benchmark was created by a
// different engine version. Under --strict this escalates load to fatal;
// otherwise it is only warned.
type VersionMismatchError struct {
	Persisted string
	Running   string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: benchmark was created by %q, running engine is %q", e.Persisted, e.Running)
}
