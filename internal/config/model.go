// Package config defines the format-agnostic configuration model that the
// Parameter Expander, Scheduler, Analyzer and Result Composer depend on.
// internal/hcl is the only package that knows HCL is the concrete syntax;
// everything downstream of Loader.Load only ever sees this tree.
package config

// Model is a single parsed+merged grid document: include-path, selection,
// and one or more benchmarks (spec §6).
type Model struct {
	IncludePath []string
	Selection   string
	Benchmarks  []*Benchmark
}

// Benchmark is a container of named sets, steps, analyzers and results.
type Benchmark struct {
	Name           string
	Parametersets  map[string]*Parameterset
	Patternsets    map[string]*Patternset
	Filesets       map[string]*Fileset
	Substitutesets map[string]*Substituteset
	Steps          []*Step
	Analysers      []*Analyser
	Results        []*Result
}

// StepByName returns the step named name, or nil.
func (b *Benchmark) StepByName(name string) *Step {
	for _, s := range b.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ParamType is the declared type of a parameter or pattern value.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
)

// ParamMode determines how a parameter's raw value is evaluated.
type ParamMode string

const (
	ModeText   ParamMode = "text"
	ModeShell  ParamMode = "shell"
	ModeEnv    ParamMode = "env"
	ModeTag    ParamMode = "tag"
	scriptPfx            = "script:"
)

// ScriptBackend returns the interpreter name and true if m is a
// "script:<name>" mode.
func (m ParamMode) ScriptBackend() (string, bool) {
	s := string(m)
	if len(s) > len(scriptPfx) && s[:len(scriptPfx)] == scriptPfx {
		return s[len(scriptPfx):], true
	}
	return "", false
}

// UpdateMode controls re-evaluation cadence (spec §4.1).
type UpdateMode string

const (
	UpdateNever  UpdateMode = "never"
	UpdateUse    UpdateMode = "use"
	UpdateStep   UpdateMode = "step"
	UpdateCycle  UpdateMode = "cycle"
	UpdateAlways UpdateMode = "always"
)

// DuplicateMode controls merge behavior for a name shared by two set
// definitions (spec §3).
type DuplicateMode string

const (
	DuplicateNone    DuplicateMode = "none"
	DuplicateReplace DuplicateMode = "replace"
	DuplicateConcat  DuplicateMode = "concat"
	DuplicateError   DuplicateMode = "error"
)

// Parameter is a named, typed value with an evaluation mode (spec §3).
type Parameter struct {
	Name       string
	Type       ParamType
	Mode       ParamMode
	Value      string
	Separator  string
	Export     bool
	UpdateMode UpdateMode
	Duplicate  DuplicateMode
}

// IsTemplate reports whether Value contains the separator, i.e. whether this
// parameter expands into multiple alternatives (spec GLOSSARY).
func (p *Parameter) IsTemplate() bool {
	sep := p.Separator
	if sep == "" {
		sep = ","
	}
	return indexOf(p.Value, sep) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Parameterset is a named container of parameters, optionally preloaded
// from an external document via InitWith.
type Parameterset struct {
	Name       string
	InitWith   string
	Parameters map[string]*Parameter
	// Order preserves declaration order for deterministic Cartesian products.
	Order []string
	// Duplicate is the set-level fallback duplicate mode, consulted by
	// paramexpand.Merge when a colliding parameter does not specify its own
	// Duplicate (spec §4.1: "parameter-level overrides set-level").
	Duplicate DuplicateMode
}

// Pattern is a named regex with a typed capture (spec §3).
type Pattern struct {
	Name    string
	Type    ParamType
	Regex   string
	Default *string
	Dotall  bool
	Mode    ParamMode
	Derived string // non-empty: value is an expression over other patterns
	Reduce  bool
}

// Patternset is a named container of patterns.
type Patternset struct {
	Name     string
	InitWith string
	Patterns map[string]*Pattern
	Order    []string
}

// LinkEntry describes one link/copy source-list entry.
type LinkEntry struct {
	Source   string
	Name     string
	Active   string
	External bool
}

// Fileset is a named container of link/copy/prepare operations.
type Fileset struct {
	Name    string
	Prepare string
	Links   []*LinkEntry
	Copies  []*LinkEntry
}

// Sub is one literal string replacement, applied in declaration order.
type Sub struct {
	Source string
	Dest   string
}

// IOFile is one substitution target.
type IOFile struct {
	In      string
	Out     string
	Append  bool
	Subs    []*Sub
}

// Substituteset is a named container of iofile rewrite rules.
type Substituteset struct {
	Name    string
	IOFiles []*IOFile
}

// Do is one shell operation within a step (spec §3/§4.4).
type Do struct {
	Shell     string
	Active    string
	Shared    bool
	DoneFile  string
	ErrorFile string
	BreakFile string
}

// Step is a sequence of Do operations plus referenced sets (spec §3).
type Step struct {
	Name       string
	Depend     []string
	WorkDir    string
	Suffix     string
	Shared     bool
	Active     string
	Export     bool
	MaxAsync   int
	Iterations int
	Cycles     int
	Procs      int
	DoLogFile  string
	Use        []string
	Do         []*Do
}

// AnalyseFile is one glob target within an analyser.
type AnalyseFile struct {
	Glob string
	Use  string
}

// Analyser binds patternsets to a step's output files (spec §4.5).
type Analyser struct {
	Name  string
	Step  string
	Use   []string
	Files []*AnalyseFile
}

// TableResult configures a table render.
type TableResult struct {
	Style     string // csv|pretty|aligned
	Sort      []string
	Transpose bool
	Filter    string
}

// SyslogResult configures a syslog record emission per row.
type SyslogResult struct {
	Host   string
	Port   int
	Socket string
	Format string
}

// DatabaseResult configures an append/upsert SQLite write.
type DatabaseResult struct {
	File      string
	Table     string
	Keys      []string
	Primekeys []string
	Filter    string
}

// Result consumes one analyser's rows and renders Table, Syslog and/or
// Database output (spec §4.6).
type Result struct {
	Name     string
	Analyser string
	Reduce   bool
	Table    *TableResult
	Syslog   *SyslogResult
	Database *DatabaseResult
}
