// Package schema defines the HCL-tagged structs decoded directly from a
// grid document. Values that the engine later resolves itself (parameter
// templates, $name references, active expressions) are kept as plain
// strings here rather than hcl.Expression: substitution is a bounded
// five-pass textual pass (spec §4.1), not HCL's native interpolation, so
// there is nothing for hcl.EvalContext to evaluate at decode time.
// internal/hcl translates this tree into the format-agnostic
// internal/config.Model that every other package depends on.
package schema

// Document is the top-level structure of a single .hcl grid file.
type Document struct {
	IncludePath []string      `hcl:"include_path,optional"`
	Selection   string        `hcl:"selection,optional"`
	Includes    []*Include    `hcl:"include,block"`
	Benchmarks  []*Benchmark  `hcl:"benchmark,block"`
}

// Include inlines an external fragment. path selects a top-level block by
// label within the referenced file (HCL has no XPath, see SPEC_FULL.md §6).
type Include struct {
	From string `hcl:"from,attr"`
	Path string `hcl:"path,optional"`
}

// Benchmark is one `benchmark "name" { ... }` block.
type Benchmark struct {
	Name           string           `hcl:"name,label"`
	Tag            string           `hcl:"tag,optional"`
	Parametersets  []*Parameterset  `hcl:"parameterset,block"`
	Patternsets    []*Patternset    `hcl:"patternset,block"`
	Filesets       []*Fileset       `hcl:"fileset,block"`
	Substitutesets []*Substituteset `hcl:"substituteset,block"`
	Steps          []*Step          `hcl:"step,block"`
	Analysers      []*Analyser      `hcl:"analyser,block"`
	Results        []*Result        `hcl:"result,block"`
}

// Parameterset is a named collection of parameters.
type Parameterset struct {
	Name       string       `hcl:"name,label"`
	InitWith   string       `hcl:"init_with,optional"`
	Tag        string       `hcl:"tag,optional"`
	Duplicate  string       `hcl:"duplicate,optional"` // none|replace|concat|error, set-level fallback
	Parameters []*Parameter `hcl:"parameter,block"`
}

// Parameter is one `parameter "name" { ... }` block.
type Parameter struct {
	Name       string `hcl:"name,label"`
	Type       string `hcl:"type,optional"`       // string|int|float
	Mode       string `hcl:"mode,optional"`       // text|shell|script:<name>|env|tag
	Value      string `hcl:"value,optional"`
	Separator  string `hcl:"separator,optional"`
	Export     bool   `hcl:"export,optional"`
	UpdateMode string `hcl:"update_mode,optional"` // never|use|step|cycle|always
	Duplicate  string `hcl:"duplicate,optional"`   // none|replace|concat|error
	Tag        string `hcl:"tag,optional"`
}

// Patternset is a named collection of patterns.
type Patternset struct {
	Name     string     `hcl:"name,label"`
	InitWith string     `hcl:"init_with,optional"`
	Patterns []*Pattern `hcl:"pattern,block"`
}

// Pattern is one `pattern "name" { ... }` block.
type Pattern struct {
	Name    string `hcl:"name,label"`
	Type    string `hcl:"type,optional"` // string|int|float
	Regex   string `hcl:"regex,optional"`
	Default string `hcl:"default,optional"`
	HasDflt bool   `hcl:"has_default,optional"`
	Dotall  bool   `hcl:"dotall,optional"`
	Mode    string `hcl:"mode,optional"`
	Derived string `hcl:"derived,optional"` // expression referencing $other_pattern
	Reduce  bool   `hcl:"reduce,optional"`
}

// Fileset is a named collection of link/copy/prepare operations.
type Fileset struct {
	Name    string   `hcl:"name,label"`
	Prepare string   `hcl:"prepare,optional"`
	Links   []*Link  `hcl:"link,block"`
	Copies  []*Link  `hcl:"copy,block"`
}

// Link (or copy) describes one source list entry.
type Link struct {
	Source   string `hcl:"source,attr"`
	Name     string `hcl:"name,optional"`
	Active   string `hcl:"active,optional"`
	External bool   `hcl:"external,optional"`
}

// Substituteset is a named collection of iofile/sub rewrite rules.
type Substituteset struct {
	Name    string    `hcl:"name,label"`
	IOFiles []*IOFile `hcl:"iofile,block"`
}

// IOFile is one `iofile { in = ... out = ... }` entry, with its ordered subs.
type IOFile struct {
	In      string `hcl:"in,attr"`
	Out     string `hcl:"out,attr"`
	OutMode string `hcl:"out_mode,optional"` // w|a
	Subs    []*Sub `hcl:"sub,block"`
}

// Sub is one literal string replacement, applied in declaration order.
type Sub struct {
	Source string `hcl:"source,attr"`
	Dest   string `hcl:"dest,attr"`
}

// Step is one `step "name" { ... }` block.
type Step struct {
	Name             string   `hcl:"name,label"`
	Depend           []string `hcl:"depend,optional"`
	WorkDir          string   `hcl:"work_dir,optional"`
	Suffix           string   `hcl:"suffix,optional"`
	Shared           bool     `hcl:"shared,optional"`
	Active           string   `hcl:"active,optional"`
	Export           bool     `hcl:"export,optional"`
	MaxAsync         int      `hcl:"max_async,optional"`
	Iterations       int      `hcl:"iterations,optional"`
	Cycles           int      `hcl:"cycles,optional"`
	Procs            int      `hcl:"procs,optional"`
	DoLogFile        string   `hcl:"do_log_file,optional"`
	Use              []string `hcl:"use,optional"` // parameterset/fileset/substituteset names
	Do               []*Do    `hcl:"do,block"`
	Tag              string   `hcl:"tag,optional"`
}

// Do is one shell operation within a step.
type Do struct {
	Shell     string `hcl:"shell,attr"`
	Active    string `hcl:"active,optional"`
	Shared    bool   `hcl:"shared,optional"`
	DoneFile  string `hcl:"done_file,optional"`
	ErrorFile string `hcl:"error_file,optional"`
	BreakFile string `hcl:"break_file,optional"`
}

// Analyser binds patternsets to a step's output files.
type Analyser struct {
	Name  string  `hcl:"name,label"`
	Step  string  `hcl:"step,attr"`
	Use   []string `hcl:"use,optional"`
	Files []*AnalyseFile `hcl:"file,block"`
}

// AnalyseFile is one `file { use = "..." }  "glob"` entry.
type AnalyseFile struct {
	Glob string `hcl:"glob,label"`
	Use  string `hcl:"use,optional"`
}

// Result consumes one analyser's rows.
type Result struct {
	Name     string          `hcl:"name,label"`
	Analyser string          `hcl:"analyser,attr"`
	Reduce   bool            `hcl:"reduce,optional"`
	Table    *TableResult    `hcl:"table,block"`
	Syslog   *SyslogResult   `hcl:"syslog,block"`
	Database *DatabaseResult `hcl:"database,block"`
}

// TableResult configures a csv/pretty/aligned table render.
type TableResult struct {
	Style     string   `hcl:"style,optional"`
	Sort      []string `hcl:"sort,optional"`
	Transpose bool     `hcl:"transpose,optional"`
	Filter    string   `hcl:"filter,optional"`
}

// SyslogResult configures a syslog record emission per row.
type SyslogResult struct {
	Host   string `hcl:"host,optional"`
	Port   int    `hcl:"port,optional"`
	Socket string `hcl:"socket,optional"`
	Format string `hcl:"format,optional"`
}

// DatabaseResult configures an append/upsert SQLite write.
type DatabaseResult struct {
	File      string   `hcl:"file,attr"`
	Table     string   `hcl:"table,attr"`
	Keys      []string `hcl:"keys,optional"`
	Primekeys []string `hcl:"primekeys,optional"`
	Filter    string   `hcl:"filter,optional"`
}
