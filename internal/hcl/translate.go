package hcl

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/schema"
)

// mergeDocumentInto folds one parsed document's benchmarks into model,
// merging same-named benchmarks across files (spec §4.3: a benchmark may be
// assembled from several .hcl files under one directory). baseDir resolves
// any init_with reference relative to the file the set was declared in.
func (l *Loader) mergeDocumentInto(model *config.Model, doc *schema.Document, baseDir string) error {
	model.IncludePath = append(model.IncludePath, doc.IncludePath...)
	if doc.Selection != "" {
		model.Selection = doc.Selection
	}
	for _, sb := range doc.Benchmarks {
		var target *config.Benchmark
		for _, existing := range model.Benchmarks {
			if existing.Name == sb.Name {
				target = existing
				break
			}
		}
		if target == nil {
			target = &config.Benchmark{
				Name:           sb.Name,
				Parametersets:  map[string]*config.Parameterset{},
				Patternsets:    map[string]*config.Patternset{},
				Filesets:       map[string]*config.Fileset{},
				Substitutesets: map[string]*config.Substituteset{},
			}
			model.Benchmarks = append(model.Benchmarks, target)
		}
		if err := l.mergeBenchmarkInto(target, sb, baseDir); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) mergeBenchmarkInto(target *config.Benchmark, sb *schema.Benchmark, baseDir string) error {
	for _, ps := range sb.Parametersets {
		cps := translateParameterset(ps)
		if ps.InitWith != "" {
			if err := l.applyParametersetInitWith(cps, ps.InitWith, baseDir); err != nil {
				return err
			}
		}
		target.Parametersets[ps.Name] = cps
	}
	for _, ps := range sb.Patternsets {
		cps := translatePatternset(ps)
		if ps.InitWith != "" {
			if err := l.applyPatternsetInitWith(cps, ps.InitWith, baseDir); err != nil {
				return err
			}
		}
		target.Patternsets[ps.Name] = cps
	}
	for _, fs := range sb.Filesets {
		target.Filesets[fs.Name] = translateFileset(fs)
	}
	for _, ss := range sb.Substitutesets {
		target.Substitutesets[ss.Name] = translateSubstituteset(ss)
	}
	for _, st := range sb.Steps {
		target.Steps = append(target.Steps, translateStep(st))
	}
	for _, an := range sb.Analysers {
		target.Analysers = append(target.Analysers, translateAnalyser(an))
	}
	for _, r := range sb.Results {
		target.Results = append(target.Results, translateResult(r))
	}
	return nil
}

func translateParameter(p *schema.Parameter) *config.Parameter {
	typ := config.ParamType(p.Type)
	if typ == "" {
		typ = config.TypeString
	}
	mode := config.ParamMode(p.Mode)
	if mode == "" {
		mode = config.ModeText
	}
	upd := config.UpdateMode(p.UpdateMode)
	if upd == "" {
		upd = config.UpdateNever
	}
	dup := config.DuplicateMode(p.Duplicate)
	if dup == "" {
		dup = config.DuplicateNone
	}
	sep := p.Separator
	if sep == "" {
		sep = ","
	}
	return &config.Parameter{
		Name:       p.Name,
		Type:       typ,
		Mode:       mode,
		Value:      p.Value,
		Separator:  sep,
		Export:     p.Export,
		UpdateMode: upd,
		Duplicate:  dup,
	}
}

func translateParameterset(ps *schema.Parameterset) *config.Parameterset {
	dup := config.DuplicateMode(ps.Duplicate)
	if dup == "" {
		// Jube's own default for a set's duplicate attribute is "replace".
		dup = config.DuplicateReplace
	}
	out := &config.Parameterset{
		Name:       ps.Name,
		InitWith:   ps.InitWith,
		Parameters: map[string]*config.Parameter{},
		Duplicate:  dup,
	}
	for _, p := range ps.Parameters {
		out.Parameters[p.Name] = translateParameter(p)
		out.Order = append(out.Order, p.Name)
	}
	return out
}

func translatePattern(p *schema.Pattern) *config.Pattern {
	typ := config.ParamType(p.Type)
	if typ == "" {
		typ = config.TypeString
	}
	mode := config.ParamMode(p.Mode)
	if mode == "" {
		mode = config.ModeText
	}
	var dflt *string
	if p.HasDflt || p.Default != "" {
		v := p.Default
		dflt = &v
	}
	return &config.Pattern{
		Name:    p.Name,
		Type:    typ,
		Regex:   p.Regex,
		Default: dflt,
		Dotall:  p.Dotall,
		Mode:    mode,
		Derived: p.Derived,
		Reduce:  p.Reduce,
	}
}

func translatePatternset(ps *schema.Patternset) *config.Patternset {
	out := &config.Patternset{
		Name:     ps.Name,
		InitWith: ps.InitWith,
		Patterns: map[string]*config.Pattern{},
	}
	for _, p := range ps.Patterns {
		out.Patterns[p.Name] = translatePattern(p)
		out.Order = append(out.Order, p.Name)
	}
	return out
}

func translateLink(l *schema.Link) *config.LinkEntry {
	return &config.LinkEntry{Source: l.Source, Name: l.Name, Active: l.Active, External: l.External}
}

func translateFileset(fs *schema.Fileset) *config.Fileset {
	out := &config.Fileset{Name: fs.Name, Prepare: fs.Prepare}
	for _, l := range fs.Links {
		out.Links = append(out.Links, translateLink(l))
	}
	for _, c := range fs.Copies {
		out.Copies = append(out.Copies, translateLink(c))
	}
	return out
}

func translateSubstituteset(ss *schema.Substituteset) *config.Substituteset {
	out := &config.Substituteset{Name: ss.Name}
	for _, io := range ss.IOFiles {
		cio := &config.IOFile{In: io.In, Out: io.Out, Append: io.OutMode == "a"}
		for _, s := range io.Subs {
			cio.Subs = append(cio.Subs, &config.Sub{Source: s.Source, Dest: s.Dest})
		}
		out.IOFiles = append(out.IOFiles, cio)
	}
	return out
}

func translateDo(d *schema.Do) *config.Do {
	return &config.Do{
		Shell:     d.Shell,
		Active:    d.Active,
		Shared:    d.Shared,
		DoneFile:  d.DoneFile,
		ErrorFile: d.ErrorFile,
		BreakFile: d.BreakFile,
	}
}

func translateStep(s *schema.Step) *config.Step {
	out := &config.Step{
		Name:       s.Name,
		Depend:     s.Depend,
		WorkDir:    s.WorkDir,
		Suffix:     s.Suffix,
		Shared:     s.Shared,
		Active:     s.Active,
		Export:     s.Export,
		MaxAsync:   s.MaxAsync,
		Iterations: s.Iterations,
		Cycles:     s.Cycles,
		Procs:      s.Procs,
		DoLogFile:  s.DoLogFile,
		Use:        s.Use,
	}
	if out.Iterations == 0 {
		out.Iterations = 1
	}
	if out.Cycles == 0 {
		out.Cycles = 1
	}
	for _, d := range s.Do {
		out.Do = append(out.Do, translateDo(d))
	}
	return out
}

func translateAnalyser(a *schema.Analyser) *config.Analyser {
	out := &config.Analyser{Name: a.Name, Step: a.Step, Use: a.Use}
	for _, f := range a.Files {
		out.Files = append(out.Files, &config.AnalyseFile{Glob: f.Glob, Use: f.Use})
	}
	return out
}

func translateResult(r *schema.Result) *config.Result {
	out := &config.Result{Name: r.Name, Analyser: r.Analyser, Reduce: r.Reduce}
	if r.Table != nil {
		out.Table = &config.TableResult{
			Style:     r.Table.Style,
			Sort:      r.Table.Sort,
			Transpose: r.Table.Transpose,
			Filter:    r.Table.Filter,
		}
	}
	if r.Syslog != nil {
		out.Syslog = &config.SyslogResult{
			Host:   r.Syslog.Host,
			Port:   r.Syslog.Port,
			Socket: r.Syslog.Socket,
			Format: r.Syslog.Format,
		}
	}
	if r.Database != nil {
		out.Database = &config.DatabaseResult{
			File:      r.Database.File,
			Table:     r.Database.Table,
			Keys:      r.Database.Keys,
			Primekeys: r.Database.Primekeys,
			Filter:    r.Database.Filter,
		}
	}
	return out
}

// loadInitWithDoc parses the file half of an init_with="file[:external_name]"
// reference relative to baseDir, and returns the document plus the resolved
// external set name to look for (falling back to localName when none given).
func (l *Loader) loadInitWithDoc(spec, baseDir, localName string) (*schema.Document, string, error) {
	parts := strings.SplitN(spec, ":", 2)
	file := parts[0]
	name := localName
	if len(parts) == 2 && parts[1] != "" {
		name = parts[1]
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}
	f, diags := l.parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return nil, "", fmt.Errorf("hcl: init_with %s: %s", spec, diags.Error())
	}
	var doc schema.Document
	if diags := gohcl.DecodeBody(f.Body, nil, &doc); diags.HasErrors() {
		return nil, "", fmt.Errorf("hcl: init_with %s: %s", spec, diags.Error())
	}
	return &doc, name, nil
}

// applyParametersetInitWith preloads cps with the entries of the external
// parameterset named by spec; entries already declared locally in cps win on
// name collision (spec §3: "local entries override imported entries with the
// same identity key").
func (l *Loader) applyParametersetInitWith(cps *config.Parameterset, spec, baseDir string) error {
	doc, name, err := l.loadInitWithDoc(spec, baseDir, cps.Name)
	if err != nil {
		return err
	}
	for _, b := range doc.Benchmarks {
		for _, ps := range b.Parametersets {
			if ps.Name != name {
				continue
			}
			for _, p := range ps.Parameters {
				if _, exists := cps.Parameters[p.Name]; exists {
					continue
				}
				cps.Parameters[p.Name] = translateParameter(p)
				cps.Order = append(cps.Order, p.Name)
			}
		}
	}
	return nil
}

// applyPatternsetInitWith is the patternset analogue of
// applyParametersetInitWith.
func (l *Loader) applyPatternsetInitWith(cps *config.Patternset, spec, baseDir string) error {
	doc, name, err := l.loadInitWithDoc(spec, baseDir, cps.Name)
	if err != nil {
		return err
	}
	for _, b := range doc.Benchmarks {
		for _, ps := range b.Patternsets {
			if ps.Name != name {
				continue
			}
			for _, p := range ps.Patterns {
				if _, exists := cps.Patterns[p.Name]; exists {
					continue
				}
				cps.Patterns[p.Name] = translatePattern(p)
				cps.Order = append(cps.Order, p.Name)
			}
		}
	}
	return nil
}
