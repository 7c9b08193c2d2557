// Package analyzer implements the regex-based result extraction and
// statistical reduction step (spec §4.5): scanning a workpackage's output
// files with a patternset's regular expressions, reducing repeated matches
// within one file via a pattern's _first/_last/_min/_max/_avg/_std/_sum/_cnt
// name suffix, and resolving derived patterns in dependency order.
package analyzer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/dag"
	"github.com/vk/gridbench/internal/errs"
)

// Row is one analyzed workpackage: pattern name -> extracted value, plus the
// workpackage's own parameters so results can be joined against them.
type Row struct {
	WorkpackageID int
	Params        map[string]string
	Values        map[string]string
}

var statSuffixes = []string{"_first", "_last", "_min", "_max", "_avg", "_std", "_sum", "_cnt"}

// baseAndSuffix splits a pattern name into its base identifier and
// statistical suffix, if any.
func baseAndSuffix(name string) (string, string) {
	for _, suf := range statSuffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf), suf
		}
	}
	return name, ""
}

// Analyze scans wpDir's files matching an's globs with the patterns in sets,
// and returns one Row with every pattern's reduced value.
func Analyze(an *config.Analyser, sets map[string]*config.Patternset, wpDir string, wpID int, params map[string]string) (*Row, error) {
	patterns, order, err := collectPatterns(an, sets)
	if err != nil {
		return nil, err
	}

	direct, derived := splitDerived(patterns, order)

	values := map[string]string{}
	for _, name := range direct {
		p := patterns[name]
		matches, err := scanFiles(an, wpDir, p)
		if err != nil {
			return nil, err
		}
		val, err := reduceMatches(p, matches)
		if err != nil {
			return nil, err
		}
		if err := checkPatternType(p, val); err != nil {
			return nil, err
		}
		values[name] = val
	}

	derivedOrder, err := orderDerived(derived, patterns)
	if err != nil {
		return nil, err
	}
	for _, name := range derivedOrder {
		p := patterns[name]
		val, err := evaluateDerived(p, values)
		if err != nil {
			return nil, err
		}
		values[name] = val
	}

	return &Row{WorkpackageID: wpID, Params: params, Values: values}, nil
}

func collectPatterns(an *config.Analyser, sets map[string]*config.Patternset) (map[string]*config.Pattern, []string, error) {
	patterns := map[string]*config.Pattern{}
	var order []string
	use := an.Use
	for _, f := range an.Files {
		use = append(use, splitUse(f.Use)...)
	}
	for _, setName := range use {
		ps, ok := sets[setName]
		if !ok {
			return nil, nil, &errs.ConfigError{Detail: "analyser " + an.Name + ": unknown patternset " + setName}
		}
		for _, name := range ps.Order {
			if _, exists := patterns[name]; exists {
				continue
			}
			patterns[name] = ps.Patterns[name]
			order = append(order, name)
		}
	}
	return patterns, order, nil
}

func splitUse(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func splitDerived(patterns map[string]*config.Pattern, order []string) (direct, derived []string) {
	for _, name := range order {
		if patterns[name].Derived != "" {
			derived = append(derived, name)
		} else {
			direct = append(direct, name)
		}
	}
	return direct, derived
}

func scanFiles(an *config.Analyser, wpDir string, p *config.Pattern) ([]string, error) {
	var re *regexp.Regexp
	var err error
	if p.Dotall {
		re, err = regexp.Compile("(?s)" + p.Regex)
	} else {
		re, err = regexp.Compile(p.Regex)
	}
	if err != nil {
		return nil, &errs.AnalyzerError{Detail: "pattern " + p.Name + ": invalid regex", Cause: err}
	}

	var matches []string
	for _, f := range an.Files {
		pattern := filepath.Join(wpDir, f.Glob)
		paths, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range paths {
			content, err := os.ReadFile(path)
			if err != nil {
				// unreadable analysis file: warned, not fatal
				slog.Warn("analyzer: unreadable analysis file, skipped.", "path", path, "error", err)
				continue
			}
			for _, m := range re.FindAllStringSubmatch(string(content), -1) {
				if len(m) > 1 {
					matches = append(matches, m[1])
				} else {
					matches = append(matches, m[0])
				}
			}
		}
	}
	return matches, nil
}

func reduceMatches(p *config.Pattern, matches []string) (string, error) {
	base, suffix := baseAndSuffix(p.Name)
	_ = base
	if len(matches) == 0 {
		if p.Default != nil {
			return *p.Default, nil
		}
		return "", nil
	}
	if suffix == "" {
		return matches[0], nil
	}
	return reduceStat(suffix, matches)
}

// checkPatternType type-checks a reduced pattern value against its declared
// Type, the same cty number-parsing path the Parameter Expander uses for
// parameter values (internal/paramexpand.checkType), so int/float patterns
// share one numeric-conversion rule across the engine. An empty val (no
// match, no default) is left unchecked.
func checkPatternType(p *config.Pattern, val string) error {
	if val == "" {
		return nil
	}
	switch p.Type {
	case config.TypeInt:
		n, err := cty.ParseNumberVal(val)
		if err != nil {
			return &errs.AnalyzerError{Detail: fmt.Sprintf("pattern %q: value %q is not a number", p.Name, val), Cause: err}
		}
		if !n.AsBigFloat().IsInt() {
			return &errs.AnalyzerError{Detail: fmt.Sprintf("pattern %q: value %q is not an int", p.Name, val)}
		}
	case config.TypeFloat:
		if _, err := cty.ParseNumberVal(val); err != nil {
			return &errs.AnalyzerError{Detail: fmt.Sprintf("pattern %q: value %q is not a float", p.Name, val), Cause: err}
		}
	}
	return nil
}

func orderDerived(names []string, patterns map[string]*config.Pattern) ([]string, error) {
	g := dag.New()
	for _, n := range names {
		g.AddNode(n)
	}
	for _, n := range names {
		for _, dep := range referencedNames(patterns[n].Derived) {
			if g.Nodes[dep] != nil {
				if err := g.AddEdge(dep, n); err != nil {
					return nil, &errs.AnalyzerError{Detail: err.Error(), Cause: err}
				}
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, &errs.AnalyzerError{Detail: "circular derived pattern reference", Cause: err}
	}
	return topoSortDag(g), nil
}

func topoSortDag(g *dag.Graph) []string {
	g.InitCounters()
	var order []string
	ready := g.Roots()
	visited := map[string]bool{}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		order = append(order, n.ID)
		for _, dep := range n.Dependents {
			allDone := true
			for _, pre := range dep.Deps {
				if !visited[pre.ID] {
					allDone = false
					break
				}
			}
			if allDone && !visited[dep.ID] {
				ready = append(ready, dep)
			}
		}
	}
	return order
}

func referencedNames(expr string) []string {
	var out []string
	i := 0
	for i < len(expr) {
		if expr[i] == '$' {
			j := i + 1
			for j < len(expr) && isIdentByte(expr[j]) {
				j++
			}
			if j > i+1 {
				out = append(out, expr[i+1:j])
			}
			i = j
			continue
		}
		i++
	}
	return out
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func evaluateDerived(p *config.Pattern, values map[string]string) (string, error) {
	expr := p.Derived
	for _, name := range referencedNames(expr) {
		if v, ok := values[name]; ok {
			expr = strings.ReplaceAll(expr, "$"+name, v)
		}
	}
	if v, err := strconv.ParseFloat(expr, 64); err == nil {
		return formatFloat(v), nil
	}
	return evalArith(expr)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
