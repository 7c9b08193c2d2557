package paramexpand

import (
	"sort"
	"strings"

	"github.com/vk/gridbench/internal/config"
)

// Instance is one point in a merged parameterset's Cartesian product: every
// template parameter has been pinned to one alternative, but $name
// references and per-parameter evaluation modes have not yet been resolved.
type Instance struct {
	Raw map[string]string
}

// Expand splits every template parameter's Value on its separator and
// returns the Cartesian product of alternatives, one Instance per
// combination, in declaration order (spec §4.1, GLOSSARY "parameter space").
// Non-template parameters contribute exactly one alternative to every
// instance.
func Expand(ps *config.Parameterset) []*Instance {
	names := append([]string(nil), ps.Order...)

	alternatives := make([][]string, len(names))
	for i, name := range names {
		p := ps.Parameters[name]
		if p.IsTemplate() {
			sep := p.Separator
			if sep == "" {
				sep = ","
			}
			alternatives[i] = strings.Split(p.Value, sep)
		} else {
			alternatives[i] = []string{p.Value}
		}
	}

	instances := []*Instance{{Raw: map[string]string{}}}
	for i, name := range names {
		var next []*Instance
		for _, inst := range instances {
			for _, alt := range alternatives[i] {
				clone := map[string]string{}
				for k, v := range inst.Raw {
					clone[k] = v
				}
				clone[name] = alt
				next = append(next, &Instance{Raw: clone})
			}
		}
		instances = next
	}
	return instances
}

// SortedNames returns ps's parameter names, sorted, for callers that need a
// deterministic iteration order without relying on ps.Order (e.g. logging).
func SortedNames(ps *config.Parameterset) []string {
	out := append([]string(nil), ps.Order...)
	sort.Strings(out)
	return out
}
