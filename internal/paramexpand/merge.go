// Package paramexpand implements the Parameter Expander (spec §4.1): merging
// the parametersets a step uses, expanding their template parameters into a
// Cartesian product of concrete instances, and resolving each instance's
// $name references and per-parameter evaluation mode into final values.
package paramexpand

import (
	"fmt"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/errs"
)

// Merge combines sets (in declaration order) into one Parameterset. When the
// same name appears in more than one set, the colliding parameters' own
// Duplicate modes decide, then the incoming set's Duplicate (spec §3); when
// none of these is set, both declarations must agree on value, mode and
// type, matching the teacher's copy compatibility check for merged blocks.
func Merge(sets ...*config.Parameterset) (*config.Parameterset, error) {
	out := &config.Parameterset{
		Name:       "merged",
		Parameters: map[string]*config.Parameter{},
	}
	for _, set := range sets {
		if set == nil {
			continue
		}
		for _, name := range set.Order {
			p := set.Parameters[name]
			existing, ok := out.Parameters[name]
			if !ok {
				clone := *p
				out.Parameters[name] = &clone
				out.Order = append(out.Order, name)
				continue
			}
			merged, err := mergeParameter(existing, p, set.Duplicate)
			if err != nil {
				return nil, err
			}
			out.Parameters[name] = merged
		}
	}
	return out, nil
}

// mergeParameter resolves a name collision between a (already merged) and b
// (the incoming set's declaration). A parameter's own Duplicate mode wins;
// when neither side specifies one, setDuplicate (the incoming set's
// duplicate attribute, spec §4.1) is consulted before falling back to the
// strict identical-definition rule.
func mergeParameter(a, b *config.Parameter, setDuplicate config.DuplicateMode) (*config.Parameter, error) {
	mode := b.Duplicate
	if mode == "" || mode == config.DuplicateNone {
		mode = a.Duplicate
	}
	if mode == "" || mode == config.DuplicateNone {
		mode = setDuplicate
	}
	switch mode {
	case "", config.DuplicateNone:
		if a.Value != b.Value || a.Mode != b.Mode || a.Type != b.Type {
			return nil, &errs.ConfigError{
				Detail: fmt.Sprintf("parameter %q redeclared with a different definition; add duplicate=\"replace\"|\"concat\"|\"error\" to resolve", a.Name),
			}
		}
		return a, nil
	case config.DuplicateReplace:
		clone := *b
		return &clone, nil
	case config.DuplicateConcat:
		clone := *a
		sep := a.Separator
		if sep == "" {
			sep = ","
		}
		clone.Value = a.Value + sep + b.Value
		return &clone, nil
	case config.DuplicateError:
		return nil, &errs.ConfigError{
			Detail: fmt.Sprintf("parameter %q declared more than once and duplicate=\"error\" forbids it", a.Name),
		}
	default:
		return nil, &errs.ConfigError{Detail: fmt.Sprintf("parameter %q: unknown duplicate mode %q", a.Name, mode)}
	}
}
