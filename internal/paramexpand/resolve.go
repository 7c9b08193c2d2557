package paramexpand

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/ctxlog"
	"github.com/vk/gridbench/internal/errs"
	"github.com/vk/gridbench/internal/tagexpr"
)

const maxSubstitutionPasses = 5

// Resolved is one fully evaluated instance: final typed-checked values ready
// for use as environment variables and $name substitutions elsewhere (in
// filesets, substitutesets and <do> shells).
type Resolved struct {
	Values   map[string]string
	Exported map[string]bool
}

// Resolver evaluates Instance.Raw values into Resolved values, switching on
// each parameter's Mode (spec §4.1: text, shell, script:<name>, env, tag).
// Only the script:<name> interpreters are registered, via RegisterScript.
type Resolver struct {
	scripts map[string]string
	shell   string
	tags    map[string]bool
}

// NewResolver returns a Resolver that runs shell-mode parameters through the
// interpreter named by JUBE_EXEC_SHELL or SHELL_OVERRIDE (default /bin/sh),
// and evaluates tag-mode parameters against activeTags (the --tag selection).
func NewResolver(activeTags map[string]bool) *Resolver {
	shell := os.Getenv("JUBE_EXEC_SHELL")
	if shell == "" {
		shell = os.Getenv("SHELL_OVERRIDE")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Resolver{scripts: map[string]string{}, shell: shell, tags: activeTags}
}

// RegisterScript wires mode "script:<name>" to interpreter, so a parameter
// declared with that mode is evaluated as `interpreter <value-as-tempfile>`
// analogue: interpreter is invoked with the raw value piped on stdin and its
// trimmed stdout becomes the resolved value.
func (r *Resolver) RegisterScript(name, interpreter string) {
	r.scripts[name] = interpreter
}

// Resolve substitutes $name references (bounded passes) and then evaluates
// every parameter's mode, returning final typed-checked values.
func (r *Resolver) Resolve(ctx context.Context, ps *config.Parameterset, inst *Instance) (*Resolved, error) {
	logger := ctxlog.FromContext(ctx)
	working := make(map[string]string, len(inst.Raw))
	for k, v := range inst.Raw {
		working[k] = v
	}

	for pass := 0; pass < maxSubstitutionPasses; pass++ {
		changed := false
		for name, val := range working {
			nv := substituteOnce(val, working, name)
			if nv != val {
				working[name] = nv
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for name, val := range working {
		if strings.Contains(val, "$") {
			if ref, ok := unresolvedRef(val, working); ok {
				return nil, &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: unresolved reference %q after %d passes", name, ref, maxSubstitutionPasses)}
			}
		}
	}

	out := &Resolved{Values: map[string]string{}, Exported: map[string]bool{}}
	for _, name := range ps.Order {
		p := ps.Parameters[name]
		val, err := r.evaluate(ctx, p, working[name], out.Values)
		if err != nil {
			return nil, err
		}
		if err := checkType(p, val); err != nil {
			return nil, err
		}
		out.Values[name] = val
		if p.Export {
			out.Exported[name] = true
		}
	}
	logger.Debug("paramexpand: resolved instance.", "params", len(out.Values))
	return out, nil
}

// substituteOnce replaces every "$other" occurrence in val (other != self)
// with working[other], skipping names not present in working (those may
// refer to engine-level variables such as $jube_wp_id, resolved elsewhere).
func substituteOnce(val string, working map[string]string, self string) string {
	var b strings.Builder
	i := 0
	for i < len(val) {
		if val[i] != '$' {
			b.WriteByte(val[i])
			i++
			continue
		}
		j := i + 1
		for j < len(val) && isIdentByte(val[j]) {
			j++
		}
		name := val[i+1 : j]
		if name == "" {
			b.WriteByte(val[i])
			i++
			continue
		}
		if name == self {
			b.WriteString(val[i:j])
			i = j
			continue
		}
		if repl, ok := working[name]; ok {
			b.WriteString(repl)
		} else {
			b.WriteString(val[i:j])
		}
		i = j
	}
	return b.String()
}

func unresolvedRef(val string, working map[string]string) (string, bool) {
	i := 0
	for i < len(val) {
		if val[i] == '$' {
			j := i + 1
			for j < len(val) && isIdentByte(val[j]) {
				j++
			}
			name := val[i+1 : j]
			if _, ok := working[name]; ok {
				return name, true
			}
			i = j
			continue
		}
		i++
	}
	return "", false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (r *Resolver) evaluate(ctx context.Context, p *config.Parameter, raw string, siblings map[string]string) (string, error) {
	if backend, ok := p.Mode.ScriptBackend(); ok {
		interp, ok := r.scripts[backend]
		if !ok {
			return "", &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: no interpreter registered for script backend %q", p.Name, backend)}
		}
		return r.runInterpreter(ctx, interp, raw)
	}
	switch p.Mode {
	case config.ModeText, "":
		return raw, nil
	case config.ModeEnv:
		return os.Getenv(raw), nil
	case config.ModeTag:
		expr, err := tagexpr.Parse(raw)
		if err != nil {
			return "", &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: %v", p.Name, err), Cause: err}
		}
		if expr.Eval(r.tags) {
			return "true", nil
		}
		return "false", nil
	case config.ModeShell:
		return r.runInterpreter(ctx, r.shell, raw)
	default:
		return "", &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: unknown mode %q", p.Name, p.Mode)}
	}
}

func (r *Resolver) runInterpreter(ctx context.Context, interp, script string) (string, error) {
	var cmd *exec.Cmd
	if interp == r.shell {
		cmd = exec.CommandContext(ctx, interp, "-c", script)
	} else {
		cmd = exec.CommandContext(ctx, interp)
		cmd.Stdin = strings.NewReader(script)
	}
	out, err := cmd.Output()
	if err != nil {
		return "", &errs.ResolutionError{Detail: fmt.Sprintf("evaluating %q via %s", script, interp), Cause: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// checkType type-checks val against p.Type using cty's number parsing, the
// same conversion path the HCL front-end uses for literal numeric
// expressions (mirrors the teacher's gocty.FromCtyValue round trip).
func checkType(p *config.Parameter, val string) error {
	switch p.Type {
	case config.TypeInt:
		n, err := cty.ParseNumberVal(val)
		if err != nil {
			return &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: value %q is not a number", p.Name, val), Cause: err}
		}
		if !n.AsBigFloat().IsInt() {
			return &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: value %q is not an int", p.Name, val)}
		}
	case config.TypeFloat:
		if _, err := cty.ParseNumberVal(val); err != nil {
			return &errs.ResolutionError{Detail: fmt.Sprintf("parameter %q: value %q is not a float", p.Name, val), Cause: err}
		}
	}
	return nil
}
