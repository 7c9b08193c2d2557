// Package fileset materializes a workpackage's working directory: running a
// fileset's prepare command, then linking or copying its declared sources in
// (spec §4.2, GLOSSARY "fileset"). Every source and destination may itself
// contain $name references, resolved against the owning workpackage's final
// parameter values before the filesystem operation runs.
package fileset

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/ctxlog"
	"github.com/vk/gridbench/internal/errs"
	"github.com/vk/gridbench/internal/tagexpr"
)

// Materialize runs fs.Prepare (if any) in srcBase, then links and copies
// every entry into dir. vars supplies the workpackage's resolved parameter
// values for $name substitution in source/name/active attributes.
func Materialize(ctx context.Context, fs *config.Fileset, srcBase, dir string, vars map[string]string, activeTags map[string]bool) error {
	logger := ctxlog.FromContext(ctx)
	if fs.Prepare != "" {
		if err := runPrepare(ctx, expandVars(fs.Prepare, vars), srcBase); err != nil {
			return err
		}
	}
	for _, l := range fs.Links {
		if err := place(ctx, l, srcBase, dir, vars, activeTags, os.Link); err != nil {
			return err
		}
	}
	for _, c := range fs.Copies {
		if err := place(ctx, c, srcBase, dir, vars, activeTags, copyFile); err != nil {
			return err
		}
	}
	logger.Debug("fileset: materialized.", "fileset", fs.Name, "dir", dir)
	return nil
}

func runPrepare(ctx context.Context, shell, dir string) error {
	interp := os.Getenv("JUBE_EXEC_SHELL")
	if interp == "" {
		interp = os.Getenv("SHELL_OVERRIDE")
	}
	if interp == "" {
		interp = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, interp, "-c", shell)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return &errs.ExecutionError{Command: shell, Cause: err, StderrTail: lastLines(string(out), 5)}
	}
	return nil
}

type placer func(src, dst string) error

// place resolves one link/copy entry's active gate and $name references,
// glob-expands its source, and applies op to every match. A "name" override
// is only legal when the source glob matches exactly one file (spec §4.2).
func place(ctx context.Context, l *config.LinkEntry, srcBase, dstDir string, vars map[string]string, activeTags map[string]bool, op placer) error {
	if l.Active != "" {
		expr, err := tagexpr.Parse(expandVars(l.Active, vars))
		if err != nil {
			return &errs.ConfigError{Detail: fmt.Sprintf("fileset entry %q: %v", l.Source, err), Cause: err}
		}
		if !expr.Eval(activeTags) {
			return nil
		}
	}

	source := expandVars(l.Source, vars)
	base := srcBase
	if l.External || filepath.IsAbs(source) {
		base = ""
	}
	pattern := source
	if base != "" {
		pattern = filepath.Join(base, source)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return &errs.FilesystemError{Path: pattern, Cause: err}
	}
	if len(matches) == 0 {
		return &errs.FilesystemError{Path: pattern, Cause: fmt.Errorf("no source matched")}
	}
	if l.Name != "" && len(matches) > 1 {
		return &errs.ConfigError{Detail: fmt.Sprintf("fileset entry %q: name attribute is illegal when source expands to more than one file", l.Source)}
	}

	for _, m := range matches {
		name := filepath.Base(m)
		if l.Name != "" {
			name = expandVars(l.Name, vars)
		}
		dst := filepath.Join(dstDir, name)
		if err := op(m, dst); err != nil {
			return &errs.FilesystemError{Path: dst, Cause: err}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// expandVars replaces every "$name" in s with vars[name], leaving unknown
// references untouched (they may resolve at a later stage).
func expandVars(s string, vars map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}
		name := s[i+1 : j]
		if name == "" {
			b.WriteByte(s[i])
			i++
			continue
		}
		if v, ok := vars[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
