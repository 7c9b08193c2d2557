package fileset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/errs"
)

// Substitute applies ss's ordered literal-string rewrites, reading each
// iofile's In relative to dir and writing Out (spec §4.2, GLOSSARY
// "substituteset"). in/out and every sub source/dest may contain $name
// references, resolved against vars first.
func Substitute(ss *config.Substituteset, dir string, vars map[string]string) error {
	for _, io := range ss.IOFiles {
		if err := substituteOne(io, dir, vars); err != nil {
			return err
		}
	}
	return nil
}

func substituteOne(io *config.IOFile, dir string, vars map[string]string) error {
	inPath := resolvePath(expandVars(io.In, vars), dir)
	outPath := resolvePath(expandVars(io.Out, vars), dir)

	content, err := os.ReadFile(inPath)
	if err != nil {
		return &errs.FilesystemError{Path: inPath, Cause: err}
	}
	text := string(content)
	for _, sub := range io.Subs {
		source := expandVars(sub.Source, vars)
		dest := expandVars(sub.Dest, vars)
		text = strings.ReplaceAll(text, source, dest)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if io.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(outPath, flags, 0o644)
	if err != nil {
		return &errs.FilesystemError{Path: outPath, Cause: err}
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return &errs.FilesystemError{Path: outPath, Cause: err}
	}
	return nil
}

func resolvePath(p, dir string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
