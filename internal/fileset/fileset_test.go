package fileset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vk/gridbench/internal/config"
)

func TestMaterialize_LinkCopiesSingleFileByDefaultName(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcBase, "input.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := &config.Fileset{
		Name:  "fs",
		Links: []*config.LinkEntry{{Source: "input.txt"}},
	}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, nil, nil); err != nil {
		t.Fatalf("Materialize() returned error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "input.txt"))
	if err != nil {
		t.Fatalf("expected linked file to exist: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("linked content = %q, want %q", got, "data")
	}
}

func TestMaterialize_CopyRenamesViaNameAttribute(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcBase, "src.dat"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := &config.Fileset{
		Name:   "fs",
		Copies: []*config.LinkEntry{{Source: "src.dat", Name: "renamed.dat"}},
	}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, nil, nil); err != nil {
		t.Fatalf("Materialize() returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "renamed.dat")); err != nil {
		t.Errorf("expected renamed copy to exist: %v", err)
	}
}

func TestMaterialize_NameIllegalWithMultipleGlobMatches(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(srcBase, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fs := &config.Fileset{
		Name:  "fs",
		Links: []*config.LinkEntry{{Source: "*.txt", Name: "single.txt"}},
	}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, nil, nil); err == nil {
		t.Fatal("Materialize() should fail when name is set but the source glob matches multiple files")
	}
}

func TestMaterialize_ActiveTagGatesEntry(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcBase, "gated.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := &config.Fileset{
		Name:  "fs",
		Links: []*config.LinkEntry{{Source: "gated.txt", Active: "gpu"}},
	}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, nil, map[string]bool{}); err != nil {
		t.Fatalf("Materialize() returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "gated.txt")); err == nil {
		t.Error("gated.txt should not have been materialized: active tag was not set")
	}
}

func TestMaterialize_SourceSubstitutesVars(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcBase, "v1.conf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := &config.Fileset{
		Name:  "fs",
		Links: []*config.LinkEntry{{Source: "$version.conf"}},
	}
	vars := map[string]string{"version": "v1"}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, vars, nil); err != nil {
		t.Fatalf("Materialize() returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "v1.conf")); err != nil {
		t.Errorf("expected $name-substituted source to be materialized: %v", err)
	}
}

func TestMaterialize_MissingSourceFails(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()

	fs := &config.Fileset{
		Name:  "fs",
		Links: []*config.LinkEntry{{Source: "does-not-exist.txt"}},
	}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, nil, nil); err == nil {
		t.Fatal("Materialize() should fail when the source glob matches nothing")
	}
}

func TestMaterialize_RunsPrepareBeforePlacing(t *testing.T) {
	t.Parallel()
	srcBase := t.TempDir()
	dstDir := t.TempDir()

	fs := &config.Fileset{
		Name:    "fs",
		Prepare: "echo generated > generated.txt",
		Links:   []*config.LinkEntry{{Source: "generated.txt"}},
	}
	if err := Materialize(context.Background(), fs, srcBase, dstDir, nil, nil); err != nil {
		t.Fatalf("Materialize() returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "generated.txt")); err != nil {
		t.Errorf("expected prepare to have created the source before linking: %v", err)
	}
}

func TestSubstitute_AppliesOrderedLiteralRewrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("hello WORLD"), 0o644); err != nil {
		t.Fatal(err)
	}

	ss := &config.Substituteset{
		IOFiles: []*config.IOFile{{
			In:  "in.txt",
			Out: "out.txt",
			Subs: []*config.Sub{
				{Source: "hello", Dest: "goodbye"},
				{Source: "WORLD", Dest: "$place"},
			},
		}},
	}
	if err := Substitute(ss, dir, map[string]string{"place": "EARTH"}); err != nil {
		t.Fatalf("Substitute() returned error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "goodbye EARTH"; string(got) != want {
		t.Errorf("out.txt = %q, want %q", got, want)
	}
}

func TestSubstitute_AppendAddsToExistingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("line2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "out.txt"), []byte("line1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ss := &config.Substituteset{
		IOFiles: []*config.IOFile{{In: "in.txt", Out: "out.txt", Append: true}},
	}
	if err := Substitute(ss, dir, nil); err != nil {
		t.Fatalf("Substitute() returned error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "line1\nline2"; string(got) != want {
		t.Errorf("out.txt = %q, want %q", got, want)
	}
}
