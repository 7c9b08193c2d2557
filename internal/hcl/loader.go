// Package hcl is the concrete configuration-document front-end (spec §6):
// it parses .hcl grid files with github.com/hashicorp/hcl/v2, resolves
// <include> directives, and translates the result into the format-agnostic
// internal/config.Model. It is the only package in the engine that imports
// the HCL parser directly; everything downstream depends on config.Model.
package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/ctxlog"
	"github.com/vk/gridbench/internal/schema"
)

// Loader implements config.Loader for HCL grid documents.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader returns a ready-to-use HCL Loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

var _ config.Loader = (*Loader)(nil)

// Load parses and merges every .hcl file reachable from paths (each path may
// be a single file or a directory, scanned recursively) into one Model.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := resolveFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("hcl: resolved files for load.", "count", len(files))

	model := &config.Model{}
	seen := map[string]bool{}
	for _, f := range files {
		doc, err := l.parseFile(f, seen)
		if err != nil {
			return nil, err
		}
		if err := l.mergeDocumentInto(model, doc, filepath.Dir(f)); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// parseFile parses one file, resolves its <include> blocks (guarding
// against re-entrant includes via seen), and returns the merged document.
func (l *Loader) parseFile(path string, seen map[string]bool) (*schema.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if seen[abs] {
		return &schema.Document{}, nil
	}
	seen[abs] = true

	f, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl: parse %s: %s", path, diags.Error())
	}
	var doc schema.Document
	if diags := gohcl.DecodeBody(f.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("hcl: decode %s: %s", path, diags.Error())
	}

	base := filepath.Dir(path)
	for _, inc := range doc.Includes {
		incPath := inc.From
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(base, incPath)
		}
		incDoc, err := l.parseFile(incPath, seen)
		if err != nil {
			return nil, fmt.Errorf("hcl: include %s: %w", inc.From, err)
		}
		filterIncludedDoc(incDoc, inc.Path)
		doc.Benchmarks = append(doc.Benchmarks, incDoc.Benchmarks...)
	}
	return &doc, nil
}

// filterIncludedDoc narrows an included document to the benchmark named by
// selector, when one is given. HCL has no XPath, so "path" selects a
// top-level benchmark by name (documented Open Question resolution).
func filterIncludedDoc(doc *schema.Document, selector string) {
	if selector == "" {
		return
	}
	var kept []*schema.Benchmark
	for _, b := range doc.Benchmarks {
		if b.Name == selector {
			kept = append(kept, b)
		}
	}
	doc.Benchmarks = kept
}

// resolveFiles expands paths (files or directories) into a list of .hcl
// files: plain files in the order given, each directory's .hcl files in
// filepath.Walk's lexical order. The combined list is not sorted.
func resolveFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("hcl: stat %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.Walk(p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(path) == ".hcl" {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
