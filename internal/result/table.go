// Package result implements the Result Composer (spec §4.6): rendering an
// analyzer's rows as a table (csv/pretty/aligned), a syslog record per row,
// or an appended/upserted SQLite table.
package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/vk/gridbench/internal/analyzer"
	"github.com/vk/gridbench/internal/config"
)

// Columns returns a deterministic column order: every param name (sorted),
// then every analyzed value name (sorted).
func Columns(rows []*analyzer.Row) []string {
	paramSet := map[string]bool{}
	valueSet := map[string]bool{}
	for _, r := range rows {
		for k := range r.Params {
			paramSet[k] = true
		}
		for k := range r.Values {
			valueSet[k] = true
		}
	}
	var cols []string
	cols = append(cols, sortedKeys(paramSet)...)
	cols = append(cols, sortedKeys(valueSet)...)
	return cols
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cellValue(r *analyzer.Row, col string) string {
	if v, ok := r.Params[col]; ok {
		return v
	}
	return r.Values[col]
}

// WriteTable renders rows to out according to cfg.Style ("csv", "pretty" or
// "aligned"), applying cfg.Sort, cfg.Filter and cfg.Transpose first.
func WriteTable(out io.Writer, cfg *config.TableResult, rows []*analyzer.Row) error {
	rows = filterRows(rows, cfg.Filter)
	rows = sortRows(rows, cfg.Sort)
	cols := Columns(rows)

	table := make([][]string, 0, len(rows)+1)
	table = append(table, cols)
	for _, r := range rows {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = cellValue(r, c)
		}
		table = append(table, row)
	}
	if cfg.Transpose {
		table = transpose(table)
	}

	switch cfg.Style {
	case "csv":
		return writeCSV(out, table)
	case "aligned":
		return writeAligned(out, table)
	default: // "pretty" and unset both render padded columns separated by '|'
		return writePretty(out, table)
	}
}

func writeCSV(out io.Writer, table [][]string) error {
	w := csv.NewWriter(out)
	for _, row := range table {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeAligned(out io.Writer, table [][]string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, row := range table {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func writePretty(out io.Writer, table [][]string) error {
	w := tabwriter.NewWriter(out, 0, 4, 3, ' ', tabwriter.Debug)
	for _, row := range table {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func transpose(table [][]string) [][]string {
	if len(table) == 0 {
		return table
	}
	out := make([][]string, len(table[0]))
	for i := range out {
		out[i] = make([]string, len(table))
		for j, row := range table {
			out[i][j] = row[i]
		}
	}
	return out
}

// filterRows keeps only rows whose column values satisfy expr, a
// comma-separated list of "col=value" equality constraints.
func filterRows(rows []*analyzer.Row, expr string) []*analyzer.Row {
	if expr == "" {
		return rows
	}
	constraints := map[string]string{}
	for _, part := range strings.Split(expr, ",") {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			constraints[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	var out []*analyzer.Row
	for _, r := range rows {
		match := true
		for k, v := range constraints {
			if cellValue(r, k) != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}

// sortRows orders rows by keys, in sequence, comparing numerically when both
// sides parse as floats and lexically otherwise.
func sortRows(rows []*analyzer.Row, keys []string) []*analyzer.Row {
	if len(keys) == 0 {
		return rows
	}
	out := append([]*analyzer.Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			a, b := cellValue(out[i], k), cellValue(out[j], k)
			if a == b {
				continue
			}
			af, aerr := strconv.ParseFloat(a, 64)
			bf, berr := strconv.ParseFloat(b, 64)
			if aerr == nil && berr == nil {
				return af < bf
			}
			return a < b
		}
		return false
	})
	return out
}
