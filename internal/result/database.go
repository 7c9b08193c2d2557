package result

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
	"text/template"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vk/gridbench/internal/analyzer"
	"github.com/vk/gridbench/internal/config"
)

// createTmpl builds the CREATE TABLE statement for a result's column set,
// every column stored as TEXT: spec §4.6 leaves typing to the consumer, so
// the store keeps the analyzer's resolved strings verbatim.
var createTmpl = template.Must(template.New("create").Parse(
	`CREATE TABLE IF NOT EXISTS {{.Table}} ({{range $i, $c := .Columns}}{{if $i}}, {{end}}"{{$c}}" TEXT{{end}}{{if .Primekeys}}, PRIMARY KEY ({{range $i, $k := .Primekeys}}{{if $i}}, {{end}}"{{$k}}"{{end}}){{end}});`,
))

// WriteDatabase appends (or, when cfg.Primekeys is set, upserts) rows into a
// SQLite database at cfg.File, creating the table on first use.
func WriteDatabase(cfg *config.DatabaseResult, rows []*analyzer.Row) error {
	rows = filterRows(rows, cfg.Filter)
	if len(rows) == 0 {
		return nil
	}
	cols := Columns(rows)

	db, err := sql.Open("sqlite3", cfg.File)
	if err != nil {
		return fmt.Errorf("result: open %s: %w", cfg.File, err)
	}
	defer db.Close()

	table := cfg.Table
	if table == "" {
		table = "results"
	}
	if err := createTable(db, table, cols, cfg.Primekeys); err != nil {
		return err
	}

	stmt, err := prepareUpsert(db, table, cols, cfg.Primekeys)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = cellValue(r, c)
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("result: insert into %s: %w", table, err)
		}
	}
	return nil
}

func createTable(db *sql.DB, table string, cols, primekeys []string) error {
	var buf bytes.Buffer
	if err := createTmpl.Execute(&buf, struct {
		Table     string
		Columns   []string
		Primekeys []string
	}{table, cols, primekeys}); err != nil {
		return err
	}
	if _, err := db.Exec(buf.String()); err != nil {
		return fmt.Errorf("result: create table %s: %w", table, err)
	}
	return nil
}

func prepareUpsert(db *sql.DB, table string, cols, primekeys []string) (*sql.Stmt, error) {
	placeholders := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		quoted[i] = `"` + c + `"`
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if len(primekeys) > 0 {
		var sets []string
		for _, c := range cols {
			if !contains(primekeys, c) {
				sets = append(sets, fmt.Sprintf(`"%s"=excluded."%s"`, c, c))
			}
		}
		if len(sets) > 0 {
			q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quoteAll(primekeys), ", "), strings.Join(sets, ", "))
		} else {
			q += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quoteAll(primekeys), ", "))
		}
	}
	return db.Prepare(q)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = `"` + n + `"`
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
