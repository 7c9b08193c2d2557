// Package cli parses command-line arguments into an app.Config (spec §6).
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/gridbench/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

var operations = map[string]bool{
	"run": true, "continue": true, "analyse": true, "result": true,
	"info": true, "status": true, "log": true, "comment": true,
	"remove": true, "update": true,
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly (help was shown),
// or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	if len(args) == 0 {
		printUsage(output)
		return nil, true, nil
	}

	op := args[0]
	rest := args[1:]
	if op == "-h" || op == "--help" || op == "help" {
		printUsage(output)
		return nil, true, nil
	}
	if !operations[op] {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown operation %q", op)}
	}

	flagSet := flag.NewFlagSet("gridbench "+op, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() { printUsage(output) }

	gridFlag := flagSet.String("grid", "", "Path to a grid file or directory (shorthand -g).")
	flagSet.StringVar(gridFlag, "g", "", "Path to a grid file or directory (shorthand of --grid).")
	idFlag := flagSet.Int("id", 0, "Benchmark run id to operate on.")
	outpathFlag := flagSet.String("outpath", "bench_runs", "Root directory under which benchmark runs are stored.")
	tagFlag := flagSet.String("tag", "", "Comma-separated list of active tags.")
	includePathFlag := flagSet.String("include-path", "", "Colon-separated list of additional include directories.")
	exitFlag := flagSet.Bool("exit", false, "Abort the whole run on the first workpackage failure (shorthand -e).")
	flagSet.BoolVar(exitFlag, "e", false, "Abort the whole run on the first workpackage failure.")
	strictFlag := flagSet.Bool("strict", false, "Treat a stamped engine version mismatch as fatal on continue.")
	styleFlag := flagSet.String("s", "pretty", "Table style for result: csv|pretty|aligned.")
	nFlag := flagSet.Int("n", 0, "Result row limit (stored in the config; no operation applies it).")
	reduceFlag := flagSet.Bool("r", false, "Reduce analyzed rows by averaging across iterations before composing results.")
	stepFlag := flagSet.String("step", "", "Step name to operate on (log).")
	procsFlag := flagSet.Int("p", 0, "Worker pool size. 0 uses every available CPU (shorthand --procs).")
	flagSet.IntVar(procsFlag, "procs", 0, "Worker pool size. 0 uses every available CPU.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format: text|json.")
	logLevelFlag := flagSet.String("log-level", "info", "Log level: debug|info|warn|error.")

	var positional []string
	err := flagSet.Parse(rest)
	for err == nil && flagSet.NArg() > 0 {
		// Parsing stops at a positional argument; resume after it so flags
		// may also follow GRID_PATH.
		positional = append(positional, flagSet.Arg(0))
		err = flagSet.Parse(flagSet.Args()[1:])
	}
	if err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	gridPath := *gridFlag
	if gridPath == "" && len(positional) > 0 {
		gridPath = positional[0]
	}

	comment := ""
	if op == "comment" {
		comment = strings.Join(positional, " ")
	}

	var includePath []string
	if *includePathFlag != "" {
		includePath = strings.Split(*includePathFlag, ":")
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	cfg, err := app.NewConfig(app.Config{
		Operation:    op,
		GridPath:     gridPath,
		OutPath:      *outpathFlag,
		IncludePath:  includePath,
		BenchID:      *idFlag,
		Tag:          *tagFlag,
		Comment:      comment,
		Step:         *stepFlag,
		Exit:         *exitFlag,
		Strict:       *strictFlag,
		Workers:      *procsFlag,
		TableStyle:   *styleFlag,
		ResultN:      *nFlag,
		ResultReduce: *reduceFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return cfg, false, nil
}

func printUsage(output io.Writer) {
	fmt.Fprint(output, `
gridbench - a declarative benchmarking and result-analysis workflow engine.

Usage:
  gridbench <operation> [options] [GRID_PATH]

Operations:
  run        Expand a grid and execute its workpackages.
  continue   Resume an interrupted run with --id.
  analyse    Extract result rows from a completed run with --id.
  result     Compose analyzed rows into table/syslog/database output.
  info       Print a run's per-step progress and parameter space with --id.
  status     Print a run's workpackage completion counts.
  log        Print a step's captured <do> output with --step.
  comment    Append a free-text note to a run.
  remove     Delete a run's on-disk directory.
  update     Re-evaluate update_mode=always parameters with --id.

Options:
`)
	fmt.Fprintln(output, "  -g, --grid string          Path to a grid file or directory")
	fmt.Fprintln(output, "  --id int                   Benchmark run id")
	fmt.Fprintln(output, "  --outpath string            Root directory for benchmark runs (default bench_runs)")
	fmt.Fprintln(output, "  --tag string                Comma-separated active tags")
	fmt.Fprintln(output, "  --include-path string       Colon-separated include directories")
	fmt.Fprintln(output, "  -e, --exit                  Abort the whole run on first failure")
	fmt.Fprintln(output, "  --strict                    Fail continue on engine version mismatch")
	fmt.Fprintln(output, "  -s string                   Table style: csv|pretty|aligned")
	fmt.Fprintln(output, "  -n int                       Result row limit (not applied by any operation)")
	fmt.Fprintln(output, "  -r                           Reduce rows across iterations before composing")
	fmt.Fprintln(output, "  --step string                Step name (log)")
	fmt.Fprintln(output, "  -p, --procs int              Worker pool size")
	fmt.Fprintln(output, "  --log-format string          text|json (default text)")
	fmt.Fprintln(output, "  --log-level string           debug|info|warn|error (default info)")
}
