// Package version holds the engine's persisted version identifier.
// wpstore.InitBenchmark stamps it into a "version" file in every benchmark
// directory (it is not part of the configuration snapshot) so a later run
// can detect VersionMismatch (spec §7) against the engine that created the
// benchmark.
package version

// Current is the engine version stamped into every new benchmark directory.
const Current = "gridbench/1.0"
