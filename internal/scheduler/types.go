// Package scheduler builds the workpackage graph for one benchmark run
// (Cartesian cross-product of a step's own parameter space with its
// dependencies' compatible workpackages, spec §4.1/§4.4) and drives its
// execution with internal/dag's worker-pool executor.
package scheduler

import (
	"sync"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/paramexpand"
)

// Workpackage is one concrete unit of work: a step pinned to one parameter
// instance, one dependency combination, and (for repeating steps) one
// iteration. It is the schema persisted to wpstore's graph snapshot.
type Workpackage struct {
	ID          int
	Step        string
	Suffix      string
	Iteration   int
	ParentIDs   []int
	Params      map[string]string
	Env         map[string]string
	Dir         string
	CyclesTotal int

	// Merged is the step's merged parameterset and Raw its instance's
	// unresolved values, kept so a repeating step's cycle loop can
	// re-resolve update_mode=cycle/always parameters against the same
	// definitions Build used (spec §4.1). Excluded from the graph snapshot:
	// continue always rebuilds a fresh Workpackage via Build.
	Merged *config.Parameterset `json:"-"`
	Raw    map[string]string    `json:"-"`
}

// RunContext carries the run-wide settings a Workpackage's execution needs:
// tag selection, shell overrides, and paths, mirroring the environment
// variables spec §6 documents (JUBE_GROUP_NAME, JUBE_EXEC_SHELL,
// JUBE_INCLUDE_PATH).
type RunContext struct {
	BenchDir    string
	GroupName   string
	IncludePath []string
	ActiveTags  map[string]bool
	Exit        bool // -e/--exit: abort the whole run on first workpackage failure
	Procs       int

	Benchmark *config.Benchmark

	// Resolver re-evaluates a Workpackage's Merged parameterset against its
	// Raw instance values on each pass through run.go's cycle loop, so
	// update_mode=cycle/always parameters reflect that cycle rather than the
	// value Build resolved once before the run started.
	Resolver *paramexpand.Resolver

	mu          sync.Mutex
	sharedLocks map[string]*sync.Mutex
	maxAsync    map[string]chan struct{}
}

func (rc *RunContext) sharedLock(step string) *sync.Mutex {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.sharedLocks == nil {
		rc.sharedLocks = map[string]*sync.Mutex{}
	}
	l, ok := rc.sharedLocks[step]
	if !ok {
		l = &sync.Mutex{}
		rc.sharedLocks[step] = l
	}
	return l
}

// asyncSlot returns a buffered channel used as a counting semaphore over a
// step's non-shared <do> runs, sync and async alike (max_async, spec §4.4;
// 0 means no limit). An async <do> holds its slot only while it is launched
// and polled within its grace window; once it suspends, its still-running
// command no longer counts against the limit.
func (rc *RunContext) asyncSlot(step string, max int) chan struct{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.maxAsync == nil {
		rc.maxAsync = map[string]chan struct{}{}
	}
	ch, ok := rc.maxAsync[step]
	if !ok {
		if max <= 0 {
			max = 1 << 20
		}
		ch = make(chan struct{}, max)
		rc.maxAsync[step] = ch
	}
	return ch
}
