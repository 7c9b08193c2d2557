package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/gridbench/internal/ctxlog"
)

// ExecFunc runs one node. It returns nil once the node's work is complete,
// an error wrapping ErrAwaitingSentinel when async work is still pending
// (the worker then suspends the node instead of failing it), or any other
// error on failure.
type ExecFunc func(ctx context.Context, n *Node) error

// Executor runs a Graph's nodes with a bounded worker pool, honoring
// dependency order (spec §4.4).
type Executor struct {
	Graph      *Graph
	NumWorkers int
	Exec       ExecFunc
	// StopOnFailure aborts every other in-flight and pending node as soon as
	// one node fails (spec §6's -e/--exit flag). When false, only the
	// failed node's dependents are skipped; independent branches keep going.
	StopOnFailure bool

	wg sync.WaitGroup
}

// Run executes every node in the graph, respecting dependencies, and
// returns the first non-skip error encountered.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	e.Graph.InitCounters()

	readyChan := make(chan *Node, len(e.Graph.Nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	roots := e.Graph.Roots()
	for _, n := range roots {
		readyChan <- n
	}
	logger.Debug("dag: found root workpackages.", "count", len(roots))

	e.wg.Add(len(e.Graph.Nodes))

	workers := e.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	e.wg.Wait()
	close(readyChan)

	var failed []string
	var rootCause error
	for _, n := range e.Graph.Nodes {
		if n.State.Load() == Failed {
			if n.Error != nil && !strings.HasPrefix(n.Error.Error(), "skipped") && !errors.Is(n.Error, context.Canceled) {
				failed = append(failed, n.ID)
				if rootCause == nil {
					rootCause = n.Error
				}
			}
		}
	}
	if rootCause != nil {
		return fmt.Errorf("dag: execution failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}

func (e *Executor) skipDependents(ctx context.Context, n *Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.Dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("dag: skipping dependent due to upstream failure.", "id", dependent.ID, "upstream", n.ID)
			dependent.State.Store(Failed)
			dependent.Error = fmt.Errorf("skipped due to upstream failure of %q", n.ID)
			e.wg.Done()
			e.skipDependents(ctx, dependent)
		})
	}
}

// suspendDependents recursively excuses n's dependents from this Run: none
// of them can become ready while n is AwaitingSentinel, so their wg.Done
// never fires on its own. Dependents keep their Pending state and are
// re-evaluated from scratch on the next Build+Run over the same graph.
func (e *Executor) suspendDependents(ctx context.Context, n *Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.Dependents {
		dependent.skipOnce.Do(func() {
			logger.Debug("dag: suspending dependent pending upstream sentinel.", "id", dependent.ID, "upstream", n.ID)
			e.wg.Done()
			e.suspendDependents(ctx, dependent)
		})
	}
}

func (e *Executor) worker(ctx context.Context, readyChan chan *Node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)
	for n := range readyChan {
		wl := logger.With("worker", workerID, "id", n.ID)

		if ctx.Err() != nil {
			n.skipOnce.Do(func() {
				wl.Warn("dag: context canceled, skipping node.")
				n.State.Store(Failed)
				n.Error = ctx.Err()
				e.wg.Done()
				e.skipDependents(ctx, n)
			})
			continue
		}

		wl.Debug("dag: worker picked up node.")
		n.State.Store(Running)
		err := e.Exec(ctx, n)
		if err != nil {
			if errors.Is(err, ErrAwaitingSentinel) {
				wl.Debug("dag: node awaiting sentinel, suspending.")
				n.State.Store(AwaitingSentinel)
				e.wg.Done()
				e.suspendDependents(ctx, n)
				continue
			}
			wl.Error("dag: node failed.", "error", err)
			n.State.Store(Failed)
			n.Error = err
			if e.StopOnFailure {
				cancel()
			}
			e.skipDependents(ctx, n)
			e.wg.Done()
			continue
		}

		wl.Debug("dag: node succeeded.")
		n.State.Store(Done)
		for _, dependent := range n.Dependents {
			if dependent.depCount.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		e.wg.Done()
	}
}
