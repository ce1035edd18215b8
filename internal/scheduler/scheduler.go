// Package scheduler drives a WorkPlan to completion: topologically-ordered,
// concurrent task dispatch with futures deduplication and cross-worker
// coordination through the store (spec component C6, spec.md §4.4).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/expand"
	"github.com/voxlogica/voxengine/internal/identity"
	"github.com/voxlogica/voxengine/internal/plan"
	"github.com/voxlogica/voxengine/internal/reducer"
	"github.com/voxlogica/voxengine/internal/registry"
	"github.com/voxlogica/voxengine/internal/store"
)

// GoalStatus is the terminal outcome of one goal's execution.
type GoalStatus string

const (
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// GoalResult is the per-goal outcome surfaced in a RunResult (spec.md §7
// "the run_result lists goals with status").
type GoalResult struct {
	Label  string
	Kind   ast.GoalKind
	NodeID identity.NodeID
	Status GoalStatus
	Value  any
	Err    error
}

// RunResult is the outcome of one Execute call (spec.md §6.3).
type RunResult struct {
	Goals []GoalResult
}

// Success reports whether every goal completed.
func (r *RunResult) Success() bool {
	for _, g := range r.Goals {
		if g.Status != GoalCompleted {
			return false
		}
	}
	return true
}

// Scheduler executes a WorkPlan's goals to completion against a Store and
// Registry.
type Scheduler struct {
	plan     *plan.WorkPlan
	store    *store.Store
	registry *registry.Registry
	reduce   plan.ReduceFunc
	logger   *slog.Logger

	sem chan struct{}
	sf  singleflight.Group
}

// New returns a Scheduler bounded to concurrency simultaneous primitive
// invocations. A concurrency <= 0 is treated as 1; the machine-concurrency
// default of SPEC_FULL.md §A.2 is applied by the caller (the engine passes
// its configured value).
func New(wp *plan.WorkPlan, st *store.Store, reg *registry.Registry, reduce plan.ReduceFunc, logger *slog.Logger, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		plan: wp, store: st, registry: reg, reduce: reduce, logger: logger,
		sem: make(chan struct{}, concurrency),
	}
}

// Execute runs every goal of the plan to completion. Goals execute
// concurrently and independently; one goal's primitive or dependency failure
// does not abort another (spec.md §4.4 "failed goals are reported but do not
// abort other independent goals"). A StoreError is the one exception (spec.md
// §7): it signals the persistence layer itself is unusable, so it cancels
// every other in-flight goal and is returned as Execute's error.
func (s *Scheduler) Execute(ctx context.Context) (*RunResult, error) {
	goals := s.plan.Goals()
	results := make([]GoalResult, len(goals))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var abortOnce sync.Once
	var abortErr error

	var wg sync.WaitGroup
	for i, goal := range goals {
		i, goal := i, goal
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := s.execute(runCtx, goal.NodeID)
			results[i] = GoalResult{Label: goal.Label, Kind: goal.Kind, NodeID: goal.NodeID, Value: val}
			var storeErr *StoreError
			switch {
			case errors.As(err, &storeErr):
				abortOnce.Do(func() {
					abortErr = storeErr
					cancel()
				})
				results[i].Status = GoalFailed
				results[i].Err = err
			case errors.Is(err, context.Canceled):
				results[i].Status = GoalCancelled
			case err != nil:
				results[i].Status = GoalFailed
				results[i].Err = err
			default:
				results[i].Status = GoalCompleted
			}
		}()
	}
	wg.Wait()

	if abortErr != nil {
		return &RunResult{Goals: results}, abortErr
	}
	return &RunResult{Goals: results}, nil
}

// execute implements the pseudocode of spec.md §4.4: a store existence
// check, then in-process deduplication via a shared future (singleflight),
// then the claim/compute/complete protocol against the store.
func (s *Scheduler) execute(ctx context.Context, id identity.NodeID) (any, error) {
	if exists, err := s.store.Exists(ctx, string(id)); err != nil {
		return nil, &StoreError{Err: err}
	} else if exists {
		res, err := s.store.Get(ctx, string(id))
		if err != nil {
			return nil, &StoreError{Err: err}
		}
		return res.Value, nil
	}

	v, err, _ := s.sf.Do(string(id), func() (any, error) {
		return s.computeOrWait(ctx, id)
	})
	return v, err
}

func (s *Scheduler) computeOrWait(ctx context.Context, id identity.NodeID) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	claimed, err := s.store.TryClaim(ctx, string(id))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			res, waitErr := s.store.WaitForCompletion(ctx, string(id))
			if waitErr != nil {
				return nil, waitErr
			}
			return res.Value, nil
		}
		return nil, &StoreError{Err: err}
	}
	if !claimed {
		res, waitErr := s.store.WaitForCompletion(ctx, string(id))
		if waitErr != nil {
			return nil, waitErr
		}
		return res.Value, nil
	}

	node, ok := s.plan.Get(id)
	if !ok {
		msg := fmt.Sprintf("node %s not found in plan", id)
		_ = s.store.MarkFailed(ctx, string(id), msg)
		return nil, errors.New("scheduler: " + msg)
	}

	val, computeErr := s.computeNode(ctx, node)
	if computeErr != nil {
		_ = s.store.MarkFailed(ctx, string(id), computeErr.Error())
		s.logger.Warn("scheduler: node failed", "node_id", id, "operator", node.Operator, "err", computeErr)
		return nil, computeErr
	}

	if err := s.store.Put(ctx, string(id), val, ""); err != nil {
		return nil, &StoreError{Err: err}
	}
	if err := s.store.MarkCompleted(ctx, string(id)); err != nil {
		return nil, &StoreError{Err: err}
	}
	s.logger.Info("scheduler: node completed", "node_id", id, "operator", node.Operator)
	return val, nil
}

func (s *Scheduler) computeNode(ctx context.Context, node *plan.Node) (any, error) {
	switch node.Kind {
	case plan.KindConstant:
		return node.Value, nil

	case plan.KindClosure:
		return nil, fmt.Errorf("scheduler: node %s is a closure and cannot be executed directly", node.ID)

	case plan.KindOperation:
		if node.Operator == reducer.ForOperator {
			return s.computeForOperation(ctx, node)
		}
		return s.computeApplication(ctx, node)

	default:
		return nil, fmt.Errorf("scheduler: node %s has unhandled kind %v", node.ID, node.Kind)
	}
}

// computeApplication resolves arguments in canonical key order (spec.md
// §4.4, §5 "Ordering guarantees"), invoking the primitive with them
// assembled in that order regardless of completion order.
func (s *Scheduler) computeApplication(ctx context.Context, node *plan.Node) (any, error) {
	keys := node.SortedArgumentKeys()
	argVals := make([]any, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, k := range keys {
		i, depID := i, node.Arguments[k]
		g.Go(func() error {
			v, err := s.execute(gctx, depID)
			if err != nil {
				return &DependencyFailure{NodeID: depID, Err: err}
			}
			argVals[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	args := make(map[string]any, len(keys))
	for i, k := range keys {
		args[k] = argVals[i]
	}

	ns, op, err := s.registry.Resolve(node.Operator, s.plan.Imports())
	if err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	v, err := ns.Invoke(ctx, op, args)
	if err != nil {
		return nil, &PrimitiveFailure{Operator: node.Operator, Err: err}
	}
	return v, nil
}

// computeForOperation resolves only the source argument as data; the
// closure argument is a reference consumed by Dynamic Expansion (C7), not a
// value to execute (spec.md §4.6).
func (s *Scheduler) computeForOperation(ctx context.Context, node *plan.Node) (any, error) {
	sourceID := node.Arguments["source"]
	closureID := node.Arguments["closure"]

	sourceVal, err := s.execute(ctx, sourceID)
	if err != nil {
		return nil, &DependencyFailure{NodeID: sourceID, Err: err}
	}
	seq, ok := sourceVal.([]any)
	if !ok {
		return nil, fmt.Errorf("scheduler: for-loop source %s did not produce a sequence (got %T)", sourceID, sourceVal)
	}

	return expand.Expand(ctx, s.plan, closureID, seq, s.reduce, s.execute)
}
