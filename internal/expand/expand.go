// Package expand implements just-in-time per-iteration sub-plan compilation
// for map/for loop operators (spec component C7, spec.md §4.6).
package expand

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/voxlogica/voxengine/internal/identity"
	"github.com/voxlogica/voxengine/internal/plan"
)

// ExecuteFunc recursively executes a single node to completion, as
// implemented by the scheduler (spec component C6). Accepted as a function
// value to avoid an import cycle between expand and scheduler.
type ExecuteFunc func(ctx context.Context, id identity.NodeID) (any, error)

// Expand realizes per-element computation for a `for`/`map` operation whose
// closure is closureID and whose source collection has already been
// resolved to seq. Iterations run concurrently; results are returned in
// source order regardless of completion order (spec.md §4.6 step 3).
func Expand(ctx context.Context, wp *plan.WorkPlan, closureID identity.NodeID, seq []any, reduce plan.ReduceFunc, execute ExecuteFunc) ([]any, error) {
	closure, ok := wp.Get(closureID)
	if !ok {
		return nil, fmt.Errorf("expand: closure %s not found in plan", closureID)
	}
	if closure.Kind != plan.KindClosure {
		return nil, fmt.Errorf("expand: node %s is not a closure", closureID)
	}
	if len(closure.Parameters) != 1 {
		return nil, fmt.Errorf("expand: for-loop closure must take exactly one parameter, got %d", len(closure.Parameters))
	}
	param := closure.Parameters[0]

	results := make([]any, len(seq))
	g, gctx := errgroup.WithContext(ctx)

	for i, v := range seq {
		i, v := i, v
		g.Go(func() error {
			// A distinct Constant node per iteration element: its id
			// contributes to the body's closure hash, so different iterations
			// and different runs over different inputs memoize independently
			// (spec.md §4.6 "per-iteration independence").
			constID, identifiable, err := identity.ConstantID(v)
			if err != nil {
				return fmt.Errorf("expand: iteration %d: element id: %w", i, err)
			}
			wp.AddNode(&plan.Node{ID: constID, Kind: plan.KindConstant, Value: v, Identifiable: identifiable})

			iterEnv := closure.Captured.Extend(param, plan.ConstantBinding(constID))
			resultID, err := reduce(iterEnv, wp, closure.Body)
			if err != nil {
				return fmt.Errorf("expand: iteration %d: reduce body: %w", i, err)
			}

			val, err := execute(gctx, resultID)
			if err != nil {
				return fmt.Errorf("expand: iteration %d: %w", i, err)
			}
			results[i] = val
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
