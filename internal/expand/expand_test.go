package expand

import (
	"context"
	"fmt"
	"testing"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/identity"
	"github.com/voxlogica/voxengine/internal/plan"
	"github.com/voxlogica/voxengine/internal/reducer"
)

// fakeExecute evaluates a small in-memory subset of node kinds directly,
// standing in for the scheduler so this package's tests do not depend on it.
func fakeExecute(wp *plan.WorkPlan) ExecuteFunc {
	var execute ExecuteFunc
	execute = func(ctx context.Context, id identity.NodeID) (any, error) {
		node, ok := wp.Get(id)
		if !ok {
			return nil, fmt.Errorf("node %s not found", id)
		}
		switch node.Kind {
		case plan.KindConstant:
			return node.Value, nil
		case plan.KindOperation:
			if node.Operator != "add" {
				return nil, fmt.Errorf("unsupported operator %q", node.Operator)
			}
			a, err := execute(ctx, node.Arguments["0"])
			if err != nil {
				return nil, err
			}
			b, err := execute(ctx, node.Arguments["1"])
			if err != nil {
				return nil, err
			}
			return a.(float64) + b.(float64), nil
		default:
			return nil, fmt.Errorf("unsupported node kind %v", node.Kind)
		}
	}
	return execute
}

func TestExpandProducesResultsInSourceOrder(t *testing.T) {
	wp := plan.New()
	r := reducer.New(nil)
	env := plan.Empty()

	body := ast.Application{Function: "add", Args: []ast.Expr{ast.Variable{Name: "i"}, ast.Literal{Value: float64(10)}}}
	bodyHash, err := identity.BodyHash(body.Canonical())
	if err != nil {
		t.Fatal(err)
	}
	closureID, err := identity.ClosureID([]string{"i"}, bodyHash, env.ConstantEntries())
	if err != nil {
		t.Fatal(err)
	}
	wp.AddNode(&plan.Node{ID: closureID, Kind: plan.KindClosure, Parameters: []string{"i"}, Body: body, Captured: env})

	seq := []any{float64(0), float64(1), float64(2), float64(3), float64(4)}
	results, err := Expand(context.Background(), wp, closureID, seq, r.ReduceExpr, fakeExecute(wp))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	want := []float64{10, 11, 12, 13, 14}
	if len(results) != len(want) {
		t.Fatalf("unexpected result count: %v", results)
	}
	for i, w := range want {
		if results[i].(float64) != w {
			t.Fatalf("index %d: got %v want %v", i, results[i], w)
		}
	}
}

func TestExpandMemoizesDistinctIterations(t *testing.T) {
	wp := plan.New()
	r := reducer.New(nil)
	env := plan.Empty()

	body := ast.Application{Function: "add", Args: []ast.Expr{ast.Variable{Name: "i"}, ast.Literal{Value: float64(1)}}}
	bodyHash, _ := identity.BodyHash(body.Canonical())
	closureID, _ := identity.ClosureID([]string{"i"}, bodyHash, env.ConstantEntries())
	wp.AddNode(&plan.Node{ID: closureID, Kind: plan.KindClosure, Parameters: []string{"i"}, Body: body, Captured: env})

	_, err := Expand(context.Background(), wp, closureID, []any{float64(1), float64(2)}, r.ReduceExpr, fakeExecute(wp))
	if err != nil {
		t.Fatal(err)
	}

	before := wp.Len()
	// Re-expanding over the same two elements must not create new nodes:
	// identical (constant, closure) pairs hash identically.
	_, err = Expand(context.Background(), wp, closureID, []any{float64(1), float64(2)}, r.ReduceExpr, fakeExecute(wp))
	if err != nil {
		t.Fatal(err)
	}
	if wp.Len() != before {
		t.Fatalf("expected node count unchanged on re-expansion: before=%d after=%d", before, wp.Len())
	}
}
