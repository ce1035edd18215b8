package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/plan"
	"github.com/voxlogica/voxengine/internal/reducer"
	"github.com/voxlogica/voxengine/internal/registry"
	"github.com/voxlogica/voxengine/internal/store"
)

func newScheduler(t *testing.T) (*Scheduler, *plan.WorkPlan, *reducer.Reducer) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	reg.Register(registry.NewDefaultNamespace())

	wp := plan.New()
	r := reducer.New(reg)
	return New(wp, st, reg, r.ReduceExpr, nil, 4), wp, r
}

func TestExecuteSimpleArithmeticGoal(t *testing.T) {
	sched, wp, r := newScheduler(t)
	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "a", Value: ast.Literal{Value: float64(1)}},
		ast.LetConst{Name: "b", Value: ast.Literal{Value: float64(2)}},
		ast.LetConst{Name: "c", Value: ast.Application{Function: "add", Args: []ast.Expr{
			ast.Variable{Name: "a"}, ast.Variable{Name: "b"},
		}}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "sum", Value: ast.Variable{Name: "c"}},
	}}
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatal(err)
	}

	result, err := sched.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got %+v", result.Goals)
	}
	if result.Goals[0].Value.(float64) != 3 {
		t.Fatalf("expected 3, got %v", result.Goals[0].Value)
	}
}

func TestExecuteForLoop(t *testing.T) {
	sched, wp, r := newScheduler(t)
	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "xs", Value: ast.ForLoop{
			Var:    "i",
			Source: ast.Application{Function: "range", Args: []ast.Expr{ast.Literal{Value: float64(0)}, ast.Literal{Value: float64(5)}}},
			Body:   ast.Application{Function: "add", Args: []ast.Expr{ast.Variable{Name: "i"}, ast.Literal{Value: float64(10)}}},
		}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "xs", Value: ast.Variable{Name: "xs"}},
	}}
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatal(err)
	}

	result, err := sched.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got %+v", result.Goals)
	}
	seq := result.Goals[0].Value.([]any)
	want := []float64{10, 11, 12, 13, 14}
	for i, w := range want {
		if seq[i].(float64) != w {
			t.Fatalf("index %d: got %v want %v", i, seq[i], w)
		}
	}
}

func TestExecuteDeduplicatesSharedNode(t *testing.T) {
	var calls int32
	expensiveNS := registry.NewStaticNamespace("default", map[string]registry.Primitive{
		"expensive": func(ctx context.Context, args map[string]any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return float64(42), nil
		},
	}, nil)
	reg := registry.New()
	reg.Register(expensiveNS)

	st, err := store.Open(context.Background(), store.Options{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	wp := plan.New()
	r := reducer.New(reg)
	sched := New(wp, st, reg, r.ReduceExpr, nil, 4)

	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "e", Value: ast.Application{Function: "expensive"}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "g1", Value: ast.Variable{Name: "e"}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "g2", Value: ast.Variable{Name: "e"}},
	}}
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatal(err)
	}

	result, err := sched.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got %+v", result.Goals)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one primitive invocation, got %d", calls)
	}
}

func TestExecuteFailureIsolatesIndependentGoals(t *testing.T) {
	sched, wp, r := newScheduler(t)

	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "bad", Value: ast.Application{Function: "div", Args: []ast.Expr{
			ast.Literal{Value: float64(1)}, ast.Literal{Value: float64(0)},
		}}},
		ast.LetConst{Name: "good", Value: ast.Literal{Value: float64(7)}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "g1", Value: ast.Variable{Name: "bad"}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "g2", Value: ast.Variable{Name: "good"}},
	}}
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatal(err)
	}

	result, err := sched.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Success() {
		t.Fatal("expected overall failure")
	}
	var g1, g2 GoalResult
	for _, g := range result.Goals {
		if g.Label == "g1" {
			g1 = g
		}
		if g.Label == "g2" {
			g2 = g
		}
	}
	if g1.Status != GoalFailed {
		t.Fatalf("expected g1 failed, got %v", g1.Status)
	}
	if g2.Status != GoalCompleted {
		t.Fatalf("expected g2 completed, got %v", g2.Status)
	}
}

// TestExecuteAbortsOnStoreError verifies spec.md §7's exception to goal
// isolation: a failure in the persistence layer itself, not in a primitive,
// is returned as Execute's error rather than buried as an ordinary per-goal
// failure.
func TestExecuteAbortsOnStoreError(t *testing.T) {
	st, err := store.Open(context.Background(), store.Options{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	st.Close() // every subsequent store call now fails

	reg := registry.New()
	reg.Register(registry.NewDefaultNamespace())

	wp := plan.New()
	r := reducer.New(reg)
	sched := New(wp, st, reg, r.ReduceExpr, nil, 4)

	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "a", Value: ast.Literal{Value: float64(1)}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "g1", Value: ast.Variable{Name: "a"}},
	}}
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatal(err)
	}

	_, err = sched.Execute(context.Background())
	if err == nil {
		t.Fatal("expected Execute to return a StoreError")
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *StoreError, got %T: %v", err, err)
	}
}
