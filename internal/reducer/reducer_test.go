package reducer

import (
	"errors"
	"testing"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/plan"
)

func TestReduceLetAndPrint(t *testing.T) {
	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "a", Value: ast.Literal{Value: float64(1)}},
		ast.LetConst{Name: "b", Value: ast.Literal{Value: float64(2)}},
		ast.LetConst{Name: "c", Value: ast.Application{Function: "add", Args: []ast.Expr{
			ast.Variable{Name: "a"}, ast.Variable{Name: "b"},
		}}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "sum", Value: ast.Variable{Name: "c"}},
	}}

	wp := plan.New()
	r := New(nil)
	_, err := r.Reduce(prog, plan.Empty(), wp)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	nodes, err := wp.Nodes(r.ReduceExpr)
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	// two constants + one operation = 3 nodes.
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %+v", len(nodes), nodes)
	}
	goals := wp.Goals()
	if len(goals) != 1 || goals[0].Label != "sum" {
		t.Fatalf("unexpected goals: %+v", goals)
	}
}

func TestReduceIsDeterministic(t *testing.T) {
	build := func() *plan.WorkPlan {
		prog := ast.Program{Commands: []ast.Command{
			ast.LetConst{Name: "a", Value: ast.Literal{Value: float64(1)}},
			ast.GoalStmt{Kind: ast.GoalPrint, Label: "a", Value: ast.Variable{Name: "a"}},
		}}
		wp := plan.New()
		r := New(nil)
		if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
			t.Fatal(err)
		}
		return wp
	}

	p1 := build()
	p2 := build()
	if p1.Goals()[0].NodeID != p2.Goals()[0].NodeID {
		t.Fatal("expected identical node ids across independent reductions of the same program")
	}
}

func TestReduceUserDefinedFunctionInlines(t *testing.T) {
	prog := ast.Program{Commands: []ast.Command{
		ast.LetFunc{Name: "double", Params: []string{"x"}, Body: ast.Application{
			Function: "add", Args: []ast.Expr{ast.Variable{Name: "x"}, ast.Variable{Name: "x"}},
		}},
		ast.LetConst{Name: "r", Value: ast.Application{Function: "double", Args: []ast.Expr{ast.Literal{Value: float64(21)}}}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "r", Value: ast.Variable{Name: "r"}},
	}}

	wp := plan.New()
	r := New(nil)
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	goals := wp.Goals()
	node, ok := wp.Get(goals[0].NodeID)
	if !ok {
		t.Fatal("expected result node to exist")
	}
	if node.Kind != plan.KindOperation || node.Operator != "add" {
		t.Fatalf("expected inlined add operation, got %+v", node)
	}
}

func TestReduceUnboundVariableIsResolutionError(t *testing.T) {
	prog := ast.Program{Commands: []ast.Command{
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "x", Value: ast.Variable{Name: "nope"}},
	}}
	wp := plan.New()
	r := New(nil)
	_, err := r.Reduce(prog, plan.Empty(), wp)
	if err == nil {
		t.Fatal("expected error for unbound variable")
	}
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ResolutionError, got %T: %v", err, err)
	}
}

func TestReduceForLoopDoesNotPreExpand(t *testing.T) {
	prog := ast.Program{Commands: []ast.Command{
		ast.LetConst{Name: "xs", Value: ast.ForLoop{
			Var:    "i",
			Source: ast.Application{Function: "range", Args: []ast.Expr{ast.Literal{Value: float64(0)}, ast.Literal{Value: float64(5)}}},
			Body:   ast.Application{Function: "add", Args: []ast.Expr{ast.Variable{Name: "i"}, ast.Literal{Value: float64(10)}}},
		}},
		ast.GoalStmt{Kind: ast.GoalPrint, Label: "xs", Value: ast.Variable{Name: "xs"}},
	}}

	wp := plan.New()
	r := New(nil)
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	goals := wp.Goals()
	node, ok := wp.Get(goals[0].NodeID)
	if !ok {
		t.Fatal("expected for-node to exist")
	}
	if node.Operator != ForOperator {
		t.Fatalf("expected reserved for operator, got %q", node.Operator)
	}
	if _, ok := node.Arguments["source"]; !ok {
		t.Fatal("expected source argument")
	}
	if _, ok := node.Arguments["closure"]; !ok {
		t.Fatal("expected closure argument")
	}
	// The closure body (the addition) must not appear as a materialized
	// node yet: only the for-operation and its source/closure nodes exist.
	for _, n := range mustNodes(t, wp, r) {
		if n.Kind == plan.KindOperation && n.Operator == "add" {
			t.Fatal("expected the loop body to remain unexpanded until dynamic expansion runs")
		}
	}
}

func mustNodes(t *testing.T, wp *plan.WorkPlan, r *Reducer) map[string]*plan.Node {
	t.Helper()
	nodes, err := wp.Nodes(r.ReduceExpr)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]*plan.Node, len(nodes))
	for id, n := range nodes {
		out[string(id)] = n
	}
	return out
}
