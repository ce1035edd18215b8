package plan

import (
	"testing"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/identity"
)

func TestAddNodeMemoizes(t *testing.T) {
	p := New()
	n1 := &Node{ID: "abc", Kind: KindConstant, Value: float64(1)}
	n2 := &Node{ID: "abc", Kind: KindConstant, Value: float64(999)} // same id, different payload
	got1 := p.AddNode(n1)
	got2 := p.AddNode(n2)
	if got1 != got2 {
		t.Fatal("expected second AddNode with duplicate id to return the first node")
	}
	if p.Len() != 1 {
		t.Fatalf("expected exactly one stored node, got %d", p.Len())
	}
}

func TestSortedArgumentKeysPositionalThenNamed(t *testing.T) {
	n := &Node{Arguments: map[string]identity.NodeID{
		"10": "a", "2": "b", "1": "c", "name": "d", "alpha": "e",
	}}
	got := n.SortedArgumentKeys()
	want := []string{"1", "2", "10", "alpha", "name"}
	if len(got) != len(want) {
		t.Fatalf("unexpected key count: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got %v want %v", got, want)
		}
	}
}

func TestEnvironmentShadowing(t *testing.T) {
	base := Empty()
	ext1 := base.Extend("x", ConstantBinding("n1"))
	ext2 := ext1.Extend("x", ConstantBinding("n2"))

	if b, ok := ext2.Lookup("x"); !ok || b.Node != "n2" {
		t.Fatalf("expected innermost binding to win, got %+v ok=%v", b, ok)
	}
	if b, ok := ext1.Lookup("x"); !ok || b.Node != "n1" {
		t.Fatalf("expected outer environment unaffected by extension, got %+v ok=%v", b, ok)
	}
	if _, ok := base.Lookup("x"); ok {
		t.Fatal("expected base environment to remain empty")
	}
}

func TestGoalsAndImportsOrderPreserved(t *testing.T) {
	p := New()
	p.AddImport("ns1")
	p.AddImport("ns2")
	p.AddImport("ns1") // duplicate, should not append again
	if got := p.Imports(); len(got) != 2 || got[0] != "ns1" || got[1] != "ns2" {
		t.Fatalf("unexpected imports: %v", got)
	}

	p.AddGoal(Goal{Kind: ast.GoalPrint, Label: "a", NodeID: "n1"})
	p.AddGoal(Goal{Kind: ast.GoalSave, Label: "b", NodeID: "n2"})
	goals := p.Goals()
	if len(goals) != 2 || goals[0].Label != "a" || goals[1].Label != "b" {
		t.Fatalf("unexpected goals: %v", goals)
	}
}

func TestNodesExpandsLazyCompilations(t *testing.T) {
	p := New()
	env := Empty()
	lc := p.AddLazyCompilation(ast.Literal{Value: float64(7)}, env)

	reduce := func(env *Environment, plan *WorkPlan, expr ast.Expr) (identity.NodeID, error) {
		lit := expr.(ast.Literal)
		id, _, _ := constantIDForTest(lit.Value)
		plan.AddNode(&Node{ID: id, Kind: KindConstant, Value: lit.Value, Identifiable: true})
		return id, nil
	}

	nodes, err := p.Nodes(reduce)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.ResultID == "" {
		t.Fatal("expected lazy compilation to be resolved")
	}
	if _, ok := nodes[lc.ResultID]; !ok {
		t.Fatal("expected expanded node to be merged into the plan")
	}

	// Calling Nodes again must not re-expand (idempotent).
	calls := 0
	reduceCounting := func(env *Environment, plan *WorkPlan, expr ast.Expr) (identity.NodeID, error) {
		calls++
		return reduce(env, plan, expr)
	}
	if _, err := p.Nodes(reduceCounting); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("expected no re-expansion on second Nodes() call, got %d calls", calls)
	}
}

func constantIDForTest(v any) (identity.NodeID, bool, error) {
	return identity.ConstantID(v)
}
