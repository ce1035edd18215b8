// Package plan implements the content-addressed work plan (spec component
// C3): nodes, goals, environments, and deferred lazy compilations.
package plan

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/identity"
)

// NodeKind tags the variant of a Node.
type NodeKind int

const (
	KindConstant NodeKind = iota
	KindOperation
	KindClosure
	KindLazyMarker
)

func (k NodeKind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindOperation:
		return "operation"
	case KindClosure:
		return "closure"
	case KindLazyMarker:
		return "lazy_marker"
	default:
		return "unknown"
	}
}

// Node is the unit of computation in a WorkPlan.
type Node struct {
	ID   identity.NodeID
	Kind NodeKind

	// Constant
	Value        any
	Identifiable bool

	// Operation
	Operator  string
	Arguments map[string]identity.NodeID

	// Closure
	Parameters []string
	Body       ast.Expr
	Captured   *Environment

	// LazyMarker (rarely surfaced directly; see LazyCompilation)
	LazyExpr ast.Expr
	LazyEnv  *Environment
}

// SortedArgumentKeys returns the argument keys in canonical order:
// positional keys "0","1",... first (numerically), then named keys
// lexicographically. This is the order the scheduler resolves and presents
// arguments to primitives (spec.md §4.4, §5 ordering guarantees).
func (n *Node) SortedArgumentKeys() []string {
	keys := make([]string, 0, len(n.Arguments))
	for k := range n.Arguments {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessArgKey(keys[i], keys[j])
	})
	return keys
}

func isPositional(k string) (int, bool) {
	if k == "" {
		return 0, false
	}
	n := 0
	for _, r := range k {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func lessArgKey(a, b string) bool {
	an, aok := isPositional(a)
	bn, bok := isPositional(b)
	switch {
	case aok && bok:
		return an < bn
	case aok && !bok:
		return true
	case !aok && bok:
		return false
	default:
		return a < b
	}
}

// Goal is a terminal print/save instruction.
type Goal struct {
	Kind   ast.GoalKind
	Label  string
	NodeID identity.NodeID
}

// LazyCompilation is a deferred expression/environment pair whose expansion
// is triggered by access to WorkPlan.Nodes (spec.md §4.3).
type LazyCompilation struct {
	Expr     ast.Expr
	Env      *Environment
	ResultID identity.NodeID
	expanded bool
}

// ReduceFunc reduces expr under env into plan, returning the id of the
// resulting node. Implemented by internal/reducer; accepted here as a
// function value to avoid an import cycle between plan and reducer.
type ReduceFunc func(env *Environment, plan *WorkPlan, expr ast.Expr) (identity.NodeID, error)

// WorkPlan is the content-addressed DAG produced by reduction.
type WorkPlan struct {
	mu      sync.Mutex
	nodes   map[identity.NodeID]*Node
	goals   []Goal
	imports []string
	lazy    []*LazyCompilation
}

// New returns an empty WorkPlan.
func New() *WorkPlan {
	return &WorkPlan{nodes: make(map[identity.NodeID]*Node)}
}

// Get returns the node for id, if present, without triggering lazy expansion.
func (p *WorkPlan) Get(id identity.NodeID) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	return n, ok
}

// AddNode inserts node if its id is not already present (memoization) and
// returns the node actually stored under that id.
func (p *WorkPlan) AddNode(node *Node) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.nodes[node.ID]; ok {
		return existing
	}
	p.nodes[node.ID] = node
	return node
}

// AddGoal appends a goal to the plan.
func (p *WorkPlan) AddGoal(g Goal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.goals = append(p.goals, g)
}

// AddImport records an imported namespace, if not already present.
func (p *WorkPlan) AddImport(ns string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.imports {
		if existing == ns {
			return
		}
	}
	p.imports = append(p.imports, ns)
}

// Imports returns the imported namespaces in import order.
func (p *WorkPlan) Imports() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.imports))
	copy(out, p.imports)
	return out
}

// Goals returns the plan's goals in declaration order.
func (p *WorkPlan) Goals() []Goal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Goal, len(p.goals))
	copy(out, p.goals)
	return out
}

// AddLazyCompilation registers a deferred expression/environment pair and
// returns the marker tracking its eventual result id.
func (p *WorkPlan) AddLazyCompilation(expr ast.Expr, env *Environment) *LazyCompilation {
	p.mu.Lock()
	defer p.mu.Unlock()
	lc := &LazyCompilation{Expr: expr, Env: env}
	p.lazy = append(p.lazy, lc)
	return lc
}

// Nodes expands any pending lazy compilations via reduce, merges their
// results into the plan, and returns a snapshot of all nodes (spec.md §4.3
// "Lazy plan"). Safe to call repeatedly; already-expanded markers are
// skipped.
func (p *WorkPlan) Nodes(reduce ReduceFunc) (map[identity.NodeID]*Node, error) {
	for {
		lc := p.nextPendingLazy()
		if lc == nil {
			break
		}
		id, err := reduce(lc.Env, p, lc.Expr)
		if err != nil {
			return nil, fmt.Errorf("plan: expand lazy compilation: %w", err)
		}
		p.mu.Lock()
		lc.ResultID = id
		lc.expanded = true
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make(map[identity.NodeID]*Node, len(p.nodes))
	for id, n := range p.nodes {
		snapshot[id] = n
	}
	return snapshot, nil
}

func (p *WorkPlan) nextPendingLazy() *LazyCompilation {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, lc := range p.lazy {
		if !lc.expanded {
			return lc
		}
	}
	return nil
}

// Len returns the number of nodes currently materialized (excluding
// not-yet-expanded lazy compilations).
func (p *WorkPlan) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}
