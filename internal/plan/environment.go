package plan

import (
	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/identity"
)

// Binding is either a ConstantBinding (wraps a NodeID) or a FunctionBinding
// (a closure over parameters, body, and the environment captured at
// definition time).
type Binding struct {
	IsFunction bool

	// ConstantBinding
	Node identity.NodeID

	// FunctionBinding
	Parameters []string
	Body       ast.Expr
	Captured   *Environment
}

// ConstantBinding constructs a binding for a reduced value.
func ConstantBinding(id identity.NodeID) Binding {
	return Binding{IsFunction: false, Node: id}
}

// FunctionBinding constructs a binding for a user-defined function, closing
// over env at the point of definition.
func FunctionBinding(params []string, body ast.Expr, env *Environment) Binding {
	return Binding{IsFunction: true, Parameters: params, Body: body, Captured: env}
}

// Environment is an immutable mapping from identifiers to bindings.
// Extension creates a new Environment sharing the parent (spec.md §3.1).
type Environment struct {
	parent *Environment
	name   string
	value  Binding
}

// Empty returns the empty environment.
func Empty() *Environment {
	return nil
}

// Extend returns a new environment that shadows name with value, sharing
// the rest of env.
func (env *Environment) Extend(name string, value Binding) *Environment {
	return &Environment{parent: env, name: name, value: value}
}

// Lookup searches env and its ancestors for name, innermost first.
func (env *Environment) Lookup(name string) (Binding, bool) {
	for e := env; e != nil; e = e.parent {
		if e.name == name {
			return e.value, true
		}
	}
	return Binding{}, false
}

// ConstantEntries returns the (name, id) pairs of every constant binding
// reachable from env, innermost shadowing outermost, skipping function
// bindings. Used to compute the closure-identity hash (spec.md §4.1).
func (env *Environment) ConstantEntries() []identity.ClosureEntry {
	seen := make(map[string]bool)
	var entries []identity.ClosureEntry
	for e := env; e != nil; e = e.parent {
		if seen[e.name] {
			continue
		}
		seen[e.name] = true
		if !e.value.IsFunction {
			entries = append(entries, identity.ClosureEntry{Name: e.name, ID: e.value.Node})
		}
	}
	return entries
}
