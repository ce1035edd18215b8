// Package reducer translates a pre-parsed AST into a content-addressed
// WorkPlan under an environment (spec component C4).
package reducer

import (
	"fmt"
	"strconv"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/identity"
	"github.com/voxlogica/voxengine/internal/plan"
)

// NamespaceChecker validates that an imported namespace is known to the
// primitive registry. The reducer consults it only for import resolution
// (spec.md §2 data flow); it does not resolve operator symbols, which
// remain opaque strings in emitted Operation nodes until scheduling.
type NamespaceChecker interface {
	HasNamespace(name string) bool
}

// Reducer reduces AST commands and expressions into a WorkPlan.
type Reducer struct {
	Namespaces NamespaceChecker
}

// New returns a Reducer. namespaces may be nil to skip import validation.
func New(namespaces NamespaceChecker) *Reducer {
	return &Reducer{Namespaces: namespaces}
}

// Reduce processes every command of prog in order, threading the
// environment through let/import bindings, and returns the final
// environment (spec.md §4.3 reducer contract).
func (r *Reducer) Reduce(prog ast.Program, env *plan.Environment, wp *plan.WorkPlan) (*plan.Environment, error) {
	var err error
	for _, cmd := range prog.Commands {
		env, err = r.reduceCommand(env, wp, cmd)
		if err != nil {
			return env, err
		}
	}
	return env, nil
}

func (r *Reducer) reduceCommand(env *plan.Environment, wp *plan.WorkPlan, cmd ast.Command) (*plan.Environment, error) {
	switch c := cmd.(type) {
	case ast.LetConst:
		id, err := r.ReduceExpr(env, wp, c.Value)
		if err != nil {
			return env, fmt.Errorf("reducer: let %s: %w", c.Name, err)
		}
		return env.Extend(c.Name, plan.ConstantBinding(id)), nil

	case ast.LetFunc:
		return env.Extend(c.Name, plan.FunctionBinding(c.Params, c.Body, env)), nil

	case ast.Import:
		if r.Namespaces != nil && !r.Namespaces.HasNamespace(c.Namespace) {
			return env, &ResolutionError{Symbol: c.Namespace, Reason: "unknown namespace"}
		}
		wp.AddImport(c.Namespace)
		return env, nil

	case ast.GoalStmt:
		id, err := r.ReduceExpr(env, wp, c.Value)
		if err != nil {
			return env, fmt.Errorf("reducer: %s %q: %w", c.Kind, c.Label, err)
		}
		wp.AddGoal(plan.Goal{Kind: c.Kind, Label: c.Label, NodeID: id})
		return env, nil

	default:
		return env, fmt.Errorf("reducer: unknown command type %T", cmd)
	}
}

// ReduceExpr reduces expr under env into wp, returning the resulting node's
// id (spec.md §4.3 expression reduction). Before emitting any node it
// computes the id and reuses an existing plan entry if present
// (memoization, via plan.WorkPlan.AddNode).
func (r *Reducer) ReduceExpr(env *plan.Environment, wp *plan.WorkPlan, expr ast.Expr) (identity.NodeID, error) {
	switch e := expr.(type) {
	case ast.Literal:
		return r.reduceLiteral(wp, e.Value)
	case ast.Variable:
		return r.reduceVariable(env, wp, e.Name)
	case ast.Application:
		return r.reduceApplication(env, wp, e)
	case ast.ForLoop:
		return r.reduceForLoop(env, wp, e)
	default:
		return "", fmt.Errorf("reducer: unknown expression type %T", expr)
	}
}

func (r *Reducer) reduceLiteral(wp *plan.WorkPlan, value any) (identity.NodeID, error) {
	id, identifiable, err := identity.ConstantID(value)
	if err != nil {
		return "", fmt.Errorf("reducer: literal: %w", err)
	}
	wp.AddNode(&plan.Node{ID: id, Kind: plan.KindConstant, Value: value, Identifiable: identifiable})
	return id, nil
}

func (r *Reducer) reduceVariable(env *plan.Environment, wp *plan.WorkPlan, name string) (identity.NodeID, error) {
	binding, ok := env.Lookup(name)
	if !ok {
		return "", &ResolutionError{Symbol: name, Reason: "unbound variable"}
	}
	if !binding.IsFunction {
		return binding.Node, nil
	}
	return r.closureNode(wp, binding.Parameters, binding.Body, binding.Captured)
}

// closureNode materializes a Closure node for a function value used as a
// first-class value (spec.md §4.1 closure encoding).
func (r *Reducer) closureNode(wp *plan.WorkPlan, params []string, body ast.Expr, captured *plan.Environment) (identity.NodeID, error) {
	bodyHash, err := identity.BodyHash(body.Canonical())
	if err != nil {
		return "", fmt.Errorf("reducer: closure body hash: %w", err)
	}
	id, err := identity.ClosureID(params, bodyHash, captured.ConstantEntries())
	if err != nil {
		return "", fmt.Errorf("reducer: closure id: %w", err)
	}
	wp.AddNode(&plan.Node{
		ID: id, Kind: plan.KindClosure,
		Parameters: params, Body: body, Captured: captured,
	})
	return id, nil
}

func (r *Reducer) reduceApplication(env *plan.Environment, wp *plan.WorkPlan, app ast.Application) (identity.NodeID, error) {
	args := make(map[string]identity.NodeID, len(app.Args))
	for i, a := range app.Args {
		id, err := r.ReduceExpr(env, wp, a)
		if err != nil {
			return "", fmt.Errorf("reducer: argument %d of %q: %w", i, app.Function, err)
		}
		args[strconv.Itoa(i)] = id
	}

	binding, ok := env.Lookup(app.Function)
	if ok && binding.IsFunction {
		return r.inlineCall(wp, binding, app, args)
	}

	// Not a user-defined function: emit an Operation node. The operator
	// symbol is resolved against the primitive registry at schedule time,
	// not here (spec.md §4.5).
	id, err := identity.OperationID(app.Function, args)
	if err != nil {
		return "", fmt.Errorf("reducer: operation %q: %w", app.Function, err)
	}
	wp.AddNode(&plan.Node{ID: id, Kind: plan.KindOperation, Operator: app.Function, Arguments: args})
	return id, nil
}

// inlineCall performs call-by-value on node ids: the captured environment is
// extended with each parameter bound to its argument's node id, and the
// body is recursively reduced under that environment. This is how
// user-defined functions inline into the DAG rather than appearing as their
// own call node (spec.md §4.3).
func (r *Reducer) inlineCall(wp *plan.WorkPlan, binding plan.Binding, app ast.Application, args map[string]identity.NodeID) (identity.NodeID, error) {
	if len(app.Args) != len(binding.Parameters) {
		return "", &ArgumentError{
			Symbol: app.Function,
			Reason: fmt.Sprintf("expected %d argument(s), got %d", len(binding.Parameters), len(app.Args)),
		}
	}
	callEnv := binding.Captured
	for i, p := range binding.Parameters {
		callEnv = callEnv.Extend(p, plan.ConstantBinding(args[strconv.Itoa(i)]))
	}
	return r.ReduceExpr(callEnv, wp, binding.Body)
}

// reduceForLoop builds the reserved "for" Operation node without
// pre-expanding iterations; expansion is deferred to internal/expand during
// scheduling (spec.md §4.3, §4.6).
func (r *Reducer) reduceForLoop(env *plan.Environment, wp *plan.WorkPlan, f ast.ForLoop) (identity.NodeID, error) {
	source, err := r.ReduceExpr(env, wp, f.Source)
	if err != nil {
		return "", fmt.Errorf("reducer: for %s source: %w", f.Var, err)
	}
	closureID, err := r.closureNode(wp, []string{f.Var}, f.Body, env)
	if err != nil {
		return "", fmt.Errorf("reducer: for %s closure: %w", f.Var, err)
	}

	args := map[string]identity.NodeID{"source": source, "closure": closureID}
	id, err := identity.OperationID(ForOperator, args)
	if err != nil {
		return "", fmt.Errorf("reducer: for %s: %w", f.Var, err)
	}
	wp.AddNode(&plan.Node{ID: id, Kind: plan.KindOperation, Operator: ForOperator, Arguments: args})
	return id, nil
}

// ForOperator is the reserved operator symbol for dynamically expanded
// map/for operations (spec.md §4.3, §4.6).
const ForOperator = "for"
