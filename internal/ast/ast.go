// Package ast defines the minimal pre-parsed abstract syntax the reducer
// consumes. The concrete grammar and parser are out of scope for the core
// engine (spec.md §6.1); this package only fixes the shape the reducer
// depends on.
package ast

// Expr is a reduced expression node.
type Expr interface {
	// Canonical returns a deterministic, JSON-encodable representation used
	// for hashing closure bodies (see internal/identity.BodyHash).
	Canonical() any
}

// Literal is an immediate value: number, bool, or string.
type Literal struct {
	Value any
}

func (l Literal) Canonical() any {
	return map[string]any{"kind": "literal", "value": l.Value}
}

// Variable references a name bound in the current environment.
type Variable struct {
	Name string
}

func (v Variable) Canonical() any {
	return map[string]any{"kind": "variable", "name": v.Name}
}

// Application applies a function (builtin operator or user-defined
// function) to a positional argument list.
type Application struct {
	Function string
	Args     []Expr
}

func (a Application) Canonical() any {
	args := make([]any, len(a.Args))
	for i, arg := range a.Args {
		args[i] = arg.Canonical()
	}
	return map[string]any{"kind": "application", "function": a.Function, "args": args}
}

// ForLoop iterates Var over Source, evaluating Body once per element.
type ForLoop struct {
	Var    string
	Source Expr
	Body   Expr
}

func (f ForLoop) Canonical() any {
	return map[string]any{
		"kind":   "for",
		"var":    f.Var,
		"source": f.Source.Canonical(),
		"body":   f.Body.Canonical(),
	}
}

// Command is a top-level program statement.
type Command interface {
	isCommand()
}

// LetConst binds Name to the value produced by reducing Value.
type LetConst struct {
	Name  string
	Value Expr
}

func (LetConst) isCommand() {}

// LetFunc binds Name as a closure over Params and Body.
type LetFunc struct {
	Name   string
	Params []string
	Body   Expr
}

func (LetFunc) isCommand() {}

// Import adds Namespace to the program's imported namespaces.
type Import struct {
	Namespace string
}

func (Import) isCommand() {}

// GoalKind distinguishes the two terminal goal kinds.
type GoalKind string

const (
	GoalPrint GoalKind = "print"
	GoalSave  GoalKind = "save"
)

// GoalStmt is a print or save terminal command.
type GoalStmt struct {
	Kind  GoalKind
	Label string
	Value Expr
}

func (GoalStmt) isCommand() {}

// Program is a sequence of top-level commands.
type Program struct {
	Commands []Command
}
