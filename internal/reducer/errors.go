package reducer

import "fmt"

// ResolutionError indicates a variable symbol is unbound or an imported
// namespace is unknown to the registry (spec.md §7). Operator symbols are
// not resolved by the reducer; the registry resolves them at schedule time.
type ResolutionError struct {
	Symbol string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("reducer: resolution error for %q: %s", e.Symbol, e.Reason)
}

// ArgumentError indicates a call site supplied arguments violating a
// function's or primitive's documented arity.
type ArgumentError struct {
	Symbol string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("reducer: argument error for %q: %s", e.Symbol, e.Reason)
}
