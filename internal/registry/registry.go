// Package registry resolves namespace-qualified operator symbols to
// invokable primitives (spec component C5): static Go-native namespaces and
// a dynamic, introspected Docker-backed namespace (SPEC_FULL.md §D.2).
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// OperatorInfo describes one operator for the namespace-listing query
// (spec.md §6.3, SPEC_FULL.md §D.1).
type OperatorInfo struct {
	Name        string
	Description string
}

// Namespace is a named collection of primitives, registered either
// statically (spec.md §4.5, one Go function per operator) or dynamically
// (introspected from an external source, e.g. a Docker image).
type Namespace interface {
	Name() string
	Operators() []OperatorInfo
	Invoke(ctx context.Context, operator string, args map[string]any) (any, error)
}

// ResolutionError indicates an operator symbol did not resolve, or resolved
// ambiguously across imported namespaces (spec.md §7, scenario 6).
type ResolutionError struct {
	Symbol string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("registry: resolution error for %q: %s", e.Symbol, e.Reason)
}

const defaultNamespaceName = "default"

// Registry holds the set of known namespaces and implements unqualified and
// qualified operator resolution (spec.md §4.5).
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]Namespace
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{namespaces: make(map[string]Namespace)}
}

// Register adds ns, replacing any namespace previously registered under the
// same name.
func (r *Registry) Register(ns Namespace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespaces[ns.Name()] = ns
}

// HasNamespace reports whether name is a known namespace (consulted by the
// reducer only for import validation, spec.md §2).
func (r *Registry) HasNamespace(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[name]
	return ok
}

// Describe returns every registered namespace's operator list, for the
// namespace-listing query (spec.md §6.3).
func (r *Registry) Describe() map[string][]OperatorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]OperatorInfo, len(r.namespaces))
	for name, ns := range r.namespaces {
		ops := ns.Operators()
		sorted := make([]OperatorInfo, len(ops))
		copy(sorted, ops)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		out[name] = sorted
	}
	return out
}

// Resolve finds the namespace and bare operator name for symbol under the
// given import order. Qualified symbols ("ns.op") resolve directly against
// ns. Unqualified symbols resolve in order: the `default` namespace, then
// each imported namespace in import order; a match in more than one
// imported namespace is ambiguous (spec.md §4.5, scenario 6).
func (r *Registry) Resolve(symbol string, imports []string) (Namespace, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ns, op, qualified := splitQualified(symbol); qualified {
		namespace, ok := r.namespaces[ns]
		if !ok {
			return nil, "", &ResolutionError{Symbol: symbol, Reason: fmt.Sprintf("unknown namespace %q", ns)}
		}
		if !hasOperator(namespace, op) {
			return nil, "", &ResolutionError{Symbol: symbol, Reason: fmt.Sprintf("namespace %q has no operator %q", ns, op)}
		}
		return namespace, op, nil
	}

	if def, ok := r.namespaces[defaultNamespaceName]; ok && hasOperator(def, symbol) {
		return def, symbol, nil
	}

	var matches []string
	for _, name := range imports {
		ns, ok := r.namespaces[name]
		if ok && hasOperator(ns, symbol) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return nil, "", &ResolutionError{Symbol: symbol, Reason: "does not resolve in default namespace or any import"}
	case 1:
		return r.namespaces[matches[0]], symbol, nil
	default:
		sort.Strings(matches)
		return nil, "", &ResolutionError{
			Symbol: symbol,
			Reason: fmt.Sprintf("ambiguous in %v", matches),
		}
	}
}

func splitQualified(symbol string) (ns, op string, qualified bool) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '.' {
			return symbol[:i], symbol[i+1:], true
		}
	}
	return "", symbol, false
}

func hasOperator(ns Namespace, op string) bool {
	for _, info := range ns.Operators() {
		if info.Name == op {
			return true
		}
	}
	return false
}
