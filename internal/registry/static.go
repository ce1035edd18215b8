package registry

import (
	"context"
	"fmt"
	"sort"
)

// Primitive is a pure function of its keyword arguments (spec.md §4.5).
type Primitive func(ctx context.Context, args map[string]any) (any, error)

// ArgumentError indicates a primitive received arguments violating its
// documented constraints (spec.md §7).
type ArgumentError struct {
	Operator string
	Reason   string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("registry: argument error in %q: %s", e.Operator, e.Reason)
}

// StaticNamespace is a namespace whose operator table is fixed at
// construction time: one Go function per operator, as the teacher's static
// directory-of-files namespaces are described in spec.md §4.5.
type StaticNamespace struct {
	name string
	ops  map[string]Primitive
	docs map[string]string
}

// NewStaticNamespace builds a StaticNamespace from a name and operator
// table. docs may be nil or partial; missing descriptions are empty.
func NewStaticNamespace(name string, ops map[string]Primitive, docs map[string]string) *StaticNamespace {
	return &StaticNamespace{name: name, ops: ops, docs: docs}
}

func (s *StaticNamespace) Name() string { return s.name }

func (s *StaticNamespace) Operators() []OperatorInfo {
	out := make([]OperatorInfo, 0, len(s.ops))
	for name := range s.ops {
		out = append(out, OperatorInfo{Name: name, Description: s.docs[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *StaticNamespace) Invoke(ctx context.Context, operator string, args map[string]any) (any, error) {
	fn, ok := s.ops[operator]
	if !ok {
		return nil, &ResolutionError{Symbol: s.name + "." + operator, Reason: "not registered"}
	}
	return fn(ctx, args)
}

func argFloat(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("argument %q must be a number, got %T", key, v)
	}
	return f, nil
}

// NewDefaultNamespace builds the `default` namespace (SPEC_FULL.md §D.4):
// arithmetic, comparison, string formatting, and `range`, sufficient to run
// the end-to-end scenarios of spec.md §8 without an external catalog.
func NewDefaultNamespace() *StaticNamespace {
	ops := map[string]Primitive{
		"add": func(ctx context.Context, args map[string]any) (any, error) {
			a, err := argFloat(args, "0")
			if err != nil {
				return nil, &ArgumentError{Operator: "add", Reason: err.Error()}
			}
			b, err := argFloat(args, "1")
			if err != nil {
				return nil, &ArgumentError{Operator: "add", Reason: err.Error()}
			}
			return a + b, nil
		},
		"sub": func(ctx context.Context, args map[string]any) (any, error) {
			a, err := argFloat(args, "0")
			if err != nil {
				return nil, &ArgumentError{Operator: "sub", Reason: err.Error()}
			}
			b, err := argFloat(args, "1")
			if err != nil {
				return nil, &ArgumentError{Operator: "sub", Reason: err.Error()}
			}
			return a - b, nil
		},
		"mul": func(ctx context.Context, args map[string]any) (any, error) {
			a, err := argFloat(args, "0")
			if err != nil {
				return nil, &ArgumentError{Operator: "mul", Reason: err.Error()}
			}
			b, err := argFloat(args, "1")
			if err != nil {
				return nil, &ArgumentError{Operator: "mul", Reason: err.Error()}
			}
			return a * b, nil
		},
		"div": func(ctx context.Context, args map[string]any) (any, error) {
			a, err := argFloat(args, "0")
			if err != nil {
				return nil, &ArgumentError{Operator: "div", Reason: err.Error()}
			}
			b, err := argFloat(args, "1")
			if err != nil {
				return nil, &ArgumentError{Operator: "div", Reason: err.Error()}
			}
			if b == 0 {
				return nil, &ArgumentError{Operator: "div", Reason: "division by zero"}
			}
			return a / b, nil
		},
		"lt": func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := argFloat(args, "0")
			b, _ := argFloat(args, "1")
			return a < b, nil
		},
		"lte": func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := argFloat(args, "0")
			b, _ := argFloat(args, "1")
			return a <= b, nil
		},
		"gt": func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := argFloat(args, "0")
			b, _ := argFloat(args, "1")
			return a > b, nil
		},
		"gte": func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := argFloat(args, "0")
			b, _ := argFloat(args, "1")
			return a >= b, nil
		},
		"eq": func(ctx context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("%v", args["0"]) == fmt.Sprintf("%v", args["1"]), nil
		},
		"concat": func(ctx context.Context, args map[string]any) (any, error) {
			out := ""
			for _, k := range sortedNumericKeys(args) {
				out += fmt.Sprintf("%v", args[k])
			}
			return out, nil
		},
		"format": func(ctx context.Context, args map[string]any) (any, error) {
			v, ok := args["0"]
			if !ok {
				return nil, &ArgumentError{Operator: "format", Reason: "missing argument \"0\""}
			}
			return fmt.Sprintf("%v", v), nil
		},
		"range": func(ctx context.Context, args map[string]any) (any, error) {
			from, err := argFloat(args, "0")
			if err != nil {
				return nil, &ArgumentError{Operator: "range", Reason: err.Error()}
			}
			to, err := argFloat(args, "1")
			if err != nil {
				return nil, &ArgumentError{Operator: "range", Reason: err.Error()}
			}
			if to < from {
				return nil, &ArgumentError{Operator: "range", Reason: "upper bound below lower bound"}
			}
			out := make([]any, 0, int(to-from))
			for v := from; v < to; v++ {
				out = append(out, v)
			}
			return out, nil
		},
	}

	docs := map[string]string{
		"add":    "a + b",
		"sub":    "a - b",
		"mul":    "a * b",
		"div":    "a / b",
		"lt":     "a < b",
		"lte":    "a <= b",
		"gt":     "a > b",
		"gte":    "a >= b",
		"eq":     "a == b (string comparison of rendered values)",
		"concat": "concatenate positional arguments as strings",
		"format": "render a value as its default string form",
		"range":  "[from, to) as a sequence (built eagerly)",
	}
	return NewStaticNamespace(defaultNamespaceName, ops, docs)
}

func sortedNumericKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
