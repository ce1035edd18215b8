// Package goals executes print/save terminal goals against a scheduler's
// per-goal results, with a pluggable serializer registry for save targets
// (spec component C8, spec.md §4.7).
package goals

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/voxlogica/voxengine/internal/scheduler"
)

// Serializer encodes a value for a save goal.
type Serializer func(v any) ([]byte, error)

// SerializerRegistry maps file suffixes to Serializers, selected by
// longest-suffix, case-insensitive match (spec.md §6.4).
type SerializerRegistry struct {
	bySuffix map[string]Serializer
}

// NewSerializerRegistry returns an empty registry.
func NewSerializerRegistry() *SerializerRegistry {
	return &SerializerRegistry{bySuffix: make(map[string]Serializer)}
}

// Register associates suffix (e.g. ".nii.gz") with s. Matching is
// case-insensitive.
func (sr *SerializerRegistry) Register(suffix string, s Serializer) {
	sr.bySuffix[strings.ToLower(suffix)] = s
}

// Lookup returns the serializer whose registered suffix is the longest
// match against filename, or ok=false if none match.
func (sr *SerializerRegistry) Lookup(filename string) (Serializer, bool) {
	lower := strings.ToLower(filename)
	var best string
	var bestSerializer Serializer
	found := false
	for suffix, s := range sr.bySuffix {
		if strings.HasSuffix(lower, suffix) && len(suffix) > len(best) {
			best, bestSerializer, found = suffix, s, true
		}
	}
	return bestSerializer, found
}

// defaultTextualDump is the fallback serializer when no suffix matches
// (spec.md §4.7 "fall back to a default textual dump").
func defaultTextualDump(v any) ([]byte, error) {
	return []byte(fmt.Sprintf("%v\n", v)), nil
}

// SaveFailure indicates a save goal's serializer failed; reported but does
// not corrupt the store (spec.md §4.7).
type SaveFailure struct {
	Label string
	Err   error
}

func (e *SaveFailure) Error() string {
	return fmt.Sprintf("goals: save %q failed: %v", e.Label, e.Err)
}

func (e *SaveFailure) Unwrap() error { return e.Err }

// Sink receives print goal output (spec.md §6.4: one line per goal,
// "<label>=<rendered value>").
type Sink interface {
	io.Writer
}

// Runner executes a RunResult's goals' side effects: print lines to a sink,
// save files through the serializer registry.
type Runner struct {
	Sink        Sink
	Serializers *SerializerRegistry
	WriteFile   func(path string, data []byte) error
}

// NewRunner returns a Runner writing print output to sink.
func NewRunner(sink Sink, serializers *SerializerRegistry) *Runner {
	if serializers == nil {
		serializers = NewSerializerRegistry()
	}
	return &Runner{
		Sink: sink, Serializers: serializers,
		WriteFile: func(path string, data []byte) error { return os.WriteFile(path, data, 0o644) },
	}
}

// Run executes every non-failed, non-cancelled goal's side effect. Goals
// whose target computation did not complete are skipped (their status
// already reflects failure/cancellation in result.Goals); goal side-effect
// failures are recorded back into the goal's result rather than panicking.
func (r *Runner) Run(result *scheduler.RunResult) {
	for i := range result.Goals {
		g := &result.Goals[i]
		if g.Status != scheduler.GoalCompleted {
			continue
		}
		var err error
		switch g.Kind {
		case "print":
			err = r.print(g.Label, g.Value)
		case "save":
			err = r.save(g.Label, g.Value)
		default:
			err = fmt.Errorf("goals: unknown goal kind %q", g.Kind)
		}
		if err != nil {
			g.Status = scheduler.GoalFailed
			g.Err = err
		}
	}
}

func (r *Runner) print(label string, value any) error {
	_, err := fmt.Fprintf(r.Sink, "%s=%s\n", label, renderValue(value))
	return err
}

func (r *Runner) save(label string, value any) error {
	serializer, ok := r.Serializers.Lookup(label)
	if !ok {
		serializer = defaultTextualDump
	}
	data, err := serializer(value)
	if err != nil {
		return &SaveFailure{Label: label, Err: err}
	}
	if err := r.WriteFile(label, data); err != nil {
		return &SaveFailure{Label: label, Err: err}
	}
	return nil
}

// renderValue formats a value for print output, falling back to a short
// descriptive form for non-serializable values (spec.md §4.7).
func renderValue(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = renderValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return t
	case float64:
		return trimFloat(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}

// SortedLabels is a small helper for tests and diagnostics that want a
// stable ordering of a RunResult's goal labels.
func SortedLabels(result *scheduler.RunResult) []string {
	labels := make([]string, len(result.Goals))
	for i, g := range result.Goals {
		labels[i] = g.Label
	}
	sort.Strings(labels)
	return labels
}
