// Package buffer implements the advisory chain-decomposition buffer planner
// (spec component C9, spec.md §4.8). Its output never constrains scheduling
// correctness: the scheduler is free to ignore it entirely.
package buffer

import (
	"fmt"
	"sort"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/identity"
	"github.com/voxlogica/voxengine/internal/plan"
)

// BufferID names a reusable storage slot.
type BufferID int

// TypeOf assigns a type tag to a node, used by the compatibility relation.
type TypeOf func(id identity.NodeID, node *plan.Node) any

// Compatible reports whether two type tags may share a buffer.
type Compatible func(a, b any) bool

// Assignment is the buffer planner's output: a buffer id per node.
type Assignment struct {
	Buffers map[identity.NodeID]BufferID
	Count   int
}

// Plan computes a buffer assignment for wp's finalized node set using the
// chain-decomposition heuristic of spec.md §4.8. wp must have no pending
// lazy compilations (this engine's reducer never creates any; a nil-safe
// reduce func is passed to WorkPlan.Nodes to surface a clear error if that
// assumption is ever violated).
func Plan(wp *plan.WorkPlan, typeOf TypeOf, compatible Compatible) (*Assignment, error) {
	nodes, err := wp.Nodes(failOnLazyExpansion)
	if err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}

	goalTargets := make(map[identity.NodeID]bool)
	for _, g := range wp.Goals() {
		goalTargets[g.NodeID] = true
	}

	children := make(map[identity.NodeID][]identity.NodeID)
	indegree := make(map[identity.NodeID]int)
	for id := range nodes {
		indegree[id] = 0
	}
	for id, n := range nodes {
		for _, dep := range sortedArgValues(n) {
			if _, ok := nodes[dep]; !ok {
				continue
			}
			children[dep] = append(children[dep], id)
			indegree[id]++
		}
	}

	order, err := topoOrder(nodes, indegree, children)
	if err != nil {
		return nil, err
	}

	cons := make(map[identity.NodeID]int, len(nodes))
	for id := range nodes {
		cons[id] = len(children[id])
		if goalTargets[id] {
			cons[id]++
		}
	}

	assignment := &Assignment{Buffers: make(map[identity.NodeID]BufferID, len(nodes))}
	parentsOf := make(map[identity.NodeID][]identity.NodeID, len(nodes))
	for parent, kids := range children {
		for _, kid := range kids {
			parentsOf[kid] = append(parentsOf[kid], parent)
		}
	}

	for _, v := range order {
		node := nodes[v]
		vType := typeOf(v, node)

		var reused *BufferID
		for _, p := range sortedIDs(parentsOf[v]) {
			if cons[p] == 1 && !goalTargets[p] && compatible(typeOf(p, nodes[p]), vType) {
				b := assignment.Buffers[p]
				reused = &b
				break
			}
		}
		if reused != nil {
			assignment.Buffers[v] = *reused
		} else {
			assignment.Buffers[v] = BufferID(assignment.Count)
			assignment.Count++
		}

		for _, p := range parentsOf[v] {
			cons[p]--
		}
	}

	return assignment, nil
}

func failOnLazyExpansion(env *plan.Environment, wp *plan.WorkPlan, expr ast.Expr) (identity.NodeID, error) {
	return "", fmt.Errorf("buffer: unexpected pending lazy compilation; buffer planning requires a fully-materialized plan")
}

func sortedArgValues(n *plan.Node) []identity.NodeID {
	keys := n.SortedArgumentKeys()
	out := make([]identity.NodeID, 0, len(keys))
	for _, k := range keys {
		out = append(out, n.Arguments[k])
	}
	return out
}

func sortedIDs(ids []identity.NodeID) []identity.NodeID {
	out := make([]identity.NodeID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// topoOrder computes a deterministic (Kahn's algorithm, sorted frontier)
// topological order over nodes' dependency edges.
func topoOrder(nodes map[identity.NodeID]*plan.Node, indegree map[identity.NodeID]int, children map[identity.NodeID][]identity.NodeID) ([]identity.NodeID, error) {
	remaining := make(map[identity.NodeID]int, len(indegree))
	for id, d := range indegree {
		remaining[id] = d
	}

	var frontier []identity.NodeID
	for id, d := range remaining {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}

	order := make([]identity.NodeID, 0, len(nodes))
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })
		v := frontier[0]
		frontier = frontier[1:]
		order = append(order, v)

		for _, c := range children[v] {
			remaining[c]--
			if remaining[c] == 0 {
				frontier = append(frontier, c)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("buffer: dependency cycle detected (ordered %d of %d nodes)", len(order), len(nodes))
	}
	return order, nil
}
