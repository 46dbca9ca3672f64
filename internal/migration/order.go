package migration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systemshift/docmigrate/internal/core"
)

// Graph holds the dependencies between the operations of one plan. Deps[i]
// lists the indexes of operations that must settle before ops[i] runs.
type Graph struct {
	Ops  []core.Operation
	Deps [][]int
}

// BuildGraph derives dependency edges: an operation depends on every
// create/replace of a document it references, and operations on the same
// document id run in plan order.
func BuildGraph(ops []core.Operation) *Graph {
	writers := make(map[string][]int)
	for i, op := range ops {
		if op.Writes() {
			writers[op.ID] = append(writers[op.ID], i)
		}
	}

	g := &Graph{Ops: ops, Deps: make([][]int, len(ops))}
	lastOnID := make(map[string]int)
	for i, op := range ops {
		deps := make(map[int]bool)
		for _, target := range op.References() {
			if target == op.ID {
				continue
			}
			for _, w := range writers[target] {
				deps[w] = true
			}
		}
		if prev, ok := lastOnID[op.ID]; ok {
			deps[prev] = true
		}
		lastOnID[op.ID] = i

		for d := range deps {
			g.Deps[i] = append(g.Deps[i], d)
		}
		sort.Ints(g.Deps[i])
	}
	return g
}

// Phases layers the graph: phase 0 holds operations without dependencies and
// every later phase holds operations whose dependencies all sit in earlier
// phases. A cycle is a *core.ConfigurationError.
func (g *Graph) Phases() ([][]int, error) {
	n := len(g.Ops)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, deps := range g.Deps {
		indegree[i] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	var current []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			current = append(current, i)
		}
	}

	var phases [][]int
	placed := 0
	for len(current) > 0 {
		sort.Ints(current)
		phases = append(phases, current)
		placed += len(current)

		var next []int
		for _, i := range current {
			for _, dep := range dependents[i] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if placed < n {
		var stuck []string
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				stuck = append(stuck, g.Ops[i].Key())
			}
		}
		return nil, &core.ConfigurationError{
			Reason: fmt.Sprintf("reference cycle between operations: %s", strings.Join(stuck, ", ")),
		}
	}
	return phases, nil
}
