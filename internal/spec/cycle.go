package spec

import "fmt"

// analyzeDerivedCycles finds dependency cycles among derived columns.
//
// refs maps each derived-column name to the identifiers its expression
// references; only edges to other derived columns matter for cycle analysis
// (condition columns and aggregates cannot depend back on derived columns).
//
// The algorithm:
//  1. Build derived -> derived dependency graph from expression references
//  2. Find strongly connected components with Tarjan's algorithm
//  3. Each SCC with size > 1, or a single node with a self-loop, is a cycle
//
// A DAG returns an empty list. A cycle is always fatal: there is no
// evaluation order that satisfies it.
func analyzeDerivedCycles(derived []DerivedColumn, refs map[string][]string) [][]string {
	if len(derived) == 0 {
		return nil
	}

	derivedSet := make(map[string]bool, len(derived))
	for _, d := range derived {
		derivedSet[d.Name] = true
	}

	graph := make(map[string][]string, len(derived))
	for _, d := range derived {
		graph[d.Name] = []string{}
		for _, ref := range refs[d.Name] {
			if derivedSet[ref] {
				graph[d.Name] = append(graph[d.Name], ref)
			}
		}
	}

	var cycles [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 {
			cycles = append(cycles, append(scc, scc[0]))
		} else if len(scc) == 1 && hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, []string{scc[0], scc[0]})
		}
	}
	return cycles
}

// DerivedOrder returns the derived columns in a dependency-respecting
// evaluation order. Fails if the columns form a cycle; Validate reports the
// same condition earlier with the full cycle path.
func (s *Specification) DerivedOrder(refs map[string][]string) ([]DerivedColumn, error) {
	byName := make(map[string]DerivedColumn, len(s.Derived))
	for _, d := range s.Derived {
		byName[d.Name] = d
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(s.Derived))
	var order []DerivedColumn

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("derived column dependency cycle involving %q", name)
		}
		state[name] = visiting
		for _, ref := range refs[name] {
			if _, isDerived := byName[ref]; isDerived {
				if err := visit(ref); err != nil {
					return err
				}
			}
		}
		state[name] = done
		order = append(order, byName[name])
		return nil
	}

	for _, d := range s.Derived {
		if err := visit(d.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func hasSelfLoop(node string, graph map[string][]string) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are not cycles.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for node := range graph {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}
