package registry

import "slices"

// graph maps task → hard and soft dependencies. Both kinds count for cycle
// detection since a soft edge still orders execution.
type graph map[string][]string

// findCycles returns one readable path per dependency cycle, e.g. [a b a].
// Output is sorted so validation errors are stable across runs.
func findCycles(g graph) [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || (len(scc) == 1 && slices.Contains(g[scc[0]], scc[0])) {
			cycles = append(cycles, cyclePath(scc, g))
		}
	}
	slices.SortFunc(cycles, func(a, b []string) int { return slices.Compare(a, b) })
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order for deterministic output.
func tarjanSCC(g graph) [][]string {
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

		for _, w := range g[v] {
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

	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// cyclePath finds a path inside the SCC from its smallest member back to
// itself, exploring neighbours in sorted order.
func cyclePath(scc []string, g graph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := slices.Min(scc)
	if len(scc) == 1 {
		return []string{start, start}
	}

	visited := map[string]bool{start: true}
	var walk func(cur string, path []string) []string
	walk = func(cur string, path []string) []string {
		neighbours := slices.Clone(g[cur])
		slices.Sort(neighbours)
		for _, w := range neighbours {
			if w == start {
				return append(path, start)
			}
			if !members[w] || visited[w] {
				continue
			}
			visited[w] = true
			if found := walk(w, append(path, w)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(start, []string{start})
}
