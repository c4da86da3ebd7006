package algorithms

import "slices"

// tarjanState holds per-vertex state during Tarjan's DFS.
type tarjanState struct {
	index   int
	lowlink int
	onStack bool
}

// StronglyConnected returns the strongly connected components of g using
// Tarjan's algorithm in O(V+E). Members of each component are sorted and
// components are ordered by their first member.
func StronglyConnected(g WaitGraph) [][]string {
	state := make(map[string]*tarjanState)
	var stack []string
	counter := 0
	var components [][]string

	var strongconnect func(u string)
	strongconnect = func(u string) {
		state[u] = &tarjanState{index: counter, lowlink: counter, onStack: true}
		counter++
		stack = append(stack, u)

		for _, v := range sortedUnique(g[u]) {
			if _, visited := state[v]; !visited {
				strongconnect(v)
				state[u].lowlink = min(state[u].lowlink, state[v].lowlink)
			} else if state[v].onStack {
				state[u].lowlink = min(state[u].lowlink, state[v].index)
			}
		}

		// root of a component: pop it off the stack
		if state[u].lowlink == state[u].index {
			var members []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				state[w].onStack = false
				members = append(members, w)
				if w == u {
					break
				}
			}
			slices.Sort(members)
			components = append(components, members)
		}
	}

	for _, v := range vertices(g) {
		if _, visited := state[v]; !visited {
			strongconnect(v)
		}
	}

	slices.SortFunc(components, func(a, b []string) int {
		if a[0] < b[0] {
			return -1
		}
		if a[0] > b[0] {
			return 1
		}
		return 0
	})
	return components
}

// DeadlockGroups returns the components that are genuinely stuck: those
// with more than one member, or a single member waiting on itself.
func DeadlockGroups(g WaitGraph) [][]string {
	var groups [][]string
	for _, c := range StronglyConnected(g) {
		if len(c) > 1 || slices.Contains(g[c[0]], c[0]) {
			groups = append(groups, c)
		}
	}
	return groups
}
