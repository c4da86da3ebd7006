package railgraph

// A corridor is a maximal chain of bidirectional (single-track) edges whose
// interior nodes are plain, non-switcher nodes touching exactly two such edges.
// Every edge in a corridor of two or more edges shares one conflict key, so the
// whole run is held by one direction of traffic at a time. Single-edge runs get
// no key: the edge resource already covers them.

const corridorPrefix = "corridor:"

// Direction is a sense of travel along a corridor. Up runs from the A end
// of the corridor's first edge (in canonical edge order) towards its B end;
// Down is the reverse.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Valid reports whether d is Up or Down.
func (d Direction) Valid() bool { return d == Up || d == Down }

// corridorEdge places an edge in its corridor. up is the endpoint a train
// leaves when travelling Up.
type corridorEdge struct {
	key string
	up  NodeID
}

func buildCorridors(g *Graph) map[EdgeID]corridorEdge {
	out := make(map[EdgeID]corridorEdge)
	visited := make(map[EdgeID]bool)

	interior := func(n NodeID) bool {
		node := g.nodes[n]
		if node.IsSwitcher() {
			return false
		}
		return len(singleTrack(g, n)) == 2
	}

	for _, start := range g.edgeOrder {
		if visited[start] || !g.edges[start].Bidirectional {
			continue
		}

		// each edge is stored with the endpoint an Up train leaves
		run := map[EdgeID]NodeID{start: start.A}
		visited[start] = true
		// grow the run outwards from both endpoints; beyond B travel Up
		// leaves the nearer node, beyond A it leaves the farther one
		for _, end := range []NodeID{start.B, start.A} {
			cur, prev := end, start
			for interior(cur) {
				next, ok := otherSingleTrack(g, cur, prev)
				if !ok || visited[next] {
					break
				}
				visited[next] = true
				far := next.Other(cur)
				if end == start.B {
					run[next] = cur
				} else {
					run[next] = far
				}
				prev, cur = next, far
			}
		}

		if len(run) < 2 {
			continue
		}
		key := corridorPrefix + start.String()
		for id, up := range run {
			out[id] = corridorEdge{key: key, up: up}
		}
	}
	return out
}

func singleTrack(g *Graph, n NodeID) []EdgeID {
	var out []EdgeID
	for _, id := range g.adjacency[n] {
		if g.edges[id].Bidirectional {
			out = append(out, id)
		}
	}
	return out
}

func otherSingleTrack(g *Graph, n NodeID, from EdgeID) (EdgeID, bool) {
	for _, id := range singleTrack(g, n) {
		if id != from {
			return id, true
		}
	}
	return EdgeID{}, false
}
