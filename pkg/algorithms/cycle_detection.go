package algorithms

import (
	"slices"
)

// WaitGraph maps each waiter to the holders it is blocked on.
type WaitGraph map[string][]string

// Cycle is a closed wait chain, rotated so the smallest id comes first.
// The closing edge back to Cycle[0] is implied.
type Cycle []string

// Node colours for DFS
const (
	white = 0 // unvisited
	gray  = 1 // in current path
	black = 2 // done
)

// DetectCycles finds the elementary cycles reachable by DFS from every
// vertex in sorted order. Each distinct cycle is reported once. The result
// is deterministic for a given graph.
func DetectCycles(g WaitGraph) []Cycle {
	color := make(map[string]int)
	parent := make(map[string]string)
	seen := make(map[string]bool)
	var cycles []Cycle

	var dfs func(v string)
	dfs = func(v string) {
		color[v] = gray
		for _, w := range sortedUnique(g[v]) {
			switch color[w] {
			case white:
				parent[w] = v
				dfs(w)
			case gray:
				// back edge closes a cycle
				c := extractCycle(parent, v, w)
				key := cycleKey(c)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
			}
		}
		color[v] = black
	}

	for _, v := range vertices(g) {
		if color[v] == white {
			dfs(v)
		}
	}
	return cycles
}

// HasCycle reports whether g contains any cycle.
func HasCycle(g WaitGraph) bool {
	return len(DetectCycles(g)) > 0
}

// extractCycle walks parent pointers from v back to w.
func extractCycle(parent map[string]string, v, w string) Cycle {
	c := Cycle{v}
	for cur := v; cur != w; {
		cur = parent[cur]
		c = append(c, cur)
	}
	slices.Reverse(c)
	return normalize(c)
}

func normalize(c Cycle) Cycle {
	if len(c) == 0 {
		return c
	}
	minIdx := 0
	for i, v := range c {
		if v < c[minIdx] {
			minIdx = i
		}
	}
	out := make(Cycle, 0, len(c))
	out = append(out, c[minIdx:]...)
	return append(out, c[:minIdx]...)
}

func cycleKey(c Cycle) string {
	key := ""
	for _, v := range c {
		key += v + "\x00"
	}
	return key
}

func vertices(g WaitGraph) []string {
	set := make(map[string]struct{}, len(g))
	for v, ws := range g {
		set[v] = struct{}{}
		for _, w := range ws {
			set[w] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// CycleStats summarises a set of detected cycles.
type CycleStats struct {
	TotalCycles   int
	ShortestCycle int
	LongestCycle  int
	AverageLength float64
	SelfLoops     int
}

// AnalyzeCycles computes summary statistics for cycles.
func AnalyzeCycles(cycles []Cycle) CycleStats {
	stats := CycleStats{TotalCycles: len(cycles)}
	if len(cycles) == 0 {
		return stats
	}
	stats.ShortestCycle = len(cycles[0])
	total := 0
	for _, c := range cycles {
		n := len(c)
		total += n
		if n < stats.ShortestCycle {
			stats.ShortestCycle = n
		}
		if n > stats.LongestCycle {
			stats.LongestCycle = n
		}
		if n == 1 {
			stats.SelfLoops++
		}
	}
	stats.AverageLength = float64(total) / float64(len(cycles))
	return stats
}
