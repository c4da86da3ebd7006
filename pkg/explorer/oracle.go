package explorer

import "fmt"

// Pos is a raw grid position supplied by the world collaborator.
type Pos struct {
	X, Y, Z int
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Oracle answers primitive questions about the raw track grid.
type Oracle interface {
	Traversable(p Pos) bool
	Neighbors(p Pos) []Pos
	// StepCost is the positive cost of moving between adjacent a and b.
	StepCost(a, b Pos) int
}

// JunctionOracle lets an oracle override the default branching test
// (three or more traversable neighbours) when raw adjacency over-counts.
type JunctionOracle interface {
	IsJunction(p Pos, neighbors []Pos) bool
}

// Grid is a simple in-memory Oracle: a set of traversable positions joined
// along the three axes with unit step cost.
type Grid struct {
	cells map[Pos]struct{}
}

// NewGrid creates a grid containing positions.
func NewGrid(positions ...Pos) *Grid {
	g := &Grid{cells: make(map[Pos]struct{}, len(positions))}
	for _, p := range positions {
		g.cells[p] = struct{}{}
	}
	return g
}

// Add marks p traversable.
func (g *Grid) Add(p Pos) { g.cells[p] = struct{}{} }

// AddLine marks every position on the axis-aligned segment a..b traversable.
func (g *Grid) AddLine(a, b Pos) error {
	dx, dy, dz := sign(b.X-a.X), sign(b.Y-a.Y), sign(b.Z-a.Z)
	if abs(dx)+abs(dy)+abs(dz) > 1 {
		return fmt.Errorf("line %s-%s is not axis aligned", a, b)
	}
	p := a
	for {
		g.cells[p] = struct{}{}
		if p == b {
			return nil
		}
		p = Pos{p.X + dx, p.Y + dy, p.Z + dz}
	}
}

// Len returns the number of traversable positions.
func (g *Grid) Len() int { return len(g.cells) }

// Traversable implements Oracle.
func (g *Grid) Traversable(p Pos) bool {
	_, ok := g.cells[p]
	return ok
}

var axes = [...]Pos{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}}

// Neighbors implements Oracle.
func (g *Grid) Neighbors(p Pos) []Pos {
	out := make([]Pos, 0, len(axes))
	for _, d := range axes {
		n := Pos{p.X + d.X, p.Y + d.Y, p.Z + d.Z}
		if g.Traversable(n) {
			out = append(out, n)
		}
	}
	return out
}

// StepCost implements Oracle.
func (g *Grid) StepCost(a, b Pos) int { return 1 }

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
