package explorer

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// BuildGraph turns explored lengths into a graph snapshot. nodes supplies
// the node records; ids that appear only in lengths are added as waypoints.
// opts apply to every edge.
func BuildGraph(nodes []railgraph.Node, lengths map[railgraph.EdgeID]int, opts ...railgraph.EdgeOption) (*railgraph.Graph, error) {
	b := railgraph.NewBuilder()
	for _, n := range nodes {
		if err := b.AddNode(n); err != nil {
			return nil, err
		}
	}

	ids := make([]railgraph.EdgeID, 0, len(lengths))
	for id := range lengths {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, railgraph.EdgeID.Compare)

	for _, id := range ids {
		for _, end := range []railgraph.NodeID{id.A, id.B} {
			if _, ok := b.Node(end); !ok {
				if err := b.AddNode(railgraph.Node{ID: end, Type: railgraph.NodeTypeWaypoint}); err != nil {
					return nil, err
				}
			}
		}
		if err := b.Connect(id.A, id.B, lengths[id], opts...); err != nil {
			return nil, fmt.Errorf("connect %s: %w", id, err)
		}
	}
	return b.Build(), nil
}
