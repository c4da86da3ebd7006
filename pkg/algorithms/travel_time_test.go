package algorithms

import (
	"testing"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

func TestConstantSpeed_PathTime(t *testing.T) {
	g := setupTestGraph(t,
		testEdge{from: "A", to: "B", length: 10},
		testEdge{from: "B", to: "C", length: 10, opts: []railgraph.EdgeOption{railgraph.WithSpeedLimit(5)}},
	)
	model := ConstantSpeed{DefaultSpeed: 10}

	path, err := NewPathFinder(nil).ShortestPath(g, "A", "C")
	if err != nil || path == nil {
		t.Fatalf("ShortestPath: %v, %v", path, err)
	}

	got, ok := PathTime(g, model, path)
	if !ok {
		t.Fatal("Expected a known travel time")
	}
	if want := 3 * time.Second; got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestConstantSpeed_Unknown(t *testing.T) {
	g := setupTestGraph(t, testEdge{from: "A", to: "B", length: 10})
	path, _ := NewPathFinder(nil).ShortestPath(g, "A", "B")

	if _, ok := PathTime(g, ConstantSpeed{}, path); ok {
		t.Error("Expected unknown time with zero default speed")
	}

	blocked := railgraph.NewOverlay(g).WithBlocked(railgraph.EdgeKey("A", "B"))
	if _, ok := PathTime(blocked, ConstantSpeed{DefaultSpeed: 1}, path); ok {
		t.Error("Expected unknown time across a blocked edge")
	}
	if d, ok := PathTime(blocked, ConstantSpeed{DefaultSpeed: 1, AllowBlocked: true}, path); !ok || d != 10*time.Second {
		t.Errorf("Expected 10s when blocks are allowed, got %v, %v", d, ok)
	}
	if _, ok := PathTime(g, ConstantSpeed{DefaultSpeed: 1}, nil); ok {
		t.Error("Expected unknown time for nil path")
	}
}

func TestByTravelTime_PrefersFasterTrack(t *testing.T) {
	g := setupTestGraph(t,
		testEdge{from: "A", to: "B", length: 10, opts: []railgraph.EdgeOption{railgraph.WithSpeedLimit(1)}},
		testEdge{from: "A", to: "C", length: 10, opts: []railgraph.EdgeOption{railgraph.WithSpeedLimit(10)}},
		testEdge{from: "C", to: "B", length: 10, opts: []railgraph.EdgeOption{railgraph.WithSpeedLimit(10)}},
	)
	path, err := NewPathFinder(ByTravelTime(ConstantSpeed{DefaultSpeed: 1})).ShortestPath(g, "A", "B")
	if err != nil || path == nil {
		t.Fatalf("ShortestPath: %v, %v", path, err)
	}
	if path.Hops() != 2 || path.Cost != 2 {
		t.Errorf("Expected 2s two-hop route, got %d hops costing %v", path.Hops(), path.Cost)
	}
}
