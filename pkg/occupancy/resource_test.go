package occupancy

import (
	"errors"
	"testing"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

func TestNewResource(t *testing.T) {
	tests := []struct {
		name string
		kind ResourceKind
		key  string
		ok   bool
	}{
		{"edge", KindEdge, "A|B", true},
		{"node", KindNode, "A", true},
		{"conflict", KindConflict, "switch:S", true},
		{"blank key", KindNode, "", false},
		{"padded key", KindNode, " A", false},
		{"zero kind", 0, "A", false},
		{"unknown kind", ResourceKind(9), "A", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResource(tt.kind, tt.key)
			if tt.ok && err != nil {
				t.Errorf("Expected success, got %v", err)
			}
			if !tt.ok && !errors.Is(err, validation.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestResourceEquality(t *testing.T) {
	if EdgeResource(railgraph.EdgeKey("A", "B")) != EdgeResource(railgraph.EdgeKey("B", "A")) {
		t.Error("Edge resources must not depend on endpoint order")
	}
	if NodeResource("A") == ConflictResource("A") {
		t.Error("Resources of different kinds must differ")
	}
}

func TestParseResource(t *testing.T) {
	for _, r := range []Resource{
		EdgeResource(railgraph.EdgeKey("X", "Y")),
		NodeResource("X"),
		SwitchResource("S1"),
		ConflictResource("corridor:A|B"),
	} {
		got, err := ParseResource(r.String())
		if err != nil {
			t.Fatalf("ParseResource(%q): %v", r, err)
		}
		if got != r {
			t.Errorf("ParseResource(%q) = %v", r, got)
		}
	}

	for _, bad := range []string{"", "edge", "track:A", "node:"} {
		if _, err := ParseResource(bad); err == nil {
			t.Errorf("ParseResource(%q) should fail", bad)
		}
	}
}

func TestNewRequest(t *testing.T) {
	r := NodeResource("A")
	req, err := NewRequest("T1", "R1", 0, r, r, NodeResource("B"))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if len(req.Resources) != 2 {
		t.Errorf("Expected duplicates dropped, got %v", req.Resources)
	}

	if _, err := NewRequest("T1", "", 0); err != nil {
		t.Errorf("Empty resource list should be valid, got %v", err)
	}

	tests := []struct {
		name    string
		train   string
		route   string
		headway int
		res     []Resource
	}{
		{"blank train", "", "", 0, nil},
		{"padded route", "T1", " R", 0, nil},
		{"negative headway", "T1", "", -1, nil},
		{"malformed resource", "T1", "", 0, []Resource{{Kind: KindNode}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(tt.train, tt.route, time1(tt.headway), tt.res...)
			if !errors.Is(err, validation.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}
