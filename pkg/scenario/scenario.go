// Package scenario describes simulated runs in YAML and drives them
// through a dispatch core one tick at a time.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Scenario is a network, a timetable of departures and a list of
// disruptions.
type Scenario struct {
	Name string `yaml:"name" validate:"required"`
	// MaxTicks bounds the run; a scenario that has not finished by then
	// is reported as stalled.
	MaxTicks int         `yaml:"max_ticks" validate:"gte=1"`
	Graph    GraphSpec   `yaml:"graph"`
	Trains   []TrainSpec `yaml:"trains" validate:"min=1,dive"`
	Events   []EventSpec `yaml:"events,omitempty" validate:"dive"`
}

type GraphSpec struct {
	Nodes   []NodeSpec `yaml:"nodes" validate:"min=1,dive"`
	Edges   []EdgeSpec `yaml:"edges" validate:"dive"`
	Blocked []string   `yaml:"blocked,omitempty"`
}

type NodeSpec struct {
	ID   string             `yaml:"id" validate:"ident"`
	Type railgraph.NodeType `yaml:"type,omitempty"`
}

type EdgeSpec struct {
	From       string   `yaml:"from" validate:"ident"`
	To         string   `yaml:"to" validate:"ident"`
	Length     int      `yaml:"length" validate:"gte=1"`
	SpeedLimit *float64 `yaml:"speed_limit,omitempty" validate:"omitempty,gt=0"`
	OneWay     bool     `yaml:"one_way,omitempty"`
}

// TrainSpec departs a train on Route at tick Depart.
type TrainSpec struct {
	ID       string   `yaml:"id" validate:"ident"`
	Route    []string `yaml:"route" validate:"min=2,dive,ident"`
	Priority int      `yaml:"priority,omitempty"`
	// Speed in blocks per second feeds movement-authority advice.
	Speed  float64 `yaml:"speed,omitempty" validate:"gte=0"`
	Depart int     `yaml:"depart,omitempty" validate:"gte=0"`
}

// Event actions.
const (
	ActionBlock  = "block"
	ActionOpen   = "open"
	ActionLimit  = "limit"
	ActionRemove = "remove"
)

// EventSpec is a disruption applied at the start of tick At.
type EventSpec struct {
	At     int     `yaml:"at" validate:"gte=0"`
	Action string  `yaml:"action" validate:"oneof=block open limit remove"`
	Edge   string  `yaml:"edge,omitempty"`
	Train  string  `yaml:"train,omitempty"`
	Limit  float64 `yaml:"limit,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	sc := &Scenario{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty scenario", validation.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: decode scenario: %v", validation.ErrInvalidArgument, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Validate checks field constraints and cross references.
func (sc *Scenario) Validate() error {
	if err := validation.Struct(sc); err != nil {
		return err
	}
	c := validation.NewCollector("scenario")
	trains := make(map[string]bool, len(sc.Trains))
	for _, t := range sc.Trains {
		c.Check(!trains[t.ID], "trains", fmt.Sprintf("duplicate train %q", t.ID))
		trains[t.ID] = true
	}
	for i, ev := range sc.Events {
		field := fmt.Sprintf("events[%d]", i)
		switch ev.Action {
		case ActionBlock, ActionOpen, ActionLimit:
			_, err := railgraph.ParseEdgeID(ev.Edge)
			c.Check(err == nil, field, fmt.Sprintf("bad edge %q", ev.Edge))
			if ev.Action == ActionLimit {
				c.Check(ev.Limit > 0, field, "limit must be positive")
			}
		case ActionRemove:
			c.Check(trains[ev.Train], field, fmt.Sprintf("unknown train %q", ev.Train))
		}
	}
	return c.Err()
}

// BuildGraph turns the graph section into an immutable graph.
func (sc *Scenario) BuildGraph() (*railgraph.Graph, error) {
	b := railgraph.NewBuilder()
	for _, n := range sc.Graph.Nodes {
		node, err := railgraph.NewNode(n.ID, n.Type)
		if err != nil {
			return nil, err
		}
		if err := b.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, e := range sc.Graph.Edges {
		var opts []railgraph.EdgeOption
		if e.SpeedLimit != nil {
			opts = append(opts, railgraph.WithSpeedLimit(*e.SpeedLimit))
		}
		if e.OneWay {
			opts = append(opts, railgraph.OneWay())
		}
		if err := b.Connect(railgraph.NodeID(e.From), railgraph.NodeID(e.To), e.Length, opts...); err != nil {
			return nil, err
		}
	}
	for _, s := range sc.Graph.Blocked {
		id, err := railgraph.ParseEdgeID(s)
		if err != nil {
			return nil, err
		}
		if err := b.Block(id); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// route returns the occupancy route for t.
func (t TrainSpec) route() (occupancy.Route, error) {
	wps := make([]railgraph.NodeID, len(t.Route))
	for i, w := range t.Route {
		wps[i] = railgraph.NodeID(w)
	}
	return occupancy.NewRoute("route-"+t.ID, wps...)
}
