package railgraph

import (
	"sync/atomic"
	"time"
)

// Snapshot is one published version of the network.
type Snapshot struct {
	Graph       RailGraph
	Version     uint64
	PublishedAt time.Time
}

// Snapshots holds the current graph. Readers always see a whole snapshot;
// Publish replaces it wholesale.
type Snapshots struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewSnapshots creates a holder publishing g as version 1. A nil g starts
// with an empty graph.
func NewSnapshots(g RailGraph) *Snapshots {
	if g == nil {
		g = NewBuilder().Build()
	}
	s := &Snapshots{}
	s.Publish(g)
	return s
}

// Publish makes g current and returns its version.
func (s *Snapshots) Publish(g RailGraph) uint64 {
	v := s.version.Add(1)
	s.current.Store(&Snapshot{Graph: g, Version: v, PublishedAt: time.Now()})
	return v
}

// Current returns the latest published graph.
func (s *Snapshots) Current() RailGraph {
	return s.current.Load().Graph
}

// Snapshot returns the latest snapshot with its version.
func (s *Snapshots) Snapshot() Snapshot {
	return *s.current.Load()
}
