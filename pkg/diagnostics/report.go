// Package diagnostics exposes read-only views of a running dispatch core,
// both as plain structs and through a GraphQL schema.
package diagnostics

import (
	"slices"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/signal"
)

// Source is the state a diagnostics view reads. *dispatch.Core satisfies it.
type Source interface {
	Manager() *occupancy.Manager
	Deadlocks() *signal.DeadlockResolver
	Fleet() *occupancy.Fleet
	Snapshot() railgraph.Snapshot
	Signals() map[string]occupancy.Aspect
}

type ClaimView struct {
	Resource   string `json:"resource"`
	Kind       string `json:"kind"`
	TrainID    string `json:"train"`
	RouteID    string `json:"route"`
	AcquiredAt string `json:"acquiredAt"`
	HeadwayMS  int    `json:"headwayMs"`
	// Heading is set on claims shared by direction of travel.
	Heading string `json:"heading"`
}

type QueueView struct {
	Resource string   `json:"resource"`
	Waiters  []string `json:"waiters"`
}

type LockView struct {
	Resource  string `json:"resource"`
	TrainID   string `json:"train"`
	ExpiresAt string `json:"expiresAt"`
}

type SignalView struct {
	TrainID string `json:"train"`
	Aspect  string `json:"aspect"`
}

type TrainView struct {
	ID       string `json:"id"`
	Route    string `json:"route"`
	At       string `json:"at"`
	Index    int    `json:"index"`
	Priority int    `json:"priority"`
	Finished bool   `json:"finished"`
	Signal   string `json:"signal"`
}

type GraphView struct {
	Version     int      `json:"version"`
	PublishedAt string   `json:"publishedAt"`
	Nodes       int      `json:"nodes"`
	Edges       int      `json:"edges"`
	Blocked     []string `json:"blocked"`
}

// Report is a consistent-enough picture of the core for dashboards. Each
// section is copied under its own lock, so sections may differ by a tick.
type Report struct {
	Claims  []ClaimView  `json:"claims"`
	Queues  []QueueView  `json:"queues"`
	Locks   []LockView   `json:"locks"`
	Signals []SignalView `json:"signals"`
	Trains  []TrainView  `json:"trains"`
	Graph   GraphView    `json:"graph"`
}

// Collect copies every section of src.
func Collect(src Source) Report {
	return Report{
		Claims:  Claims(src, ""),
		Queues:  Queues(src),
		Locks:   Locks(src),
		Signals: Signals(src),
		Trains:  Trains(src),
		Graph:   Graph(src),
	}
}

// Claims lists held claims, optionally only those of one train.
func Claims(src Source, trainID string) []ClaimView {
	var claims []occupancy.Claim
	if trainID == "" {
		claims = src.Manager().SnapshotClaims()
	} else {
		claims = src.Manager().ClaimsOf(trainID)
	}
	out := make([]ClaimView, len(claims))
	for i, c := range claims {
		out[i] = ClaimView{
			Resource:   c.Resource.String(),
			Kind:       c.Resource.Kind.String(),
			TrainID:    c.TrainID,
			RouteID:    c.RouteID,
			AcquiredAt: c.AcquiredAt.UTC().Format(time.RFC3339Nano),
			HeadwayMS:  int(c.Headway.Milliseconds()),
			Heading:    string(c.Heading),
		}
	}
	return out
}

// Queues lists non-empty wait queues ordered by resource.
func Queues(src Source) []QueueView {
	queues := src.Manager().SnapshotQueues()
	rs := make([]occupancy.Resource, 0, len(queues))
	for r := range queues {
		rs = append(rs, r)
	}
	slices.SortFunc(rs, occupancy.Resource.Compare)

	out := make([]QueueView, len(rs))
	for i, r := range rs {
		out[i] = QueueView{Resource: r.String(), Waiters: queues[r]}
	}
	return out
}

// Locks lists unexpired deadlock locks ordered by resource.
func Locks(src Source) []LockView {
	locks := src.Deadlocks().Locks()
	rs := make([]occupancy.Resource, 0, len(locks))
	for r := range locks {
		rs = append(rs, r)
	}
	slices.SortFunc(rs, occupancy.Resource.Compare)

	out := make([]LockView, len(rs))
	for i, r := range rs {
		l := locks[r]
		out[i] = LockView{Resource: r.String(), TrainID: l.TrainID, ExpiresAt: l.ExpiresAt.UTC().Format(time.RFC3339Nano)}
	}
	return out
}

// Signals lists the last confirmed aspect per train.
func Signals(src Source) []SignalView {
	signals := src.Signals()
	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]SignalView, len(ids))
	for i, id := range ids {
		out[i] = SignalView{TrainID: id, Aspect: signals[id].String()}
	}
	return out
}

// Trains lists the fleet with each train's progress and signal.
func Trains(src Source) []TrainView {
	signals := src.Signals()
	fleet := src.Fleet()
	var out []TrainView
	for _, id := range fleet.IDs() {
		st, ok := fleet.Get(id)
		if !ok {
			continue
		}
		tv := TrainView{
			ID:       id,
			Route:    st.Route.ID,
			At:       string(st.At()),
			Index:    st.Index,
			Priority: st.Priority,
			Finished: st.Finished(),
		}
		if a, ok := signals[id]; ok {
			tv.Signal = a.String()
		}
		out = append(out, tv)
	}
	return out
}

// Graph summarises the current network snapshot.
func Graph(src Source) GraphView {
	snap := src.Snapshot()
	gv := GraphView{
		Version:     int(snap.Version),
		PublishedAt: snap.PublishedAt.UTC().Format(time.RFC3339Nano),
	}
	if snap.Graph == nil {
		return gv
	}
	edges := snap.Graph.Edges()
	gv.Nodes = len(snap.Graph.Nodes())
	gv.Edges = len(edges)
	for _, e := range edges {
		if snap.Graph.IsBlocked(e.ID) {
			gv.Blocked = append(gv.Blocked, e.ID.String())
		}
	}
	return gv
}
