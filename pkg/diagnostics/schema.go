package diagnostics

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/graphql-go/graphql"

	"github.com/dd0wney/cluso-dispatch/pkg/algorithms"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// NeighbourView is one node reached by a k-hop query.
type NeighbourView struct {
	Node string `json:"node"`
	Hops int    `json:"hops"`
}

// SummaryView counts the main tables.
type SummaryView struct {
	Claims       int `json:"claims"`
	Waiting      int `json:"waiting"`
	Locks        int `json:"locks"`
	Trains       int `json:"trains"`
	GraphVersion int `json:"graphVersion"`
}

func fieldsOf(names map[string]graphql.Output) graphql.Fields {
	fields := make(graphql.Fields, len(names))
	for name, typ := range names {
		fields[name] = &graphql.Field{Type: typ}
	}
	return fields
}

var (
	nonNullString = graphql.NewNonNull(graphql.String)
	nonNullInt    = graphql.NewNonNull(graphql.Int)
	stringList    = graphql.NewList(nonNullString)

	claimType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Claim",
		Fields: fieldsOf(map[string]graphql.Output{
			"resource":   nonNullString,
			"kind":       nonNullString,
			"train":      nonNullString,
			"route":      graphql.String,
			"acquiredAt": nonNullString,
			"headwayMs":  nonNullInt,
			"heading":    graphql.String,
		}),
	})

	queueType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Queue",
		Fields: fieldsOf(map[string]graphql.Output{
			"resource": nonNullString,
			"waiters":  stringList,
		}),
	})

	lockType = graphql.NewObject(graphql.ObjectConfig{
		Name: "DeadlockLock",
		Fields: fieldsOf(map[string]graphql.Output{
			"resource":  nonNullString,
			"train":     nonNullString,
			"expiresAt": nonNullString,
		}),
	})

	signalType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Signal",
		Fields: fieldsOf(map[string]graphql.Output{
			"train":  nonNullString,
			"aspect": nonNullString,
		}),
	})

	trainType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Train",
		Fields: fieldsOf(map[string]graphql.Output{
			"id":       nonNullString,
			"route":    nonNullString,
			"at":       nonNullString,
			"index":    nonNullInt,
			"priority": nonNullInt,
			"finished": graphql.NewNonNull(graphql.Boolean),
			"signal":   graphql.String,
		}),
	})

	graphType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Graph",
		Fields: fieldsOf(map[string]graphql.Output{
			"version":     nonNullInt,
			"publishedAt": nonNullString,
			"nodes":       nonNullInt,
			"edges":       nonNullInt,
			"blocked":     stringList,
		}),
	})

	neighbourType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Neighbour",
		Fields: fieldsOf(map[string]graphql.Output{
			"node": nonNullString,
			"hops": nonNullInt,
		}),
	})

	summaryType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Summary",
		Fields: fieldsOf(map[string]graphql.Output{
			"claims":       nonNullInt,
			"waiting":      nonNullInt,
			"locks":        nonNullInt,
			"trains":       nonNullInt,
			"graphVersion": nonNullInt,
		}),
	})
)

// NewSchema builds the read-only query schema over src.
func NewSchema(src Source) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"summary": &graphql.Field{
				Type: summaryType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return Summary(src), nil
				},
			},
			"claims": &graphql.Field{
				Type: graphql.NewList(claimType),
				Args: graphql.FieldConfigArgument{
					"train": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					train, _ := p.Args["train"].(string)
					return Claims(src, train), nil
				},
			},
			"queues": &graphql.Field{
				Type: graphql.NewList(queueType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return Queues(src), nil
				},
			},
			"locks": &graphql.Field{
				Type: graphql.NewList(lockType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return Locks(src), nil
				},
			},
			"signals": &graphql.Field{
				Type: graphql.NewList(signalType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return Signals(src), nil
				},
			},
			"signal": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"train": &graphql.ArgumentConfig{Type: nonNullString},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					train, _ := p.Args["train"].(string)
					if a, ok := src.Signals()[train]; ok {
						return a.String(), nil
					}
					return nil, nil
				},
			},
			"trains": &graphql.Field{
				Type: graphql.NewList(trainType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return Trains(src), nil
				},
			},
			"graph": &graphql.Field{
				Type: graphType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return Graph(src), nil
				},
			},
			"neighbours": &graphql.Field{
				Type: graphql.NewList(neighbourType),
				Args: graphql.FieldConfigArgument{
					"node":         &graphql.ArgumentConfig{Type: nonNullString},
					"hops":         &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 1},
					"followBlocks": &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					node, _ := p.Args["node"].(string)
					hops, _ := p.Args["hops"].(int)
					follow, _ := p.Args["followBlocks"].(bool)
					return Neighbours(src, railgraph.NodeID(node), hops, follow)
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create schema: %w", err)
	}
	return schema, nil
}

// Summary counts claims, queued trains, live locks and the fleet.
func Summary(src Source) SummaryView {
	waiting := 0
	for _, ws := range src.Manager().SnapshotQueues() {
		waiting += len(ws)
	}
	return SummaryView{
		Claims:       src.Manager().Len(),
		Waiting:      waiting,
		Locks:        src.Deadlocks().LockCount(),
		Trains:       src.Fleet().Len(),
		GraphVersion: int(src.Snapshot().Version),
	}
}

// Neighbours returns the nodes within hops moves of node, closest first.
// An unknown node yields an empty list.
func Neighbours(src Source, node railgraph.NodeID, hops int, followBlocks bool) ([]NeighbourView, error) {
	res, err := algorithms.KHopNeighbours(src.Snapshot().Graph, node, algorithms.KHopOptions{
		MaxHops:      hops,
		FollowBlocks: followBlocks,
	})
	if errors.Is(err, railgraph.ErrNodeNotFound) {
		return []NeighbourView{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]NeighbourView, 0, res.TotalReachable)
	for n, d := range res.Distances {
		out = append(out, NeighbourView{Node: string(n), Hops: d})
	}
	slices.SortFunc(out, func(a, b NeighbourView) int {
		return cmp.Or(cmp.Compare(a.Hops, b.Hops), cmp.Compare(a.Node, b.Node))
	})
	return out, nil
}
