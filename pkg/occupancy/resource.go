// Package occupancy arbitrates which train may hold which piece of track.
// A Manager owns the claims table; requests are built from a train's route
// progress and answered with a Decision carrying a signal aspect.
package occupancy

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// ResourceKind distinguishes what a resource guards.
type ResourceKind int

const (
	KindEdge ResourceKind = iota + 1
	KindNode
	KindConflict
)

func (k ResourceKind) String() string {
	switch k {
	case KindEdge:
		return "edge"
	case KindNode:
		return "node"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseResourceKind is the inverse of ResourceKind.String.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch s {
	case "edge":
		return KindEdge, nil
	case "node":
		return KindNode, nil
	case "conflict":
		return KindConflict, nil
	}
	return 0, fmt.Errorf("%w: unknown resource kind %q", validation.ErrInvalidArgument, s)
}

// Resource is a lockable unit. Two resources are equal iff kind and key match.
type Resource struct {
	Kind ResourceKind
	Key  string
}

// NewResource validates kind and key.
func NewResource(kind ResourceKind, key string) (Resource, error) {
	if kind < KindEdge || kind > KindConflict {
		return Resource{}, fmt.Errorf("%w: unknown resource kind %d", validation.ErrInvalidArgument, int(kind))
	}
	if err := validation.Identifier("resource key", key); err != nil {
		return Resource{}, err
	}
	return Resource{Kind: kind, Key: key}, nil
}

// ParseResource reads the "kind:key" form produced by String.
func ParseResource(s string) (Resource, error) {
	kind, key, ok := strings.Cut(s, ":")
	if !ok {
		return Resource{}, fmt.Errorf("%w: malformed resource %q", validation.ErrInvalidArgument, s)
	}
	k, err := ParseResourceKind(kind)
	if err != nil {
		return Resource{}, err
	}
	return NewResource(k, key)
}

// EdgeResource guards a single track segment.
func EdgeResource(id railgraph.EdgeID) Resource {
	return Resource{Kind: KindEdge, Key: id.String()}
}

// NodeResource guards a node.
func NodeResource(id railgraph.NodeID) Resource {
	return Resource{Kind: KindNode, Key: string(id)}
}

// ConflictResource guards an application-defined group such as a switch.
func ConflictResource(key string) Resource {
	return Resource{Kind: KindConflict, Key: key}
}

func (r Resource) String() string { return r.Kind.String() + ":" + r.Key }

// Valid reports whether r could have come from NewResource.
func (r Resource) Valid() bool {
	_, err := NewResource(r.Kind, r.Key)
	return err == nil
}

// Compare orders resources by kind then key.
func (r Resource) Compare(o Resource) int {
	if r.Kind != o.Kind {
		if r.Kind < o.Kind {
			return -1
		}
		return 1
	}
	return strings.Compare(r.Key, o.Key)
}
