package railgraph

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Common sentinel errors
var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrEdgeNotFound    = errors.New("edge not found")
	ErrDuplicateNode   = errors.New("node already exists")
	ErrDuplicateEdge   = errors.New("edge already exists")
	ErrSelfLoop        = errors.New("edge endpoints must differ")
	ErrInvalidLength   = errors.New("edge length must be positive")
	ErrInvalidSpeed    = errors.New("speed limit must be positive")
	ErrInvalidArgument = validation.ErrInvalidArgument
)

// GraphError carries structured context for a failed graph operation.
type GraphError struct {
	Op     string // e.g. "AddEdge", "Build"
	Entity string // "node" or "edge"
	ID     string
	Cause  error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *GraphError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for building GraphErrors.
type ErrorBuilder struct {
	err GraphError
}

// NewError creates a new error builder for the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: GraphError{Op: op}}
}

// Node sets the entity to "node" with the given ID.
func (b *ErrorBuilder) Node(id NodeID) *ErrorBuilder {
	b.err.Entity = "node"
	b.err.ID = string(id)
	return b
}

// Edge sets the entity to "edge" with the given ID.
func (b *ErrorBuilder) Edge(id EdgeID) *ErrorBuilder {
	b.err.Entity = "edge"
	b.err.ID = id.String()
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// invalid wraps a rule violation so that it matches both the specific
// sentinel and ErrInvalidArgument.
func invalid(sentinel error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, sentinel)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrEdgeNotFound)
}
