// Package claimstore persists the occupancy claims table so a restarted
// dispatcher can rebuild it. Stores only hold records; the manager stays the
// single authority and claims are replayed through Acquire on restore.
package claimstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
)

// Store persists claims keyed by resource and train. Several trains may
// hold one resource when they share it by heading.
type Store interface {
	// Save upserts claims. A claim replaces any stored claim by the same
	// train on the same resource.
	Save(ctx context.Context, claims ...occupancy.Claim) error
	// Delete removes the stored claims on rs. Missing resources are ignored.
	Delete(ctx context.Context, rs ...occupancy.Resource) error
	// Replace swaps the whole stored table for claims.
	Replace(ctx context.Context, claims []occupancy.Claim) error
	// Load returns every stored claim ordered by resource then train.
	Load(ctx context.Context) ([]occupancy.Claim, error)
	Ping(ctx context.Context) error
	Close() error
}

type claimKey struct {
	resource occupancy.Resource
	train    string
}

func keyOf(c occupancy.Claim) claimKey { return claimKey{c.Resource, c.TrainID} }

// MemoryStore keeps claims in a map. It is used in tests and by the
// simulator when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	claims map[claimKey]occupancy.Claim
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[claimKey]occupancy.Claim)}
}

func (s *MemoryStore) Save(ctx context.Context, claims ...occupancy.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range claims {
		s.claims[keyOf(c)] = c
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, rs ...occupancy.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.claims {
		if slices.Contains(rs, k.resource) {
			delete(s.claims, k)
		}
	}
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, claims []occupancy.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fresh := make(map[claimKey]occupancy.Claim, len(claims))
	for _, c := range claims {
		fresh[keyOf(c)] = c
	}
	s.mu.Lock()
	s.claims = fresh
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) ([]occupancy.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]occupancy.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		out = append(out, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, byResource)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored claims.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.claims)
}

func byResource(a, b occupancy.Claim) int {
	return cmp.Or(a.Resource.Compare(b.Resource), cmp.Compare(a.TrainID, b.TrainID))
}
