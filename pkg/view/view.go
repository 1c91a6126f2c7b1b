// Package view defines the read-side collaborator a Projection writes
// into (spec.md §4.F): a keyed store of arbitrary view DTOs, with an
// in-memory reference implementation. pkg/redisview provides an
// alternate, Redis-backed Repository for deployments that want the read
// model to survive process restarts.
package view

import (
	"context"
	"sync"
)

// Repository stores named read-model rows for a single view. Values are
// opaque to the repository; callers own serialization if a concrete
// backend requires it (see pkg/redisview).
type Repository interface {
	// Save inserts or wholesale-replaces the row keyed by id.
	Save(ctx context.Context, id string, value any) error

	// UpdateByID loads the current row (if any) and passes it to fn,
	// which returns the replacement value to store. fn receives
	// (nil, false) when no row exists yet, so it can decide whether to
	// initialize one. UpdateByID exists so projections never need their
	// own read-modify-write locking on top of the repository's.
	//
	// The concrete type of a found current is backend-specific and is
	// NOT part of this contract: InMemory hands back the exact Go value
	// a previous Save/UpdateByID stored, unchanged, while a backend that
	// serializes rows (e.g. pkg/redisview) hands back the decoded wire
	// representation (json.RawMessage) instead of the original struct. A
	// projection written against one backend's current type — e.g. a
	// type assertion to a concrete row struct — is not portable to a
	// different backend without adjusting that assertion; pick one
	// Repository implementation per view and keep the projection's type
	// assertion matched to it.
	UpdateByID(ctx context.Context, id string, fn func(current any, found bool) (any, error)) error

	// Find retrieves the row keyed by id.
	Find(ctx context.Context, id string) (value any, found bool, err error)

	// Delete removes the row keyed by id, if present.
	Delete(ctx context.Context, id string) error

	// All returns every row currently stored, for projections that need
	// to scan rather than point-look-up (small reference views only).
	All(ctx context.Context) (map[string]any, error)
}

// InMemory is a concurrency-safe Repository backed by a plain map; it is
// the default used by examples and tests.
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]any
}

// NewInMemory creates an empty in-memory Repository.
func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[string]any)}
}

func (r *InMemory) Save(_ context.Context, id string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id] = value
	return nil
}

func (r *InMemory) UpdateByID(_ context.Context, id string, fn func(current any, found bool) (any, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, found := r.rows[id]
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	r.rows[id] = next
	return nil
}

func (r *InMemory) Find(_ context.Context, id string) (any, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.rows[id]
	return v, ok, nil
}

func (r *InMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *InMemory) All(_ context.Context) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.rows))
	for k, v := range r.rows {
		out[k] = v
	}
	return out, nil
}
