// Package redisview is an alternate view.Repository backend (see
// SPEC_FULL.md's domain stack) that stores each row as a JSON-encoded
// Redis string under a namespaced key, for deployments that want their
// read model to survive a process restart. Values round-trip through
// json.Marshal/Unmarshal, so a Repository consumer's `any` must be
// JSON-friendly (a struct with exported fields, a map, etc.) — unlike
// view.InMemory, which holds live Go values with no such constraint.
package redisview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Repository is a Redis-backed view.Repository. All rows for one
// Repository instance are namespaced under a shared key prefix so
// several views can share one Redis database.
type Repository struct {
	rdb    *redis.Client
	prefix string
}

// New wraps an existing *redis.Client; prefix namespaces this view's
// keys ("productcatalog:view:" for example).
func New(rdb *redis.Client, prefix string) *Repository {
	return &Repository{rdb: rdb, prefix: prefix}
}

func (r *Repository) key(id string) string {
	return r.prefix + id
}

func (r *Repository) Save(ctx context.Context, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal view row %s: %w", id, err)
	}
	if err := r.rdb.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}

// UpdateByID loads the current row (as raw JSON, since the repository
// doesn't know the row's concrete Go type), hands it to fn as a
// json.RawMessage when present, and stores fn's replacement. Callers
// that need a typed read-modify-write should unmarshal the
// json.RawMessage themselves inside fn.
func (r *Repository) UpdateByID(ctx context.Context, id string, fn func(current any, found bool) (any, error)) error {
	data, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	switch {
	case err == redis.Nil:
		next, err := fn(nil, false)
		if err != nil {
			return err
		}
		return r.Save(ctx, id, next)
	case err != nil:
		return fmt.Errorf("redis get %s: %w", id, err)
	}

	next, err := fn(json.RawMessage(data), true)
	if err != nil {
		return err
	}
	return r.Save(ctx, id, next)
}

func (r *Repository) Find(ctx context.Context, id string) (any, bool, error) {
	data, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", id, err)
	}
	return json.RawMessage(data), true, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// All scans every key under this repository's prefix. Intended for
// small reference views and tests, not production-scale read models.
func (r *Repository) All(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		out[key[len(r.prefix):]] = json.RawMessage(data)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", r.prefix, err)
	}
	return out, nil
}
