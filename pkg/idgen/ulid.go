// Package idgen generates sortable, unique identifiers for commands and events.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a new lexicographically sortable, time-prefixed identifier.
// Concurrent calls are serialized so the monotonic entropy source never
// produces a colliding id within the same millisecond.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewAt is like New but derives the timestamp component from t, useful in
// tests that pin the clock via domain.TimeFunc.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
