package projection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/journal"
)

// RetryPolicy bounds how hard Runtime retries a single event against a
// projection before declaring it stalled (spec.md §4.F, §7 ErrStalledProjection).
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy makes five attempts in all (the first plus four
// retries) with a doubling backoff capped at five seconds, mirroring the retry shape the retrieval pack's Redis
// stream consumer uses for handler failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Runtime is the background consumer of spec.md §4.F: it subscribes
// each registered Projection to a journal.Journal's live feed, retries
// transient Handle failures with bounded backoff, and marks a
// projection stalled once its retry budget on a single event is
// exhausted. It also drives batch Rebuild from the journal's full
// history (component F "Rebuild").
type Runtime struct {
	j      journal.Journal
	retry  RetryPolicy
	logger *slog.Logger
	tracer trace.Tracer

	mu           sync.RWMutex
	projections  map[string]*registration
}

type registration struct {
	proj    Projection
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	seen    map[domain.EventID]struct{}
	stalled error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option { return func(r *Runtime) { r.retry = p } }

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option { return func(r *Runtime) { r.logger = logger } }

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option { return func(r *Runtime) { r.tracer = tracer } }

// New creates a Runtime consuming from j.
func New(j journal.Journal, opts ...Option) *Runtime {
	r := &Runtime{
		j:           j,
		retry:       DefaultRetryPolicy(),
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("projection"),
		projections: make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a projection the Runtime can Start or Rebuild.
func (r *Runtime) Register(p Projection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projections[p.Name()] = &registration{proj: p, seen: make(map[domain.EventID]struct{})}
}

// Start subscribes name's projection to the journal's live feed and
// begins applying events in the background. filter narrows the feed the
// way journal.TagFilter always does; an empty filter matches everything.
func (r *Runtime) Start(ctx context.Context, name string, filter journal.TagFilter) error {
	r.mu.Lock()
	reg, ok := r.projections[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("projection %s not registered", name)
	}
	if reg.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("projection %s already running", name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	reg.cancel = cancel
	reg.done = make(chan struct{})
	r.mu.Unlock()

	events, err := r.j.Subscribe(runCtx, filter)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe projection %s: %w", name, err)
	}

	go r.consume(runCtx, reg, events)
	return nil
}

func (r *Runtime) consume(ctx context.Context, reg *registration, events <-chan domain.Event) {
	defer close(reg.done)
	for ev := range events {
		if err := r.applyWithRetry(ctx, reg, ev); err != nil {
			r.logger.Error("projection stalled", "projection", reg.proj.Name(), "event_id", ev.ID, "error", err)
			reg.mu.Lock()
			reg.stalled = fmt.Errorf("%w: %v", domain.ErrStalledProjection, err)
			reg.mu.Unlock()
			return
		}
	}
}

// applyWithRetry runs Handle up to r.retry.MaxAttempts times in all
// (the first attempt included), with exponential backoff between
// attempts, before giving up.
func (r *Runtime) applyWithRetry(ctx context.Context, reg *registration, ev domain.Event) error {
	ctx, span := r.tracer.Start(ctx, reg.proj.Name()+".handle")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < r.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(r.retry.delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = reg.proj.Handle(ctx, ev)
		if lastErr == nil {
			reg.mu.Lock()
			reg.seen[ev.ID] = struct{}{}
			reg.mu.Unlock()
			return nil
		}
		r.logger.Warn("projection handle failed, retrying", "projection", reg.proj.Name(), "event_id", ev.ID, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

// Rebuild resets name's projection and replays the journal's entire
// history through it in batches, mirroring the teacher's
// ProjectionManager.Rebuild. A running live subscription is left
// untouched — callers that want a clean rebuild should Stop first.
func (r *Runtime) Rebuild(ctx context.Context, name string) error {
	r.mu.RLock()
	reg, ok := r.projections[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("projection %s not registered", name)
	}

	if err := reg.proj.Reset(ctx); err != nil {
		return fmt.Errorf("reset projection %s: %w", name, err)
	}

	reg.mu.Lock()
	reg.seen = make(map[domain.EventID]struct{})
	reg.stalled = nil
	reg.mu.Unlock()

	const batchSize = 1000
	position := int64(0)
	for {
		events, err := r.j.LoadAll(ctx, position, batchSize)
		if err != nil {
			return fmt.Errorf("load events for rebuild of %s: %w", name, err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			if err := r.applyWithRetry(ctx, reg, ev); err != nil {
				return fmt.Errorf("rebuild %s: %w", name, err)
			}
			position++
		}
		if len(events) < batchSize {
			return nil
		}
	}
}

// Stop cancels name's live subscription and waits for its consumer
// goroutine to exit.
func (r *Runtime) Stop(name string) error {
	r.mu.Lock()
	reg, ok := r.projections[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("projection %s not registered", name)
	}
	cancel := reg.cancel
	reg.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-reg.done
	return nil
}

// StopAll stops every running projection.
func (r *Runtime) StopAll() {
	r.mu.RLock()
	names := make([]string, 0, len(r.projections))
	for name, reg := range r.projections {
		if reg.cancel != nil {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range names {
		_ = r.Stop(name)
	}
}

// HasProcessed reports whether name's projection has folded eventID,
// for pkg/join's askJoin to poll. It returns ErrStalledProjection once
// the projection has exhausted its retry budget, since it will never
// advance past the event that stalled it.
func (r *Runtime) HasProcessed(name string, eventID domain.EventID) (bool, error) {
	r.mu.RLock()
	reg, ok := r.projections[name]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("projection %s not registered", name)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.stalled != nil {
		return false, reg.stalled
	}
	_, seen := reg.seen[eventID]
	return seen, nil
}
