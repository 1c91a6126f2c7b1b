package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cqrskit/core/pkg/behavior"
	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/journal"
)

// Manager is the Aggregate Manager of spec.md §4.E: it gives every
// aggregate id its own single-writer mailbox, lazily rehydrates an
// Instance from the journal on first contact, and serializes every
// command, query and the fold of its resulting events through that one
// goroutine. Different ids never block one another.
type Manager[ID domain.AggregateID, S, C domain.Command, Ev any] struct {
	aggregateType string
	journal       journal.Journal
	behavior      *behavior.Behavior[S, C, Ev]
	idGen         func() string
	logger        *slog.Logger
	tracer        trace.Tracer

	mu      sync.Mutex
	workers map[string]*worker[S, C, Ev]
}

// Option configures a Manager, following the teacher's functional
// options pattern (eventbus.Option in the retrieval pack).
type Option[ID domain.AggregateID, S, C domain.Command, Ev any] func(*Manager[ID, S, C, Ev])

// WithLogger overrides the structured logger used for lifecycle and
// rejection logging.
func WithLogger[ID domain.AggregateID, S, C domain.Command, Ev any](logger *slog.Logger) Option[ID, S, C, Ev] {
	return func(m *Manager[ID, S, C, Ev]) { m.logger = logger }
}

// WithTracer overrides the OpenTelemetry tracer spans for Submit/Ask are
// recorded against. The default is a no-op tracer.
func WithTracer[ID domain.AggregateID, S, C domain.Command, Ev any](tracer trace.Tracer) Option[ID, S, C, Ev] {
	return func(m *Manager[ID, S, C, Ev]) { m.tracer = tracer }
}

// WithEventIDFunc overrides event id generation. The default derives a
// deterministic id from (commandID, aggregateID, sequence); an
// application that wants globally-unique, non-deterministic ids (e.g.
// idgen.New, a ulid) can supply one here instead.
func WithEventIDFunc[ID domain.AggregateID, S, C domain.Command, Ev any](fn func() string) Option[ID, S, C, Ev] {
	return func(m *Manager[ID, S, C, Ev]) { m.idGen = fn }
}

// New builds a Manager for one aggregate type, routing through j and
// folding/dispatching via b.
func New[ID domain.AggregateID, S, C domain.Command, Ev any](
	aggregateType string,
	j journal.Journal,
	b *behavior.Behavior[S, C, Ev],
	opts ...Option[ID, S, C, Ev],
) *Manager[ID, S, C, Ev] {
	m := &Manager[ID, S, C, Ev]{
		aggregateType: aggregateType,
		journal:       j,
		behavior:      b,
		logger:        slog.Default(),
		tracer:        noop.NewTracerProvider().Tracer("aggregate"),
		workers:       make(map[string]*worker[S, C, Ev]),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// worker is the per-aggregate-id mailbox: a goroutine draining tasks in
// strict FIFO order, each task a closure over the worker's own Instance.
// Because task closures are only ever invoked from inside this one
// goroutine's range loop, no additional locking is needed around
// instance mutation (spec.md §5 "single active writer per aggregate
// id").
type worker[S, C, Ev any] struct {
	id       string
	instance *Instance[S, C, Ev]
	loaded   bool
	tasks    chan func()
}

type outcome struct {
	events []domain.Event
	err    error
}

func (m *Manager[ID, S, C, Ev]) workerFor(id ID) *worker[S, C, Ev] {
	key := id.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[key]; ok {
		return w
	}

	w := &worker[S, C, Ev]{
		id:       key,
		instance: NewInstance(m.behavior),
		tasks:    make(chan func(), 256),
	}
	m.workers[key] = w
	go m.runWorker(key, w)
	return w
}

// runWorker drains w.tasks until either the channel is closed or a task
// panics. A panic is a programming error per spec.md §7.6 (unfinished
// behavior, duplicate event id, non-monotonic sequence): it crashes this
// aggregate id's worker rather than being silently swallowed, logged
// loudly with its stack trace, adapted from the teacher's command-bus
// recovery middleware. Other aggregate ids' workers are unaffected.
// Evicting the crashed worker from the registry is safe — state is a
// pure function of the log (spec.md §4.E "Retention"), so the next
// command for this id simply rehydrates a fresh worker by replay.
func (m *Manager[ID, S, C, Ev]) runWorker(key string, w *worker[S, C, Ev]) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("aggregate worker crashed",
				"aggregate_id", key,
				"panic", r,
				"stack_trace", string(debug.Stack()),
			)
			m.mu.Lock()
			if m.workers[key] == w {
				delete(m.workers, key)
			}
			m.mu.Unlock()
		}
	}()
	for task := range w.tasks {
		task()
	}
}

// ensureLoaded rehydrates w's Instance from the journal the first time
// it is touched. Called only from within the worker's own goroutine.
func (m *Manager[ID, S, C, Ev]) ensureLoaded(ctx context.Context, w *worker[S, C, Ev]) error {
	if w.loaded {
		return nil
	}
	events, err := m.journal.Load(ctx, w.id, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJournalFailure, err)
	}
	for _, ev := range events {
		mustApplyEvent(w.instance, ev)
	}
	w.loaded = true
	return nil
}

// mustApplyEvent folds ev into instance and panics if it violates the
// monotonic-sequence invariant (spec.md §3 invariant 4, §7.6): a replay
// or a post-append fold that disagrees with what the journal actually
// holds is a programming error, not a recoverable per-command failure,
// so it is never returned as an ordinary outcome error.
func mustApplyEvent[S, C, Ev any](instance *Instance[S, C, Ev], ev domain.Event) {
	if err := instance.ApplyEvent(ev); err != nil {
		panic(err)
	}
}

// process runs one command through ensureLoaded -> dispatch -> stamp ->
// append -> fold, entirely inside the calling (worker) goroutine.
func (m *Manager[ID, S, C, Ev]) process(ctx context.Context, w *worker[S, C, Ev], cmd C) outcome {
	ctx, span := m.tracer.Start(ctx, m.aggregateType+".process")
	defer span.End()

	if err := m.ensureLoaded(ctx, w); err != nil {
		return outcome{err: err}
	}

	existed := w.instance.Exists()
	result := w.instance.HandleCommand(ctx, cmd)
	events, err := result.Resolve(ctx)
	if err != nil {
		return outcome{err: m.classifyRejection(w.id, existed, err)}
	}
	if len(events) == 0 {
		// Accepted, but produced nothing observable — no journal write,
		// no state change; the caller gets an empty, error-free outcome
		// (see behavior.Many on empty event slices).
		return outcome{}
	}

	stamped := m.stamp(w, cmd.ID(), events)

	if _, err := m.journal.Append(ctx, w.id, stamped); err != nil {
		return outcome{err: fmt.Errorf("%w: %v", domain.ErrJournalFailure, err)}
	}

	for _, ev := range stamped {
		// A failure here means the journal disagrees with what this
		// process just wrote to it — only a concurrent writer breaking
		// the single-writer invariant upstream could cause that, so it
		// crashes the worker via mustApplyEvent rather than being
		// reported as this command's outcome.
		mustApplyEvent(w.instance, ev)
	}

	return outcome{events: stamped}
}

// classifyRejection distinguishes "nothing recognized this command
// shape" (ErrInvalidCommand) from a deliberate, behavior-authored
// Reject (RejectedError), and "no such aggregate" when a command that
// isn't a creation command arrives for an absent aggregate.
func (m *Manager[ID, S, C, Ev]) classifyRejection(aggregateID string, existed bool, err error) error {
	if errors.Is(err, behavior.ErrNoCreationClause) || errors.Is(err, behavior.ErrNoUpdateClause) {
		if !existed {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, aggregateID)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
	}
	return domain.NewRejectedError(aggregateID, err)
}

// stamp assigns ids, sequence numbers, the command that caused them and
// a timestamp to events freshly produced by a Behavior, turning the
// domain-specific Ev payloads into committable domain.Event values.
func (m *Manager[ID, S, C, Ev]) stamp(w *worker[S, C, Ev], commandID domain.CommandID, events []Ev) []domain.Event {
	base := w.instance.Sequence()
	now := domain.Now()
	out := make([]domain.Event, len(events))
	for i, payload := range events {
		seq := base + int64(i) + 1
		id := domain.GenerateDeterministicEventID(commandID, w.id, int(seq))
		if m.idGen != nil {
			id = domain.EventID(m.idGen())
		}
		out[i] = domain.Event{
			ID:            id,
			AggregateID:   w.id,
			AggregateType: m.aggregateType,
			EventType:     fmt.Sprintf("%T", payload),
			Sequence:      seq,
			Timestamp:     now,
			CommandID:     commandID,
			Tags:          tagsOf(payload),
			Payload:       payload,
		}
	}
	return out
}

// tagger is implemented by event payloads that want to be discoverable
// on tag-filtered journal subscriptions (spec.md §4.C, §4.G).
type tagger interface {
	Tags() []string
}

func tagsOf(payload any) map[string]struct{} {
	t, ok := payload.(tagger)
	if !ok {
		return nil
	}
	tags := t.Tags()
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		out[tag] = struct{}{}
	}
	return out
}

// Submit enqueues cmd for id's worker without waiting for the result
// (spec.md §6 "submit ... fire-and-forget"). The command is guaranteed
// to be attempted exactly once, in FIFO order relative to every other
// command already queued for id, even if the caller never observes the
// outcome.
func (m *Manager[ID, S, C, Ev]) Submit(id ID, cmd C) {
	w := m.workerFor(id)
	w.tasks <- func() {
		m.process(context.Background(), w, cmd)
	}
}

// Ask enqueues cmd and blocks for its outcome, up to timeout. A timeout
// bounds only the caller's wait — once a task is enqueued it still runs
// to completion and is folded into the aggregate's state regardless of
// whether Ask is still listening (spec.md §6 "ask ... ErrTimeout never
// implies the command didn't happen"). ctx only ever gates *this* call:
// it can abort before the task is accepted into w.tasks, and it bounds
// how long Ask itself waits afterward, but the queued task runs against
// context.Background() so that cancelling ctx after acceptance can never
// abort the command's own Load/Append (spec.md §4.E "once accepted into
// the queue, guaranteed to be attempted exactly once").
func (m *Manager[ID, S, C, Ev]) Ask(ctx context.Context, id ID, cmd C, timeout time.Duration) ([]domain.Event, error) {
	w := m.workerFor(id)
	result := make(chan outcome, 1)

	select {
	case w.tasks <- func() { result <- m.process(context.Background(), w, cmd) }:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if timeout <= 0 {
		select {
		case out := <-result:
			return out.events, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-result:
		return out.events, out.err
	case <-timer.C:
		return nil, domain.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RetryOnConflict runs build against id's freshly loaded state, asks the
// resulting command, and — if the attempt is rejected — reloads state and
// calls build again, up to maxRetries additional attempts. It is for
// callers that compute a command from state read outside the aggregate's
// own worker (e.g. "set price to 10% above current"), where by the time
// the command reaches the worker another command may already have moved
// the state out from under it. Adapted from the teacher's
// BaseRepository.RetryOnConflict; unlike the teacher's version this never
// inspects the rejection reason, since every rejection here is already a
// single first-class RejectedError rather than a raw version-conflict
// sentinel buried among unrelated errors.
func (m *Manager[ID, S, C, Ev]) RetryOnConflict(ctx context.Context, id ID, maxRetries int, timeout time.Duration, build func(state S, exists bool) (C, error)) ([]domain.Event, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		state, err := m.State(ctx, id)
		exists := true
		if errors.Is(err, domain.ErrNotFound) {
			exists, err = false, nil
		}
		if err != nil {
			return nil, err
		}

		cmd, err := build(state, exists)
		if err != nil {
			return nil, err
		}

		events, err := m.Ask(ctx, id, cmd, timeout)
		if err == nil {
			return events, nil
		}
		var rejected *domain.RejectedError
		if !errors.As(err, &rejected) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// State returns id's current folded state, serialized behind the same
// per-id mailbox as every command, so it never races an in-flight fold.
func (m *Manager[ID, S, C, Ev]) State(ctx context.Context, id ID) (S, error) {
	w := m.workerFor(id)
	type reply struct {
		state  S
		exists bool
		err    error
	}
	result := make(chan reply, 1)

	select {
	case w.tasks <- func() {
		if err := m.ensureLoaded(ctx, w); err != nil {
			result <- reply{err: err}
			return
		}
		state, exists := w.instance.State()
		result <- reply{state: state, exists: exists}
	}:
	case <-ctx.Done():
		var zero S
		return zero, ctx.Err()
	}

	r := <-result
	if r.err != nil {
		var zero S
		return zero, r.err
	}
	if !r.exists {
		var zero S
		return zero, fmt.Errorf("%w: %s", domain.ErrNotFound, id.String())
	}
	return r.state, nil
}

// Exists reports whether id currently has a folded state.
func (m *Manager[ID, S, C, Ev]) Exists(ctx context.Context, id ID) (bool, error) {
	w := m.workerFor(id)
	result := make(chan struct {
		exists bool
		err    error
	}, 1)

	select {
	case w.tasks <- func() {
		if err := m.ensureLoaded(ctx, w); err != nil {
			result <- struct {
				exists bool
				err    error
			}{err: err}
			return
		}
		result <- struct {
			exists bool
			err    error
		}{exists: w.instance.Exists()}
	}:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	r := <-result
	return r.exists, r.err
}
