// Package natsjournal is an alternate journal.Journal backend (see
// SPEC_FULL.md's domain stack) that republishes every appended event
// onto an embedded, in-process NATS server so a Subscribe feed can be
// consumed by more than one process without those processes sharing
// Go memory. Append and Load stay delegated to an authoritative inner
// journal.Journal (typically pkg/memjournal) — natsjournal only adds a
// second, wire-crossing way to observe the feed.
//
// The embedded server's JetStream stream is configured with
// nats.MemoryStorage and never a StoreDir: this journal never persists
// events to disk, matching the core's non-goal of durable event
// storage (events live only as long as the process and its inner
// journal do).
package natsjournal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/journal"
)

// Journal fans out an inner journal.Journal's Append calls over an
// embedded NATS server's JetStream stream, and serves Subscribe from
// that stream instead of an in-process channel.
type Journal struct {
	inner journal.Journal
	nc    *nats.Conn
	js    nats.JetStreamContext
	srv   *natsserver.Server

	streamName string
	subject    string
	logger     *slog.Logger

	shutdownOnce sync.Once
}

// Option configures a Journal.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	streamName string
}

// WithLogger overrides the structured logger used to report best-effort
// publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithStreamName overrides the JetStream stream name (default
// "EVENTS_" followed by the aggregate type passed to New).
func WithStreamName(name string) Option {
	return func(c *config) { c.streamName = name }
}

// New starts an embedded, memory-storage-only NATS server, creates a
// JetStream stream for aggregateType, and wraps inner as the
// authoritative Append/Load/LoadAll target.
func New(aggregateType string, inner journal.Journal, opts ...Option) (*Journal, error) {
	cfg := &config{logger: slog.Default(), streamName: "EVENTS_" + aggregateType}
	for _, opt := range opts {
		opt(cfg)
	}

	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		// No StoreDir: JetStream metadata lives in memory for this
		// embedded instance, and the stream itself is MemoryStorage
		// below — nothing this package does touches disk.
	})
	if err != nil {
		return nil, fmt.Errorf("start embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats server not ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	subject := fmt.Sprintf("events.%s.>", aggregateType)
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.streamName,
		Subjects:  []string{subject},
		Storage:   nats.MemoryStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		srv.Shutdown()
		return nil, fmt.Errorf("create jetstream stream: %w", err)
	}

	return &Journal{
		inner:      inner,
		nc:         nc,
		js:         js,
		srv:        srv,
		streamName: cfg.streamName,
		subject:    subject,
		logger:     cfg.logger,
	}, nil
}

type wireEvent struct {
	ID            domain.EventID `json:"id"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	Sequence      int64          `json:"sequence"`
	Timestamp     time.Time      `json:"timestamp"`
	CommandID     domain.CommandID `json:"command_id"`
	Tags          []string       `json:"tags,omitempty"`
	// Payload is carried as a JSON value, not the original Go type: a
	// Subscribe feed that crosses a NATS wire necessarily loses the
	// concrete Ev type the in-process journal preserves. Consumers that
	// need the typed payload back should pair this feed with their own
	// JSON schema per event type, or prefer the in-process journal.
	Payload json.RawMessage `json:"payload"`
}

func toWire(ev domain.Event) (wireEvent, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return wireEvent{}, err
	}
	var tags []string
	for t := range ev.Tags {
		tags = append(tags, t)
	}
	return wireEvent{
		ID: ev.ID, AggregateID: ev.AggregateID, AggregateType: ev.AggregateType,
		EventType: ev.EventType, Sequence: ev.Sequence, Timestamp: ev.Timestamp,
		CommandID: ev.CommandID, Tags: tags, Payload: payload,
	}, nil
}

func fromWire(w wireEvent) domain.Event {
	var tags map[string]struct{}
	if len(w.Tags) > 0 {
		tags = make(map[string]struct{}, len(w.Tags))
		for _, t := range w.Tags {
			tags[t] = struct{}{}
		}
	}
	return domain.Event{
		ID: w.ID, AggregateID: w.AggregateID, AggregateType: w.AggregateType,
		EventType: w.EventType, Sequence: w.Sequence, Timestamp: w.Timestamp,
		CommandID: w.CommandID, Tags: tags, Payload: json.RawMessage(w.Payload),
	}
}

// Append delegates to the inner journal first — that write is what
// Append's caller is waiting on — then best-effort republishes the
// committed events to JetStream. A publish failure is logged, not
// returned: the authoritative write already succeeded.
func (j *Journal) Append(ctx context.Context, aggregateID string, events []domain.Event) (journal.Ack, error) {
	ack, err := j.inner.Append(ctx, aggregateID, events)
	if err != nil {
		return ack, err
	}

	for _, ev := range events {
		w, err := toWire(ev)
		if err != nil {
			j.logger.Error("natsjournal: marshal event for publish", "event_id", ev.ID, "error", err)
			continue
		}
		data, err := json.Marshal(w)
		if err != nil {
			j.logger.Error("natsjournal: marshal wire event", "event_id", ev.ID, "error", err)
			continue
		}
		subject := fmt.Sprintf("events.%s.%s", ev.AggregateType, aggregateID)
		if _, err := j.js.Publish(subject, data, nats.MsgId(string(ev.ID))); err != nil {
			j.logger.Error("natsjournal: publish event", "event_id", ev.ID, "error", err)
		}
	}

	return ack, nil
}

// Load delegates to the inner journal.
func (j *Journal) Load(ctx context.Context, aggregateID string, afterSequence int64) ([]domain.Event, error) {
	return j.inner.Load(ctx, aggregateID, afterSequence)
}

// LoadAll delegates to the inner journal.
func (j *Journal) LoadAll(ctx context.Context, fromPosition int64, limit int) ([]domain.Event, error) {
	return j.inner.LoadAll(ctx, fromPosition, limit)
}

// Subscribe serves the live feed from the JetStream stream rather than
// the inner journal's in-process fan-out, so a remote process connected
// to the same embedded server observes the same events.
func (j *Journal) Subscribe(ctx context.Context, filter journal.TagFilter) (<-chan domain.Event, error) {
	out := make(chan domain.Event, 256)

	sub, err := j.js.Subscribe(j.subject, func(msg *nats.Msg) {
		var w wireEvent
		if err := json.Unmarshal(msg.Data, &w); err != nil {
			j.logger.Error("natsjournal: unmarshal event", "error", err)
			_ = msg.Ack()
			return
		}
		ev := fromWire(w)
		if filter.Matches(ev) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		_ = msg.Ack()
	}, nats.DeliverNew())
	if err != nil {
		close(out)
		return nil, fmt.Errorf("subscribe to jetstream: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()

	return out, nil
}

// Close releases the inner journal, the NATS connection and the
// embedded server.
func (j *Journal) Close() error {
	var err error
	j.shutdownOnce.Do(func() {
		err = j.inner.Close()
		j.nc.Close()
		j.srv.Shutdown()
	})
	return err
}
