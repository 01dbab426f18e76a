package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"gallows/contexts/game-moderation/vote-engine/adapters/memory"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

type capturingPublisher struct {
	topics []string
	events []ports.EventEnvelope
	fail   error
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if p.fail != nil {
		return p.fail
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func appendEnvelope(t *testing.T, store *memory.Store, eventID, eventType string, occurredAt time.Time) {
	t.Helper()
	envelope := ports.EventEnvelope{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: occurredAt,
	}
	if err := store.AppendOutbox(context.Background(), envelope); err != nil {
		t.Fatalf("append outbox failed: %v", err)
	}
}

func TestRunOncePublishesAndMarks(t *testing.T) {
	store := memory.NewStore()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	appendEnvelope(t, store, "evt-1", "vote.start", base)
	appendEnvelope(t, store, "evt-2", "vote.count.after", base.Add(time.Second))

	publisher := &capturingPublisher{}
	relay := OutboxRelay{Outbox: store, Publisher: publisher}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once failed: %v", err)
	}

	if len(publisher.topics) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(publisher.topics))
	}
	if publisher.topics[0] != "vote.start" || publisher.topics[1] != "vote.count.after" {
		t.Fatalf("events must publish in creation order on their type topic, got %v", publisher.topics)
	}
	if publisher.events[0].EventID != "evt-1" {
		t.Fatalf("decoded envelope lost its identity: %+v", publisher.events[0])
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("published rows must leave the pending set, got %d", len(pending))
	}
}

func TestRunOnceEmptyOutboxIsNoop(t *testing.T) {
	relay := OutboxRelay{Outbox: memory.NewStore(), Publisher: &capturingPublisher{}}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("empty outbox must be a no-op, got %v", err)
	}
}

func TestRunOnceStopsOnPublishFailure(t *testing.T) {
	store := memory.NewStore()
	appendEnvelope(t, store, "evt-1", "vote.start", time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC))

	brokenBus := errors.New("broker unavailable")
	relay := OutboxRelay{Outbox: store, Publisher: &capturingPublisher{fail: brokenBus}}
	if err := relay.RunOnce(context.Background()); !errors.Is(err, brokenBus) {
		t.Fatalf("expected publish failure to surface, got %v", err)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("failed row must stay pending for the next cycle, got %d", len(pending))
	}
}

func TestRunOnceHonorsBatchSize(t *testing.T) {
	store := memory.NewStore()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"evt-1", "evt-2", "evt-3"} {
		appendEnvelope(t, store, id, "vote.start", base.Add(time.Duration(i)*time.Second))
	}

	publisher := &capturingPublisher{}
	relay := OutboxRelay{Outbox: store, Publisher: publisher, BatchSize: 2}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once failed: %v", err)
	}
	if len(publisher.topics) != 2 {
		t.Fatalf("batch size must bound the cycle, got %d publishes", len(publisher.topics))
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "vote.start" {
		t.Fatalf("one row must remain for the next cycle, got %+v", pending)
	}
}
