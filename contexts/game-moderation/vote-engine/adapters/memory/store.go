package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// Store is the in-memory ballot history plus outbox and dedup stores. It
// backs tests and single-process deployments.
type Store struct {
	mu sync.RWMutex

	records    []entities.BallotRecord
	seq        uint64
	outbox     map[string]outboxRecord
	eventDedup map[string]dedupRecord
}

func NewStore() *Store {
	return &Store{
		records:    make([]entities.BallotRecord, 0),
		outbox:     make(map[string]outboxRecord),
		eventDedup: make(map[string]dedupRecord),
	}
}

// AppendBallot stores a copy of the record with the next sequence number and
// returns the stored form.
func (s *Store) AppendBallot(_ context.Context, record entities.BallotRecord) (entities.BallotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	record.Seq = s.seq
	record.CastAt = record.CastAt.UTC()
	s.records = append(s.records, record)
	return record, nil
}

func (s *Store) ListByTurn(_ context.Context, turn int, voteType entities.VoteType) ([]entities.BallotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.BallotRecord, 0)
	for _, record := range s.records {
		if record.Turn != turn {
			continue
		}
		if voteType != "" && record.Type != voteType {
			continue
		}
		items = append(items, record)
	}
	return items, nil
}

func (s *Store) ListByVoter(_ context.Context, voterID entities.PlayerID) ([]entities.BallotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.BallotRecord, 0)
	for _, record := range s.records {
		if record.VoterID == voterID {
			items = append(items, record)
		}
	}
	return items, nil
}

func (s *Store) ListByTarget(_ context.Context, targetID entities.PlayerID) ([]entities.BallotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.BallotRecord, 0)
	for _, record := range s.records {
		if record.TargetID == targetID {
			items = append(items, record)
		}
	}
	return items, nil
}

func (s *Store) ListAll(_ context.Context) ([]entities.BallotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.BallotRecord, len(s.records))
	copy(items, s.records)
	return items, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(_ context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventID = strings.TrimSpace(eventID)
	now := time.Now().UTC()
	if existing, ok := s.eventDedup[eventID]; ok && existing.expiresAt.After(now) {
		if existing.payloadHash != payloadHash {
			return false, domainerrors.ErrConflict
		}
		return true, nil
	}
	s.eventDedup[eventID] = dedupRecord{
		payloadHash: payloadHash,
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

var (
	_ ports.AuditRepository  = (*Store)(nil)
	_ ports.OutboxWriter     = (*Store)(nil)
	_ ports.OutboxRepository = (*Store)(nil)
	_ ports.EventDedupStore  = (*Store)(nil)
)
