package ports

import (
	"context"
	"time"

	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	"gallows/internal/shared/events"
	"gallows/internal/shared/outbox"
)

// Player is the roster's view of a participant. Role and DoubleVote come from
// the external role system; the engine only reads them.
type Player struct {
	ID         entities.PlayerID
	Name       string
	Role       string
	Alive      bool
	DoubleVote bool
}

// PlayerIDs extracts identifiers from roster players, for round setups that
// accept either players or bare ids.
func PlayerIDs(players []Player) []entities.PlayerID {
	ids := make([]entities.PlayerID, 0, len(players))
	for _, player := range players {
		ids = append(ids, player.ID)
	}
	return ids
}

// Roster is the externally-owned player liveness store. Kill is the single
// point where the engine writes to external state.
type Roster interface {
	GetPlayer(ctx context.Context, id entities.PlayerID) (Player, bool, error)
	ListAlive(ctx context.Context) ([]Player, error)
	Kill(ctx context.Context, id entities.PlayerID, cause string) error
}

// PhaseSource reports the scheduler's current turn and phase. The engine has
// no notion of waiting; the scheduler alone decides when collection ends.
type PhaseSource interface {
	CurrentTurn(ctx context.Context) (int, error)
	CurrentPhase(ctx context.Context) (string, error)
}

// ConstraintResult is the verdict of an optional role-specific voting
// constraint.
type ConstraintResult struct {
	Valid   bool
	Reason  string
	Message string
}

// ConstraintChecker is an optional capability hook consulted during ballot
// validation. It keeps the ballot box decoupled from the concrete role
// system.
type ConstraintChecker interface {
	CheckVoteConstraint(ctx context.Context, voter Player, targetID entities.PlayerID) (ConstraintResult, error)
}

// AuditRepository is the append-only ballot history. AppendBallot assigns the
// strictly increasing sequence number that orders history independent of
// timestamp collisions.
type AuditRepository interface {
	AppendBallot(ctx context.Context, record entities.BallotRecord) (entities.BallotRecord, error)
	ListByTurn(ctx context.Context, turn int, voteType entities.VoteType) ([]entities.BallotRecord, error)
	ListByVoter(ctx context.Context, voterID entities.PlayerID) ([]entities.BallotRecord, error)
	ListByTarget(ctx context.Context, targetID entities.PlayerID) ([]entities.BallotRecord, error)
	ListAll(ctx context.Context) ([]entities.BallotRecord, error)
}

// EventEnvelope and OutboxMessage are the repository-wide contracts; the
// engine uses them through its own ports so adapters stay swappable.
type (
	EventEnvelope = events.Envelope
	OutboxMessage = outbox.Message
)

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string, consumerGroup string, handler func(context.Context, EventEnvelope) error) error
}

// EventDedupStore reserves event IDs so bus consumers process each event at
// most once. ReserveEvent reports true when the event was already processed.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// RandSource supplies the uniform pick used by random tie-breaks; tests
// inject a deterministic source.
type RandSource interface {
	Intn(n int) int
}
