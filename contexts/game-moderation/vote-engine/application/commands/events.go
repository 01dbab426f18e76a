package commands

import (
	"encoding/json"
	"strconv"
	"time"

	"gallows/contexts/game-moderation/vote-engine/ports"
)

// Notification topics emitted by the vote engine. Before/after pairs bracket
// side effects so external listeners (narration, UI) can react without the
// engine depending on them.
const (
	topicVoteStart          = "vote.start"
	topicVoteRegisterBefore = "vote.register.before"
	topicVoteRegisterAfter  = "vote.register.after"
	topicVoteChangeBefore   = "vote.change.before"
	topicVoteChangeAfter    = "vote.change.after"
	topicVoteCountBefore    = "vote.count.before"
	topicVoteCountAfter     = "vote.count.after"
	topicVoteRunoffStart    = "vote.runoff.start"
	topicVoteRunoffResult   = "vote.runoff.result"
	topicExecutionBefore    = "execution.before"
	topicExecutionAfter     = "execution.after"
	topicExecutionNone      = "execution.none"
	topicExecutionAllBefore = "execution.all.before"
	topicExecutionAllAfter  = "execution.all.after"
)

func newVoteEnvelope(
	eventID string,
	eventType string,
	turn int,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Engine events are partitioned by turn for stable ordering on
	// turn-scoped consumers.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "vote-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "turn",
		PartitionKey:     strconv.Itoa(turn),
		Data:             payload,
	}, nil
}
