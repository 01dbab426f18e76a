package queries

import (
	"context"
	"log/slog"
	"sort"

	application "gallows/contexts/game-moderation/vote-engine/application"
	"gallows/contexts/game-moderation/vote-engine/application/tally"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

// AuditLog is the read side of the ballot history. It never mutates records;
// all aggregation happens on copies returned by the repository.
type AuditLog struct {
	Records ports.AuditRepository
	Logger  *slog.Logger
}

// ByTurn returns every record of a turn, optionally filtered by vote type
// (empty type means all), in sequence order.
func (q *AuditLog) ByTurn(ctx context.Context, turn int, voteType entities.VoteType) ([]entities.BallotRecord, error) {
	return q.Records.ListByTurn(ctx, turn, voteType)
}

// ByVoter returns a voter's full ballot history across turns.
func (q *AuditLog) ByVoter(ctx context.Context, voterID entities.PlayerID) ([]entities.BallotRecord, error) {
	return q.Records.ListByVoter(ctx, voterID)
}

// ByTarget returns every record aimed at a target across turns.
func (q *AuditLog) ByTarget(ctx context.Context, targetID entities.PlayerID) ([]entities.BallotRecord, error) {
	return q.Records.ListByTarget(ctx, targetID)
}

// Summarize builds the turn report: records grouped by vote type, each group
// deduplicated to every voter's latest record, then tallied. The latest
// record is the one with the highest sequence number; sequence order breaks
// timestamp collisions, so a re-registration in the same instant still wins.
func (q *AuditLog) Summarize(ctx context.Context, turn int) (entities.TurnReport, error) {
	records, err := q.Records.ListByTurn(ctx, turn, "")
	if err != nil {
		return entities.TurnReport{}, err
	}

	grouped := make(map[entities.VoteType][]entities.BallotRecord)
	for _, record := range records {
		grouped[record.Type] = append(grouped[record.Type], record)
	}

	report := entities.TurnReport{
		Turn:      turn,
		Summaries: make(map[entities.VoteType]entities.TurnSummary, len(grouped)),
	}
	for voteType, group := range grouped {
		latest := latestPerVoter(group)
		result := tally.CountRecords(latest)
		report.Summaries[voteType] = entities.TurnSummary{
			Type:     voteType,
			Votes:    latest,
			Counts:   result.Counts,
			MaxCount: result.MaxCount(),
			MaxVoted: result.MaxVoted,
			IsTie:    result.IsTie,
		}
	}

	// The runoff summary is the turn's final word when both rounds ran.
	for _, voteType := range []entities.VoteType{entities.VoteTypeRunoff, entities.VoteTypeExecution} {
		summary, ok := report.Summaries[voteType]
		if !ok {
			continue
		}
		if len(summary.MaxVoted) == 1 && !summary.IsTie {
			target := summary.MaxVoted[0]
			report.ExecutionTarget = &target
			report.Decided = true
		}
		break
	}

	application.ResolveLogger(q.Logger).Debug("turn summarized",
		"event", "vote_audit_summarized",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"turn", turn,
		"records", len(records),
		"types", len(report.Summaries),
		"decided", report.Decided,
	)
	return report, nil
}

// Analytics aggregates per-turn counters over the raw (non-deduplicated)
// record stream.
func (q *AuditLog) Analytics(ctx context.Context, turn int) (entities.VoteAnalytics, error) {
	records, err := q.Records.ListByTurn(ctx, turn, "")
	if err != nil {
		return entities.VoteAnalytics{}, err
	}

	analytics := entities.VoteAnalytics{Turn: turn, TotalBallots: len(records)}
	voters := make(map[entities.PlayerID]struct{})
	for _, record := range records {
		if record.Changed {
			analytics.ChangedBallots++
		}
		analytics.WeightedTotal += record.Weight
		voters[record.VoterID] = struct{}{}
	}
	analytics.UniqueVoters = len(voters)
	return analytics, nil
}

// latestPerVoter keeps only each voter's highest-sequence record, preserving
// the first-seen voter order of the input.
func latestPerVoter(records []entities.BallotRecord) []entities.BallotRecord {
	latest := make(map[entities.PlayerID]entities.BallotRecord, len(records))
	order := make([]entities.PlayerID, 0, len(records))
	for _, record := range records {
		current, seen := latest[record.VoterID]
		if !seen {
			order = append(order, record.VoterID)
			latest[record.VoterID] = record
			continue
		}
		if record.Seq > current.Seq {
			latest[record.VoterID] = record
		}
	}
	deduped := make([]entities.BallotRecord, 0, len(order))
	for _, voterID := range order {
		deduped = append(deduped, latest[voterID])
	}
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Seq < deduped[j].Seq })
	return deduped
}
