package tally

import (
	"testing"
	"time"

	"gallows/contexts/game-moderation/vote-engine/domain/entities"
)

func ballot(voter, target entities.PlayerID, weight int) entities.Ballot {
	return entities.Ballot{
		VoterID:  voter,
		TargetID: target,
		Type:     entities.VoteTypeExecution,
		Weight:   weight,
		Turn:     1,
		CastAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCountWeightedSums(t *testing.T) {
	// Voters 1 and 2 carry weight 1, voter 4 carries a double vote. All
	// point at player 3: the count equals the weight sum, not the voter
	// count.
	ballots := []entities.Ballot{
		ballot(1, 3, 1),
		ballot(2, 3, 1),
		ballot(4, 3, 2),
	}
	result := Count(ballots)
	if got := result.Counts[3]; got != 4 {
		t.Fatalf("expected weighted count 4 for target 3, got %d", got)
	}
	if result.IsTie {
		t.Fatalf("unexpected tie: %+v", result)
	}
	if len(result.MaxVoted) != 1 || result.MaxVoted[0] != 3 {
		t.Fatalf("expected single leader 3, got %v", result.MaxVoted)
	}
	if result.MaxCount() != 4 {
		t.Fatalf("expected max count 4, got %d", result.MaxCount())
	}
}

func TestCountTieFirstSeenOrder(t *testing.T) {
	ballots := []entities.Ballot{
		ballot(1, 5, 1),
		ballot(2, 3, 1),
		ballot(4, 5, 1),
		ballot(6, 3, 1),
	}
	result := Count(ballots)
	if !result.IsTie {
		t.Fatalf("expected tie, got %+v", result)
	}
	if len(result.MaxVoted) != 2 || result.MaxVoted[0] != 5 || result.MaxVoted[1] != 3 {
		t.Fatalf("expected first-seen order [5 3], got %v", result.MaxVoted)
	}
	isTie, tied := CheckForTie(result)
	if !isTie || len(tied) != 2 {
		t.Fatalf("check for tie disagrees with result: %v %v", isTie, tied)
	}
}

func TestCountZeroBallots(t *testing.T) {
	result := Count(nil)
	if result.IsTie {
		t.Fatalf("empty tally must not be a tie")
	}
	if len(result.MaxVoted) != 0 {
		t.Fatalf("empty tally must have no leaders, got %v", result.MaxVoted)
	}
	if result.MaxCount() != 0 {
		t.Fatalf("expected max count 0, got %d", result.MaxCount())
	}
	if isTie, _ := CheckForTie(result); isTie {
		t.Fatalf("empty tally reported as tie")
	}
}

func TestCountIsIdempotent(t *testing.T) {
	ballots := []entities.Ballot{
		ballot(1, 2, 1),
		ballot(3, 2, 2),
		ballot(4, 5, 1),
	}
	first := Count(ballots)
	second := Count(ballots)
	if len(first.Counts) != len(second.Counts) {
		t.Fatalf("recount changed counts: %v vs %v", first.Counts, second.Counts)
	}
	for target, count := range first.Counts {
		if second.Counts[target] != count {
			t.Fatalf("recount changed count for %d: %d vs %d", target, count, second.Counts[target])
		}
	}
	if len(first.MaxVoted) != len(second.MaxVoted) {
		t.Fatalf("recount changed leaders: %v vs %v", first.MaxVoted, second.MaxVoted)
	}
}

func TestCountRecordsNormalizesLegacyWeights(t *testing.T) {
	records := []entities.BallotRecord{
		{VoterID: 1, TargetID: 2, Type: entities.VoteTypeExecution, Weight: 0, Turn: 1},
		{VoterID: 3, TargetID: 2, Type: entities.VoteTypeExecution, Weight: 2, Turn: 1},
	}
	result := CountRecords(records)
	if got := result.Counts[2]; got != 3 {
		t.Fatalf("expected normalized count 3, got %d", got)
	}
}

func TestCountForAndVotersOf(t *testing.T) {
	ballots := []entities.Ballot{
		ballot(1, 2, 1),
		ballot(3, 2, 2),
		ballot(4, 5, 1),
	}
	if got := CountFor(ballots, 2); got != 3 {
		t.Fatalf("expected count 3 for target 2, got %d", got)
	}
	voters := VotersOf(ballots, 2)
	if len(voters) != 2 || voters[0] != 1 || voters[1] != 3 {
		t.Fatalf("expected voters [1 3], got %v", voters)
	}
	if got := CountFor(ballots, 9); got != 0 {
		t.Fatalf("expected 0 for unvoted target, got %d", got)
	}
}
