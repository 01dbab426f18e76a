// Package tally implements weighted ballot counting as pure functions: no
// state, no side effects, identical results for identical input.
package tally

import "gallows/contexts/game-moderation/vote-engine/domain/entities"

// Count accumulates weighted counts per target and collects every target
// sharing the maximum weight-sum into MaxVoted, in first-seen ballot order.
// Zero ballots yield empty counts and no tie.
func Count(ballots []entities.Ballot) entities.TallyResult {
	counts := make(map[entities.PlayerID]int, len(ballots))
	order := make([]entities.PlayerID, 0, len(ballots))
	for _, ballot := range ballots {
		if _, seen := counts[ballot.TargetID]; !seen {
			order = append(order, ballot.TargetID)
		}
		counts[ballot.TargetID] += normalizeWeight(ballot.Weight)
	}

	max := 0
	for _, target := range order {
		if counts[target] > max {
			max = counts[target]
		}
	}

	maxVoted := make([]entities.PlayerID, 0, len(order))
	for _, target := range order {
		if counts[target] == max && max > 0 {
			maxVoted = append(maxVoted, target)
		}
	}

	return entities.TallyResult{
		Counts:   counts,
		MaxVoted: maxVoted,
		IsTie:    len(maxVoted) > 1,
	}
}

// CountRecords tallies audit snapshots the same way Count tallies live
// ballots, so replayed history and live rounds report identical numbers.
func CountRecords(records []entities.BallotRecord) entities.TallyResult {
	ballots := make([]entities.Ballot, 0, len(records))
	for _, record := range records {
		ballots = append(ballots, entities.Ballot{
			VoterID:  record.VoterID,
			TargetID: record.TargetID,
			Type:     record.Type,
			Weight:   record.Weight,
			Turn:     record.Turn,
			CastAt:   record.CastAt,
		})
	}
	return Count(ballots)
}

// CheckForTie reports whether the tally is tied and which targets share the
// maximum.
func CheckForTie(result entities.TallyResult) (bool, []entities.PlayerID) {
	if len(result.MaxVoted) < 2 {
		return false, nil
	}
	tied := make([]entities.PlayerID, len(result.MaxVoted))
	copy(tied, result.MaxVoted)
	return true, tied
}

// CountFor returns the weighted count for a single target. Display helper;
// the decision path goes through Count.
func CountFor(ballots []entities.Ballot, targetID entities.PlayerID) int {
	total := 0
	for _, ballot := range ballots {
		if ballot.TargetID == targetID {
			total += normalizeWeight(ballot.Weight)
		}
	}
	return total
}

// VotersOf lists the voters currently pointing at a target, in ballot order.
func VotersOf(ballots []entities.Ballot, targetID entities.PlayerID) []entities.PlayerID {
	voters := make([]entities.PlayerID, 0)
	for _, ballot := range ballots {
		if ballot.TargetID == targetID {
			voters = append(voters, ballot.VoterID)
		}
	}
	return voters
}

// normalizeWeight keeps serialized records (which may predate typed weights)
// tallying identically to live ballots.
func normalizeWeight(weight int) int {
	if weight < 1 {
		return 1
	}
	return weight
}
