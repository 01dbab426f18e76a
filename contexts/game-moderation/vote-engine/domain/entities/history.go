package entities

import "time"

// BallotRecord is an immutable audit snapshot of a ballot at the moment it
// was registered or changed. A vote change appends a new record; the prior
// one is never mutated, so the full sequence of a voter's choices within a
// turn is preserved.
type BallotRecord struct {
	Seq      uint64
	VoterID  PlayerID
	TargetID PlayerID
	Type     VoteType
	Weight   int
	Turn     int
	CastAt   time.Time
	Changed  bool
}

// TurnSummary aggregates one vote type within a turn, after deduplicating to
// each voter's latest record.
type TurnSummary struct {
	Type     VoteType
	Votes    []BallotRecord
	Counts   map[PlayerID]int
	MaxCount int
	MaxVoted []PlayerID
	IsTie    bool
}

// TurnReport is the cross-type summary of a turn. ExecutionTarget prefers the
// runoff summary over the execution summary when both exist: the runoff is
// the authoritative final word for the turn.
type TurnReport struct {
	Turn            int
	Summaries       map[VoteType]TurnSummary
	ExecutionTarget *PlayerID
	Decided         bool
}

// VoteAnalytics carries per-turn counters for moderator dashboards.
type VoteAnalytics struct {
	Turn           int
	TotalBallots   int
	ChangedBallots int
	UniqueVoters   int
	WeightedTotal  int
}
