package entities

import (
	"time"

	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
)

// PlayerID identifies a player in the externally-owned roster. Valid IDs are
// non-negative.
type PlayerID int

func (id PlayerID) Valid() bool {
	return id >= 0
}

type VoteType string

const (
	VoteTypeExecution VoteType = "execution"
	VoteTypeRunoff    VoteType = "runoff"
	VoteTypeSpecial   VoteType = "special"
)

func (t VoteType) Valid() bool {
	switch t {
	case VoteTypeExecution, VoteTypeRunoff, VoteTypeSpecial:
		return true
	default:
		return false
	}
}

// Ballot is one voter's current choice of target within a round. Voter, type,
// weight, and turn are fixed at creation; only the target (and its cast
// timestamp) may move, through ChangeTarget.
type Ballot struct {
	VoterID  PlayerID
	TargetID PlayerID
	Type     VoteType
	Weight   int
	Turn     int
	CastAt   time.Time
}

// NewBallot builds a validated ballot. Weight is resolved once by the caller
// (from the voter's role/status) and carried immutably from here on.
func NewBallot(voterID, targetID PlayerID, voteType VoteType, weight, turn int, castAt time.Time) (Ballot, error) {
	if !voterID.Valid() || !targetID.Valid() {
		return Ballot{}, domainerrors.ErrInvalidBallot
	}
	if !voteType.Valid() {
		return Ballot{}, domainerrors.ErrInvalidBallot
	}
	if weight < 1 {
		return Ballot{}, domainerrors.ErrInvalidBallot
	}
	if turn < 1 {
		return Ballot{}, domainerrors.ErrInvalidBallot
	}
	return Ballot{
		VoterID:  voterID,
		TargetID: targetID,
		Type:     voteType,
		Weight:   weight,
		Turn:     turn,
		CastAt:   castAt.UTC(),
	}, nil
}

// ChangeTarget re-points the ballot and refreshes its timestamp. Voter, type,
// weight, and turn are untouched. Same-target no-op detection belongs to the
// caller.
func (b *Ballot) ChangeTarget(newTargetID PlayerID, at time.Time) error {
	if !newTargetID.Valid() {
		return domainerrors.ErrInvalidBallot
	}
	b.TargetID = newTargetID
	b.CastAt = at.UTC()
	return nil
}

// Record snapshots the ballot's current state for the audit log. Seq is
// assigned by the audit store in strict append order.
func (b Ballot) Record() BallotRecord {
	return BallotRecord{
		VoterID:  b.VoterID,
		TargetID: b.TargetID,
		Type:     b.Type,
		Weight:   b.Weight,
		Turn:     b.Turn,
		CastAt:   b.CastAt,
	}
}
