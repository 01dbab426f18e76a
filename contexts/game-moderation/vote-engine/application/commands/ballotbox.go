package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	application "gallows/contexts/game-moderation/vote-engine/application"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

// StartRoundInput scopes one vote collection cycle. Voters and Targets are
// bare ids; ports.PlayerIDs converts roster players when the caller holds
// full objects. AllowCustomTargets relaxes the target eligibility check for
// special rounds.
type StartRoundInput struct {
	Type               entities.VoteType
	Turn               int
	Policy             entities.VotingPolicy
	Voters             []entities.PlayerID
	Targets            []entities.PlayerID
	AllowCustomTargets bool
}

// RegisterResult reports a stored ballot plus replacement markers.
type RegisterResult struct {
	Ballot         entities.Ballot
	IsChange       bool
	PreviousTarget *entities.PlayerID
}

// ChangeResult reports a vote change. Unchanged is set when the new target
// equals the current one; no state moved and no change events should fire.
type ChangeResult struct {
	Ballot      entities.Ballot
	OldTargetID entities.PlayerID
	NewTargetID entities.PlayerID
	Unchanged   bool
}

type round struct {
	voteType           entities.VoteType
	turn               int
	policy             entities.VotingPolicy
	voters             map[entities.PlayerID]struct{}
	targets            map[entities.PlayerID]struct{}
	allowCustomTargets bool
	ballots            map[entities.PlayerID]*entities.Ballot
	order              []entities.PlayerID
}

// BallotBox owns the voter/target eligibility sets for the active round and
// the live voter-to-ballot map. Exactly one round is live at a time; starting
// a new round discards the previous live map (audit history is kept
// elsewhere). Each register/change call is independent: a failed validation
// never disturbs accepted ballots.
type BallotBox struct {
	Roster     ports.Roster
	Constraint ports.ConstraintChecker
	Clock      ports.Clock
	Logger     *slog.Logger

	round *round
}

// StartRound resets state for a fresh collection cycle. Emptiness of the
// voter/target lists is the facade's precondition to enforce, not ours.
func (b *BallotBox) StartRound(ctx context.Context, input StartRoundInput) error {
	logger := application.ResolveLogger(b.Logger)

	voters := make(map[entities.PlayerID]struct{}, len(input.Voters))
	for _, id := range input.Voters {
		voters[id] = struct{}{}
	}
	targets := make(map[entities.PlayerID]struct{}, len(input.Targets))
	for _, id := range input.Targets {
		targets[id] = struct{}{}
	}

	b.round = &round{
		voteType:           input.Type,
		turn:               input.Turn,
		policy:             input.Policy,
		voters:             voters,
		targets:            targets,
		allowCustomTargets: input.AllowCustomTargets,
		ballots:            make(map[entities.PlayerID]*entities.Ballot, len(voters)),
		order:              make([]entities.PlayerID, 0, len(voters)),
	}

	logger.Info("vote round opened",
		"event", "vote_round_opened",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"vote_type", string(input.Type),
		"turn", input.Turn,
		"voters", len(voters),
		"targets", len(targets),
	)
	return nil
}

// Register stores or replaces the voter's ballot after the full eligibility
// pipeline. Re-registration replaces the live ballot in place, keeping the
// voter's original position in ballot order (last write wins, first seen
// ordering).
func (b *BallotBox) Register(ctx context.Context, voterID, targetID entities.PlayerID) (RegisterResult, error) {
	logger := application.ResolveLogger(b.Logger)
	if b.round == nil {
		return RegisterResult{}, domainerrors.ErrNoActiveRound
	}

	voter, err := b.checkEligibility(ctx, voterID, targetID)
	if err != nil {
		logger.Warn("ballot rejected",
			"event", "vote_ballot_rejected",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"voter_id", int(voterID),
			"target_id", int(targetID),
			"turn", b.round.turn,
			"reason", err.Error(),
		)
		return RegisterResult{}, err
	}

	now := b.now()
	if existing, ok := b.round.ballots[voterID]; ok {
		previous := existing.TargetID
		if err := existing.ChangeTarget(targetID, now); err != nil {
			return RegisterResult{}, err
		}
		logger.Info("ballot replaced",
			"event", "vote_ballot_replaced",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"voter_id", int(voterID),
			"previous_target_id", int(previous),
			"target_id", int(targetID),
			"turn", b.round.turn,
		)
		return RegisterResult{Ballot: *existing, IsChange: true, PreviousTarget: &previous}, nil
	}

	weight := 1
	if voter.DoubleVote {
		weight = 2
	}
	ballot, err := entities.NewBallot(voterID, targetID, b.round.voteType, weight, b.round.turn, now)
	if err != nil {
		return RegisterResult{}, err
	}
	b.round.ballots[voterID] = &ballot
	b.round.order = append(b.round.order, voterID)

	logger.Info("ballot registered",
		"event", "vote_ballot_registered",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"voter_id", int(voterID),
		"target_id", int(targetID),
		"weight", weight,
		"vote_type", string(b.round.voteType),
		"turn", b.round.turn,
	)
	return RegisterResult{Ballot: ballot}, nil
}

// ChangeVote re-points an existing ballot. A same-target change is an
// explicit no-op so callers can skip change notifications.
func (b *BallotBox) ChangeVote(ctx context.Context, voterID, newTargetID entities.PlayerID) (ChangeResult, error) {
	logger := application.ResolveLogger(b.Logger)
	if b.round == nil {
		return ChangeResult{}, domainerrors.ErrNoActiveRound
	}
	existing, ok := b.round.ballots[voterID]
	if !ok {
		return ChangeResult{}, domainerrors.ErrNoPreviousVote
	}
	if existing.TargetID == newTargetID {
		return ChangeResult{
			Ballot:      *existing,
			OldTargetID: existing.TargetID,
			NewTargetID: newTargetID,
			Unchanged:   true,
		}, nil
	}

	if _, err := b.checkEligibility(ctx, voterID, newTargetID); err != nil {
		logger.Warn("vote change rejected",
			"event", "vote_change_rejected",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"voter_id", int(voterID),
			"target_id", int(newTargetID),
			"turn", b.round.turn,
			"reason", err.Error(),
		)
		return ChangeResult{}, err
	}

	oldTarget := existing.TargetID
	if err := existing.ChangeTarget(newTargetID, b.now()); err != nil {
		return ChangeResult{}, err
	}

	logger.Info("vote changed",
		"event", "vote_changed",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"voter_id", int(voterID),
		"old_target_id", int(oldTarget),
		"new_target_id", int(newTargetID),
		"turn", b.round.turn,
	)
	return ChangeResult{
		Ballot:      *existing,
		OldTargetID: oldTarget,
		NewTargetID: newTargetID,
	}, nil
}

func (b *BallotBox) checkEligibility(ctx context.Context, voterID, targetID entities.PlayerID) (ports.Player, error) {
	if _, ok := b.round.voters[voterID]; !ok {
		return ports.Player{}, domainerrors.ErrInvalidVoter
	}
	voter, found, err := b.Roster.GetPlayer(ctx, voterID)
	if err != nil {
		return ports.Player{}, err
	}
	if !found {
		return ports.Player{}, domainerrors.ErrInvalidVoter
	}
	if !voter.Alive {
		return ports.Player{}, domainerrors.ErrDeadVoter
	}

	if !targetID.Valid() {
		return ports.Player{}, domainerrors.ErrInvalidTarget
	}
	if _, found, err := b.Roster.GetPlayer(ctx, targetID); err != nil {
		return ports.Player{}, err
	} else if !found {
		return ports.Player{}, domainerrors.ErrInvalidTarget
	}
	if _, ok := b.round.targets[targetID]; !ok && !b.round.allowCustomTargets {
		return ports.Player{}, domainerrors.ErrIneligibleTarget
	}
	if voterID == targetID && !b.round.policy.AllowSelfVote {
		return ports.Player{}, domainerrors.ErrSelfVoteForbidden
	}

	if b.Constraint != nil {
		verdict, err := b.Constraint.CheckVoteConstraint(ctx, voter, targetID)
		if err != nil {
			return ports.Player{}, err
		}
		if !verdict.Valid {
			return ports.Player{}, fmt.Errorf("%w: %s", domainerrors.ErrRoleConstraintViolation, verdict.Reason)
		}
	}
	return voter, nil
}

func (b *BallotBox) now() time.Time {
	if b.Clock != nil {
		return b.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// HasVoted reports whether the voter holds a live ballot this round.
func (b *BallotBox) HasVoted(voterID entities.PlayerID) bool {
	if b.round == nil {
		return false
	}
	_, ok := b.round.ballots[voterID]
	return ok
}

// GetVote returns a copy of the voter's live ballot.
func (b *BallotBox) GetVote(voterID entities.PlayerID) (entities.Ballot, bool) {
	if b.round == nil {
		return entities.Ballot{}, false
	}
	ballot, ok := b.round.ballots[voterID]
	if !ok {
		return entities.Ballot{}, false
	}
	return *ballot, true
}

// IsValidTarget reports target eligibility for the active round.
func (b *BallotBox) IsValidTarget(targetID entities.PlayerID) bool {
	if b.round == nil {
		return false
	}
	if b.round.allowCustomTargets {
		return targetID.Valid()
	}
	_, ok := b.round.targets[targetID]
	return ok
}

// IsRoundComplete reports whether every eligible voter has voted.
func (b *BallotBox) IsRoundComplete() bool {
	if b.round == nil {
		return false
	}
	return len(b.round.ballots) >= len(b.round.voters)
}

// RemainingVoters lists eligible voters without a live ballot, in no
// particular order.
func (b *BallotBox) RemainingVoters() []entities.PlayerID {
	if b.round == nil {
		return nil
	}
	remaining := make([]entities.PlayerID, 0, len(b.round.voters))
	for id := range b.round.voters {
		if _, voted := b.round.ballots[id]; !voted {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

func (b *BallotBox) TotalVoters() int {
	if b.round == nil {
		return 0
	}
	return len(b.round.voters)
}

func (b *BallotBox) SubmittedCount() int {
	if b.round == nil {
		return 0
	}
	return len(b.round.ballots)
}

// Ballots returns copies of the live ballots in first-registration order.
func (b *BallotBox) Ballots() []entities.Ballot {
	if b.round == nil {
		return nil
	}
	ballots := make([]entities.Ballot, 0, len(b.round.order))
	for _, voterID := range b.round.order {
		if ballot, ok := b.round.ballots[voterID]; ok {
			ballots = append(ballots, *ballot)
		}
	}
	return ballots
}

// RoundType returns the active round's vote type, or false when no round is
// open.
func (b *BallotBox) RoundType() (entities.VoteType, bool) {
	if b.round == nil {
		return "", false
	}
	return b.round.voteType, true
}

// RoundTurn returns the active round's turn number.
func (b *BallotBox) RoundTurn() (int, bool) {
	if b.round == nil {
		return 0, false
	}
	return b.round.turn, true
}

// RoundPolicy returns the policy the active round was opened with.
func (b *BallotBox) RoundPolicy() (entities.VotingPolicy, bool) {
	if b.round == nil {
		return entities.VotingPolicy{}, false
	}
	return b.round.policy, true
}

// TargetIDs lists the round's eligible targets in unspecified order.
func (b *BallotBox) TargetIDs() []entities.PlayerID {
	if b.round == nil {
		return nil
	}
	ids := make([]entities.PlayerID, 0, len(b.round.targets))
	for id := range b.round.targets {
		ids = append(ids, id)
	}
	return ids
}

// VoterIDs lists the round's eligible voters in unspecified order.
func (b *BallotBox) VoterIDs() []entities.PlayerID {
	if b.round == nil {
		return nil
	}
	ids := make([]entities.PlayerID, 0, len(b.round.voters))
	for id := range b.round.voters {
		ids = append(ids, id)
	}
	return ids
}
