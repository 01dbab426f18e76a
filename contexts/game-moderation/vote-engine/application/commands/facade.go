package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	application "gallows/contexts/game-moderation/vote-engine/application"
	"gallows/contexts/game-moderation/vote-engine/application/tally"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"

	"github.com/google/uuid"
)

// PhaseDay is the scheduler phase during which execution voting is open.
const PhaseDay = "day"

// Stage tracks the facade's position in the round lifecycle.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageCollecting Stage = "collecting"
	StageRunoff     Stage = "runoff"
)

// RoundOutcome reports the result of finishing a round: either the runoff it
// opened or the execution decision it applied.
type RoundOutcome struct {
	Type        entities.VoteType
	Turn        int
	Tally       entities.TallyResult
	NeedsRunoff bool
	Runoff      *RunoffOpening
	Decision    entities.ExecutionDecision
	Execution   *ExecutionOutcome
}

// VoteFacade is the single entry point other subsystems call. It wires the
// round lifecycle to phase changes, records every ballot into the audit log,
// and emits the round-boundary notification set.
type VoteFacade struct {
	Box      *BallotBox
	Runoff   *RunoffCoordinator
	Resolver *ExecutionResolver
	Audit    ports.AuditRepository
	Roster   ports.Roster
	Phases   ports.PhaseSource
	Outbox   ports.OutboxWriter
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Rand     ports.RandSource
	Policy   entities.VotingPolicy
	Logger   *slog.Logger

	stage Stage
}

// Stage returns the facade's current lifecycle stage.
func (f *VoteFacade) Stage() Stage {
	if f.stage == "" {
		return StageIdle
	}
	return f.stage
}

// StartVoting opens the turn's execution round over all alive players. It is
// the precondition gate for the round: day phase, non-empty voters and
// targets.
func (f *VoteFacade) StartVoting(ctx context.Context) error {
	logger := application.ResolveLogger(f.Logger)

	phase, err := f.Phases.CurrentPhase(ctx)
	if err != nil {
		return err
	}
	if phase != PhaseDay {
		return fmt.Errorf("%w: %s", domainerrors.ErrInvalidPhase, phase)
	}
	turn, err := f.Phases.CurrentTurn(ctx)
	if err != nil {
		return err
	}

	alive, err := f.Roster.ListAlive(ctx)
	if err != nil {
		return err
	}
	voters := ports.PlayerIDs(alive)
	if len(voters) == 0 {
		return domainerrors.ErrNoVoters
	}
	targets := ports.PlayerIDs(alive)
	if len(targets) == 0 {
		return domainerrors.ErrNoTargets
	}

	f.Runoff.ResetAttempts()
	f.Runoff.SetMaxAttempts(f.Policy.MaxRunoffAttempts)
	if err := f.Box.StartRound(ctx, StartRoundInput{
		Type:    entities.VoteTypeExecution,
		Turn:    turn,
		Policy:  f.Policy,
		Voters:  voters,
		Targets: targets,
	}); err != nil {
		return err
	}
	f.stage = StageCollecting

	f.emit(ctx, topicVoteStart, turn, map[string]any{
		"type":    string(entities.VoteTypeExecution),
		"turn":    turn,
		"voters":  idsPayload(voters),
		"targets": idsPayload(targets),
	})
	logger.Info("voting started",
		"event", "vote_facade_started",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"turn", turn,
		"voters", len(voters),
	)
	return nil
}

// RegisterVote registers or replaces a ballot, records it in the audit log,
// and emits register notifications. Validation failures return validation
// sentinels and leave every previously accepted ballot untouched.
func (f *VoteFacade) RegisterVote(ctx context.Context, voterID, targetID entities.PlayerID) (RegisterResult, error) {
	if f.Stage() == StageIdle {
		return RegisterResult{}, domainerrors.ErrNoActiveRound
	}
	turn, _ := f.Box.RoundTurn()

	f.emit(ctx, topicVoteRegisterBefore, turn, map[string]any{
		"voter_id":  int(voterID),
		"target_id": int(targetID),
		"turn":      turn,
	})

	result, err := f.Box.Register(ctx, voterID, targetID)
	if err != nil {
		return RegisterResult{}, err
	}

	f.record(ctx, result.Ballot, result.IsChange)

	after := map[string]any{
		"ballot":    ballotPayload(result.Ballot),
		"is_change": result.IsChange,
	}
	if result.PreviousTarget != nil {
		after["previous_target"] = int(*result.PreviousTarget)
	}
	f.emit(ctx, topicVoteRegisterAfter, turn, after)
	return result, nil
}

// ChangeVote re-points an existing ballot. A same-target change returns an
// unchanged result without mutating state or emitting change notifications.
func (f *VoteFacade) ChangeVote(ctx context.Context, voterID, newTargetID entities.PlayerID) (ChangeResult, error) {
	if f.Stage() == StageIdle {
		return ChangeResult{}, domainerrors.ErrNoActiveRound
	}
	turn, _ := f.Box.RoundTurn()

	result, err := f.Box.ChangeVote(ctx, voterID, newTargetID)
	if err != nil {
		return ChangeResult{}, err
	}
	if result.Unchanged {
		return result, nil
	}

	f.emit(ctx, topicVoteChangeBefore, turn, map[string]any{
		"voter_id":      int(voterID),
		"old_target_id": int(result.OldTargetID),
		"new_target_id": int(result.NewTargetID),
	})
	f.record(ctx, result.Ballot, true)
	f.emit(ctx, topicVoteChangeAfter, turn, map[string]any{
		"ballot": ballotPayload(result.Ballot),
	})
	return result, nil
}

// FinishVoting closes the execution round: tally, decide, and either open a
// runoff or apply the outcome. The scheduler calls this when the day phase
// ends; the engine never waits for stragglers.
func (f *VoteFacade) FinishVoting(ctx context.Context) (RoundOutcome, error) {
	if f.Stage() != StageCollecting {
		return RoundOutcome{}, domainerrors.ErrNoActiveRound
	}
	return f.finishRound(ctx, f.Policy.ExecutionRule)
}

// FinishRunoff closes the current runoff round. Repeated ties reopen further
// runoffs until the attempt bound forces a terminal resolution via the
// runoff tie rule.
func (f *VoteFacade) FinishRunoff(ctx context.Context) (RoundOutcome, error) {
	if f.Stage() != StageRunoff {
		return RoundOutcome{}, domainerrors.ErrNoActiveRound
	}
	f.Runoff.MarkTallied()
	return f.finishRound(ctx, f.Policy.RunoffTieRule)
}

func (f *VoteFacade) finishRound(ctx context.Context, rule entities.Rule) (RoundOutcome, error) {
	logger := application.ResolveLogger(f.Logger)
	ballots := f.Box.Ballots()
	voteType, _ := f.Box.RoundType()
	turn, _ := f.Box.RoundTurn()

	f.emit(ctx, topicVoteCountBefore, turn, map[string]any{
		"type":    string(voteType),
		"turn":    turn,
		"ballots": ballotsPayload(ballots),
	})

	result := tally.Count(ballots)
	isTie, tied := tally.CheckForTie(result)
	decision := f.Resolver.Decide(result, rule, f.Rand)
	willRunoff := decision.Kind == entities.DecisionRunoff &&
		f.Runoff.Attempts() < f.Runoff.effectiveMaxAttempts()

	f.emit(ctx, topicVoteCountAfter, turn, map[string]any{
		"type":         string(voteType),
		"turn":         turn,
		"ballots":      ballotsPayload(ballots),
		"counts":       countsPayload(result.Counts),
		"max_voted":    idsPayload(result.MaxVoted),
		"is_tie":       isTie,
		"needs_runoff": willRunoff,
	})

	outcome := RoundOutcome{
		Type:     voteType,
		Turn:     turn,
		Tally:    result,
		Decision: decision,
	}

	if willRunoff {
		opening, err := f.Runoff.StartRunoff(ctx, tied, f.Box, turn, f.Policy)
		if err != nil {
			return RoundOutcome{}, err
		}
		f.stage = StageRunoff
		outcome.NeedsRunoff = true
		outcome.Runoff = &opening
		f.emit(ctx, topicVoteRunoffStart, turn, map[string]any{
			"turn":       turn,
			"voters":     idsPayload(opening.Voters),
			"candidates": idsPayload(opening.Candidates),
		})
		logger.Info("round escalated to runoff",
			"event", "vote_facade_runoff_opened",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"turn", turn,
			"attempt", f.Runoff.Attempts(),
			"candidates", len(opening.Candidates),
		)
		return outcome, nil
	}

	// The attempt bound (or a non-looping rule) forces a terminal decision.
	if decision.Kind == entities.DecisionRunoff {
		decision = f.Runoff.ResolveTie(tied, f.Policy.RunoffTieRule)
		outcome.Decision = decision
	}

	if voteType == entities.VoteTypeRunoff {
		runoffResult := map[string]any{
			"turn":      turn,
			"counts":    countsPayload(result.Counts),
			"max_voted": idsPayload(result.MaxVoted),
			"is_tie":    isTie,
		}
		if decision.Kind == entities.DecisionExecute {
			runoffResult["execution_target"] = int(decision.Target)
		}
		f.emit(ctx, topicVoteRunoffResult, turn, runoffResult)
	}

	execution, err := f.Resolver.Apply(ctx, decision, f.Policy, turn)
	if err != nil {
		return RoundOutcome{}, err
	}
	outcome.Execution = &execution

	f.Runoff.MarkResolved()
	f.stage = StageIdle

	logger.Info("round finished",
		"event", "vote_facade_round_finished",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"vote_type", string(voteType),
		"turn", turn,
		"is_tie", isTie,
		"decision", string(decision.Kind),
	)
	return outcome, nil
}

// ExecuteTarget applies a moderator-directed execution outside the tally
// path. Preconditions (unknown player, already dead) fail before any
// mutation.
func (f *VoteFacade) ExecuteTarget(ctx context.Context, targetID entities.PlayerID) (ExecutionOutcome, error) {
	turn, err := f.Phases.CurrentTurn(ctx)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	return f.Resolver.Apply(ctx, entities.ExecuteDecision(targetID), f.Policy, turn)
}

// record appends the ballot snapshot to the audit log. Audit failures are
// logged and swallowed: the live round holds the authoritative ballot and a
// history hiccup must not reject the vote.
func (f *VoteFacade) record(ctx context.Context, ballot entities.Ballot, changed bool) {
	if f.Audit == nil {
		return
	}
	record := ballot.Record()
	record.Changed = changed
	if _, err := f.Audit.AppendBallot(ctx, record); err != nil {
		application.ResolveLogger(f.Logger).Error("audit append failed",
			"event", "vote_audit_append_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"voter_id", int(ballot.VoterID),
			"turn", ballot.Turn,
			"error", err.Error(),
		)
	}
}

func (f *VoteFacade) emit(ctx context.Context, eventType string, turn int, data map[string]any) {
	if f.Outbox == nil {
		return
	}
	logger := application.ResolveLogger(f.Logger)
	eventID, err := f.newID(ctx)
	if err != nil {
		logger.Error("vote event id generation failed",
			"event", "vote_event_id_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return
	}
	envelope, err := newVoteEnvelope(eventID, eventType, turn, f.now(), data)
	if err != nil {
		logger.Error("vote event encode failed",
			"event", "vote_event_encode_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return
	}
	if err := f.Outbox.AppendOutbox(ctx, envelope); err != nil {
		logger.Error("vote event append failed",
			"event", "vote_event_append_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

func (f *VoteFacade) now() time.Time {
	if f.Clock != nil {
		return f.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (f *VoteFacade) newID(ctx context.Context) (string, error) {
	if f.IDGen == nil {
		return uuid.NewString(), nil
	}
	return f.IDGen.NewID(ctx)
}

func ballotPayload(ballot entities.Ballot) map[string]any {
	return map[string]any{
		"voter_id":  int(ballot.VoterID),
		"target_id": int(ballot.TargetID),
		"type":      string(ballot.Type),
		"weight":    ballot.Weight,
		"turn":      ballot.Turn,
		"cast_at":   ballot.CastAt.Format(time.RFC3339Nano),
	}
}

func ballotsPayload(ballots []entities.Ballot) []map[string]any {
	payload := make([]map[string]any, 0, len(ballots))
	for _, ballot := range ballots {
		payload = append(payload, ballotPayload(ballot))
	}
	return payload
}

func countsPayload(counts map[entities.PlayerID]int) map[string]int {
	payload := make(map[string]int, len(counts))
	for target, count := range counts {
		payload[strconv.Itoa(int(target))] = count
	}
	return payload
}

func idsPayload(ids []entities.PlayerID) []int {
	payload := make([]int, 0, len(ids))
	for _, id := range ids {
		payload = append(payload, int(id))
	}
	return payload
}
