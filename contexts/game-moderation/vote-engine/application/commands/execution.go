package commands

import (
	"context"
	"log/slog"
	"time"

	application "gallows/contexts/game-moderation/vote-engine/application"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"

	"github.com/google/uuid"
)

const killCauseExecution = "execution"

// ExecutedPlayer reports one executed player. Role is attached only when the
// reveal-role-on-death regulation is enabled.
type ExecutedPlayer struct {
	ID   entities.PlayerID
	Name string
	Role string
}

// ExecutionOutcome reports what Apply did. The all-candidates path is
// best-effort: Skipped lists candidates that were already dead.
type ExecutionOutcome struct {
	Executed []ExecutedPlayer
	Skipped  []entities.PlayerID
	None     bool
	Reason   string
}

// ExecutionResolver maps a tally plus policy onto an execution decision and
// applies it against the external roster. Apply is the engine's only write
// into external state.
type ExecutionResolver struct {
	Roster ports.Roster
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

// Decide dispatches a tally result on the execution rule. A non-tied tally
// always executes the leader. Unrecognized rules fall back to runoff so a
// misconfigured regulation never executes anyone without a second look.
func (r *ExecutionResolver) Decide(
	result entities.TallyResult,
	rule entities.Rule,
	rand ports.RandSource,
) entities.ExecutionDecision {
	if len(result.MaxVoted) == 0 {
		return entities.NoExecutionDecision()
	}
	if !result.IsTie {
		return entities.ExecuteDecision(result.MaxVoted[0])
	}
	switch rule {
	case entities.RuleRandom:
		return entities.ExecuteDecision(result.MaxVoted[pickIndex(rand, len(result.MaxVoted))])
	case entities.RuleNoExecution:
		return entities.NoExecutionDecision()
	case entities.RuleAllExecution:
		return entities.ExecuteAllDecision(result.MaxVoted)
	default:
		return entities.RunoffDecision(result.MaxVoted)
	}
}

// Apply performs the decided execution. The single-target path fails before
// any mutation; the all-candidates path re-filters by current aliveness and
// skips already-dead candidates rather than failing the batch.
func (r *ExecutionResolver) Apply(
	ctx context.Context,
	decision entities.ExecutionDecision,
	policy entities.VotingPolicy,
	turn int,
) (ExecutionOutcome, error) {
	logger := application.ResolveLogger(r.Logger)
	switch decision.Kind {
	case entities.DecisionNone:
		r.emit(ctx, topicExecutionNone, turn, map[string]any{
			"turn":   turn,
			"reason": "no_execution",
		})
		logger.Info("execution skipped",
			"event", "execution_skipped",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"turn", turn,
		)
		return ExecutionOutcome{None: true, Reason: "no_execution"}, nil

	case entities.DecisionExecuteAll:
		return r.applyAll(ctx, decision.Candidates, policy, turn)

	case entities.DecisionExecute:
		return r.applyOne(ctx, decision.Target, policy, turn)

	default:
		return ExecutionOutcome{}, domainerrors.ErrUndecided
	}
}

func (r *ExecutionResolver) applyOne(
	ctx context.Context,
	targetID entities.PlayerID,
	policy entities.VotingPolicy,
	turn int,
) (ExecutionOutcome, error) {
	logger := application.ResolveLogger(r.Logger)

	player, found, err := r.Roster.GetPlayer(ctx, targetID)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	if !found {
		return ExecutionOutcome{}, domainerrors.ErrInvalidTarget
	}
	if !player.Alive {
		return ExecutionOutcome{}, domainerrors.ErrAlreadyDead
	}

	r.emit(ctx, topicExecutionBefore, turn, map[string]any{
		"target_id":   int(targetID),
		"player_name": player.Name,
		"turn":        turn,
	})

	if err := r.Roster.Kill(ctx, targetID, killCauseExecution); err != nil {
		return ExecutionOutcome{}, err
	}

	executed := ExecutedPlayer{ID: targetID, Name: player.Name}
	after := map[string]any{
		"target_id":   int(targetID),
		"player_name": player.Name,
		"turn":        turn,
	}
	if policy.RevealRoleOnDeath {
		executed.Role = player.Role
		after["role"] = player.Role
	}
	r.emit(ctx, topicExecutionAfter, turn, after)

	logger.Info("player executed",
		"event", "execution_applied",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"target_id", int(targetID),
		"turn", turn,
		"reveal_role", policy.RevealRoleOnDeath,
	)
	return ExecutionOutcome{Executed: []ExecutedPlayer{executed}}, nil
}

func (r *ExecutionResolver) applyAll(
	ctx context.Context,
	candidates []entities.PlayerID,
	policy entities.VotingPolicy,
	turn int,
) (ExecutionOutcome, error) {
	logger := application.ResolveLogger(r.Logger)
	if len(candidates) == 0 {
		return ExecutionOutcome{}, domainerrors.ErrNoCandidates
	}

	targets := make([]int, 0, len(candidates))
	for _, id := range candidates {
		targets = append(targets, int(id))
	}
	r.emit(ctx, topicExecutionAllBefore, turn, map[string]any{
		"target_ids": targets,
		"turn":       turn,
	})

	outcome := ExecutionOutcome{}
	for _, id := range candidates {
		player, found, err := r.Roster.GetPlayer(ctx, id)
		if err != nil {
			return outcome, err
		}
		if !found || !player.Alive {
			// Candidates may have died between rounds; the batch stays
			// best-effort.
			outcome.Skipped = append(outcome.Skipped, id)
			continue
		}
		if err := r.Roster.Kill(ctx, id, killCauseExecution); err != nil {
			return outcome, err
		}
		executed := ExecutedPlayer{ID: id, Name: player.Name}
		if policy.RevealRoleOnDeath {
			executed.Role = player.Role
		}
		outcome.Executed = append(outcome.Executed, executed)
	}

	killed := make([]int, 0, len(outcome.Executed))
	for _, player := range outcome.Executed {
		killed = append(killed, int(player.ID))
	}
	r.emit(ctx, topicExecutionAllAfter, turn, map[string]any{
		"target_ids": killed,
		"turn":       turn,
		"count":      len(killed),
	})

	logger.Info("tied candidates executed",
		"event", "execution_all_applied",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"turn", turn,
		"executed", len(outcome.Executed),
		"skipped", len(outcome.Skipped),
	)
	return outcome, nil
}

// emit appends a notification to the outbox. Outbox wiring is optional for
// pure read/test paths, so nil is a no-op; append failures are logged, not
// propagated, because the execution itself already happened.
func (r *ExecutionResolver) emit(ctx context.Context, eventType string, turn int, data map[string]any) {
	if r.Outbox == nil {
		return
	}
	logger := application.ResolveLogger(r.Logger)
	eventID, err := r.newID(ctx)
	if err != nil {
		logger.Error("execution event id generation failed",
			"event", "execution_event_id_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return
	}
	envelope, err := newVoteEnvelope(eventID, eventType, turn, r.now(), data)
	if err != nil {
		logger.Error("execution event encode failed",
			"event", "execution_event_encode_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return
	}
	if err := r.Outbox.AppendOutbox(ctx, envelope); err != nil {
		logger.Error("execution event append failed",
			"event", "execution_event_append_failed",
			"module", "game-moderation/vote-engine",
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

func (r *ExecutionResolver) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *ExecutionResolver) newID(ctx context.Context) (string, error) {
	if r.IDGen == nil {
		return uuid.NewString(), nil
	}
	return r.IDGen.NewID(ctx)
}

func pickIndex(rand ports.RandSource, n int) int {
	if n <= 1 || rand == nil {
		return 0
	}
	return rand.Intn(n)
}
