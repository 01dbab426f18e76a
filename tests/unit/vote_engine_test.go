package unit

import (
	"context"
	"errors"
	"testing"

	voteengine "gallows/contexts/game-moderation/vote-engine"
	"gallows/contexts/game-moderation/vote-engine/adapters/memory"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

func villageRoster() *memory.Roster {
	return memory.NewRoster([]ports.Player{
		{ID: 1, Name: "ada", Role: "villager", Alive: true},
		{ID: 2, Name: "brin", Role: "seer", Alive: true},
		{ID: 3, Name: "cole", Role: "werewolf", Alive: true},
		{ID: 4, Name: "dina", Role: "elder", Alive: true, DoubleVote: true},
	})
}

func TestVoteEngineFullDayCycle(t *testing.T) {
	roster := villageRoster()
	module := voteengine.NewInMemoryModule(roster, memory.NewPhases(1, "day"), entities.VotingPolicy{
		ExecutionRule:     entities.RuleRunoff,
		RunoffTieRule:     entities.RuleRandom,
		RevealRoleOnDeath: true,
	}, nil)
	ctx := context.Background()

	if err := module.Facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 3}, {2, 3}, {4, 3},
	} {
		if _, err := module.Facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("register %d->%d failed: %v", vote.voter, vote.target, err)
		}
	}
	// Voter 1 reconsiders and comes back.
	if _, err := module.Facade.ChangeVote(ctx, 1, 2); err != nil {
		t.Fatalf("change vote failed: %v", err)
	}
	if _, err := module.Facade.ChangeVote(ctx, 1, 3); err != nil {
		t.Fatalf("change back failed: %v", err)
	}

	outcome, err := module.Facade.FinishVoting(ctx)
	if err != nil {
		t.Fatalf("finish voting failed: %v", err)
	}
	if outcome.NeedsRunoff {
		t.Fatalf("unanimous round must not escalate")
	}
	if outcome.Decision.Kind != entities.DecisionExecute || outcome.Decision.Target != 3 {
		t.Fatalf("expected execution of 3, got %+v", outcome.Decision)
	}

	player, _, err := roster.GetPlayer(ctx, 3)
	if err != nil {
		t.Fatalf("get player failed: %v", err)
	}
	if player.Alive {
		t.Fatalf("executed player must be dead")
	}
	cause, ok := roster.DeathCause(3)
	if !ok || cause != "execution" {
		t.Fatalf("expected execution death cause, got %q", cause)
	}

	report, err := module.Audit.Summarize(ctx, 1)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if !report.Decided || report.ExecutionTarget == nil || *report.ExecutionTarget != 3 {
		t.Fatalf("turn report must name the executed target, got %+v", report)
	}

	analytics, err := module.Audit.Analytics(ctx, 1)
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if analytics.TotalBallots != 5 || analytics.ChangedBallots != 2 || analytics.UniqueVoters != 3 {
		t.Fatalf("unexpected analytics: %+v", analytics)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) == 0 {
		t.Fatalf("round lifecycle must leave events in the outbox")
	}
}

func TestVoteEngineRejectsOutOfPhaseRound(t *testing.T) {
	module := voteengine.NewInMemoryModule(villageRoster(), memory.NewPhases(1, "night"), entities.VotingPolicy{}, nil)
	if err := module.Facade.StartVoting(context.Background()); !errors.Is(err, domainerrors.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestVoteEngineNoExecutionPolicy(t *testing.T) {
	roster := villageRoster()
	module := voteengine.NewInMemoryModule(roster, memory.NewPhases(2, "day"), entities.VotingPolicy{
		ExecutionRule: entities.RuleNoExecution,
	}, nil)
	ctx := context.Background()

	if err := module.Facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	// A dead tie between 1 and 3.
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 3}, {2, 3}, {3, 4}, {4, 1},
	} {
		if _, err := module.Facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	outcome, err := module.Facade.FinishVoting(ctx)
	if err != nil {
		t.Fatalf("finish voting failed: %v", err)
	}
	if outcome.NeedsRunoff {
		t.Fatalf("no-execution rule must not escalate")
	}
	if outcome.Execution == nil || !outcome.Execution.None {
		t.Fatalf("expected no execution, got %+v", outcome.Execution)
	}
	alive, err := roster.ListAlive(ctx)
	if err != nil {
		t.Fatalf("list alive failed: %v", err)
	}
	if len(alive) != 4 {
		t.Fatalf("tie under no-execution must spare everyone, got %d alive", len(alive))
	}
}
