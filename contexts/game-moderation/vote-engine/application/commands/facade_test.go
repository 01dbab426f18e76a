package commands

import (
	"context"
	"errors"
	"testing"

	"gallows/contexts/game-moderation/vote-engine/adapters/memory"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

func newFacade(roster *memory.Roster, phases *memory.Phases, policy entities.VotingPolicy, rand *stubRand) (*VoteFacade, *memory.Store) {
	store := memory.NewStore()
	box := &BallotBox{Roster: roster}
	runoff := &RunoffCoordinator{Roster: roster, Rand: rand}
	resolver := &ExecutionResolver{Roster: roster, Outbox: store}
	return &VoteFacade{
		Box:      box,
		Runoff:   runoff,
		Resolver: resolver,
		Audit:    store,
		Roster:   roster,
		Phases:   phases,
		Outbox:   store,
		Rand:     rand,
		Policy:   policy,
	}, store
}

func eventTypeCounts(t *testing.T, store *memory.Store) map[string]int {
	t.Helper()
	pending, err := store.ListPendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	counts := make(map[string]int)
	for _, message := range pending {
		counts[message.EventType]++
	}
	return counts
}

func TestStartVotingPreconditions(t *testing.T) {
	t.Run("wrong phase", func(t *testing.T) {
		facade, _ := newFacade(testRoster(), memory.NewPhases(1, "night"), entities.VotingPolicy{}, nil)
		if err := facade.StartVoting(context.Background()); !errors.Is(err, domainerrors.ErrInvalidPhase) {
			t.Fatalf("expected ErrInvalidPhase, got %v", err)
		}
		if facade.Stage() != StageIdle {
			t.Fatalf("failed start must leave the facade idle")
		}
	})
	t.Run("nobody alive", func(t *testing.T) {
		facade, _ := newFacade(memory.NewRoster(nil), memory.NewPhases(1, "day"), entities.VotingPolicy{}, nil)
		if err := facade.StartVoting(context.Background()); !errors.Is(err, domainerrors.ErrNoVoters) {
			t.Fatalf("expected ErrNoVoters, got %v", err)
		}
	})
	t.Run("register before start", func(t *testing.T) {
		facade, _ := newFacade(testRoster(), memory.NewPhases(1, "day"), entities.VotingPolicy{}, nil)
		if _, err := facade.RegisterVote(context.Background(), 1, 2); !errors.Is(err, domainerrors.ErrNoActiveRound) {
			t.Fatalf("expected ErrNoActiveRound, got %v", err)
		}
	})
}

func TestRoundWithClearLeader(t *testing.T) {
	roster := testRoster()
	policy := entities.VotingPolicy{ExecutionRule: entities.RuleRunoff, RevealRoleOnDeath: true}
	facade, store := newFacade(roster, memory.NewPhases(1, "day"), policy, nil)
	ctx := context.Background()

	if err := facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	if facade.Stage() != StageCollecting {
		t.Fatalf("expected collecting stage, got %s", facade.Stage())
	}

	// 1 and 2 vote for 3, 3 votes back at 1, the elder abstains: 3 leads 2 to 1.
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 3}, {2, 3}, {3, 1},
	} {
		if _, err := facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("register %d->%d failed: %v", vote.voter, vote.target, err)
		}
	}

	outcome, err := facade.FinishVoting(ctx)
	if err != nil {
		t.Fatalf("finish voting failed: %v", err)
	}
	if outcome.NeedsRunoff {
		t.Fatalf("clear leader must not escalate: %+v", outcome)
	}
	if outcome.Decision.Kind != entities.DecisionExecute || outcome.Decision.Target != 3 {
		t.Fatalf("expected execution of 3, got %+v", outcome.Decision)
	}
	if outcome.Execution == nil || len(outcome.Execution.Executed) != 1 || outcome.Execution.Executed[0].Role != "werewolf" {
		t.Fatalf("unexpected execution outcome: %+v", outcome.Execution)
	}
	if facade.Stage() != StageIdle {
		t.Fatalf("finished round must return to idle")
	}
	player, _, _ := roster.GetPlayer(ctx, 3)
	if player.Alive {
		t.Fatalf("executed player must be dead")
	}

	records, err := store.ListByTurn(ctx, 1, entities.VoteTypeExecution)
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}

	counts := eventTypeCounts(t, store)
	for _, expected := range []string{"vote.start", "vote.count.before", "vote.count.after", "execution.before", "execution.after"} {
		if counts[expected] != 1 {
			t.Fatalf("expected one %s event, got %d (%v)", expected, counts[expected], counts)
		}
	}
	if counts["vote.register.before"] != 3 || counts["vote.register.after"] != 3 {
		t.Fatalf("expected 3 register event pairs, got %v", counts)
	}
}

func TestTieEscalatesToRunoffThenResolves(t *testing.T) {
	roster := testRoster()
	policy := entities.VotingPolicy{ExecutionRule: entities.RuleRunoff}
	facade, store := newFacade(roster, memory.NewPhases(1, "day"), policy, nil)
	ctx := context.Background()

	if err := facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	// 3 and 1 end up tied at two votes each: the elder's double vote on 1
	// balances the pair of single votes on 3.
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 3}, {2, 3}, {3, 4}, {4, 1},
	} {
		if _, err := facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	outcome, err := facade.FinishVoting(ctx)
	if err != nil {
		t.Fatalf("finish voting failed: %v", err)
	}
	if !outcome.NeedsRunoff || outcome.Runoff == nil {
		t.Fatalf("tie under runoff rule must escalate, got %+v", outcome)
	}
	if facade.Stage() != StageRunoff {
		t.Fatalf("expected runoff stage, got %s", facade.Stage())
	}
	if len(outcome.Runoff.Candidates) != 2 {
		t.Fatalf("expected 2 runoff candidates, got %v", outcome.Runoff.Candidates)
	}

	// The runoff converges on 1; 1 itself must pick the other candidate.
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 3}, {2, 1}, {3, 1}, {4, 1},
	} {
		if _, err := facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("runoff register failed: %v", err)
		}
	}
	final, err := facade.FinishRunoff(ctx)
	if err != nil {
		t.Fatalf("finish runoff failed: %v", err)
	}
	if final.NeedsRunoff {
		t.Fatalf("decisive runoff must not escalate again")
	}
	if final.Decision.Kind != entities.DecisionExecute || final.Decision.Target != 1 {
		t.Fatalf("expected execution of 1, got %+v", final.Decision)
	}
	if facade.Stage() != StageIdle {
		t.Fatalf("resolved chain must return to idle")
	}

	counts := eventTypeCounts(t, store)
	if counts["vote.runoff.start"] != 1 || counts["vote.runoff.result"] != 1 {
		t.Fatalf("expected runoff start and result events, got %v", counts)
	}

	records, err := store.ListByTurn(ctx, 1, entities.VoteTypeRunoff)
	if err != nil {
		t.Fatalf("list runoff audit failed: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 runoff audit records, got %d", len(records))
	}
}

func TestRunoffExhaustionFallsBackToTieRule(t *testing.T) {
	// Flat weights so the deadlock can repeat in the runoff.
	roster := memory.NewRoster([]ports.Player{
		{ID: 1, Name: "ada", Role: "villager", Alive: true},
		{ID: 2, Name: "brin", Role: "seer", Alive: true},
		{ID: 3, Name: "cole", Role: "werewolf", Alive: true},
		{ID: 4, Name: "dina", Role: "villager", Alive: true},
	})
	policy := entities.VotingPolicy{
		ExecutionRule:     entities.RuleRunoff,
		RunoffTieRule:     entities.RuleNoExecution,
		MaxRunoffAttempts: 1,
	}
	facade, _ := newFacade(roster, memory.NewPhases(1, "day"), policy, nil)
	ctx := context.Background()

	if err := facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 2}, {2, 1}, {3, 2}, {4, 1},
	} {
		if _, err := facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	outcome, err := facade.FinishVoting(ctx)
	if err != nil {
		t.Fatalf("finish voting failed: %v", err)
	}
	if !outcome.NeedsRunoff {
		t.Fatalf("first tie must open the single allowed runoff")
	}

	// The runoff ties again; the attempt budget is spent.
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 2}, {2, 1}, {3, 2}, {4, 1},
	} {
		if _, err := facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("runoff register failed: %v", err)
		}
	}
	final, err := facade.FinishRunoff(ctx)
	if err != nil {
		t.Fatalf("finish runoff failed: %v", err)
	}
	if final.NeedsRunoff {
		t.Fatalf("exhausted attempts must not escalate")
	}
	if final.Decision.Kind != entities.DecisionNone {
		t.Fatalf("expected tie rule fallback to none, got %+v", final.Decision)
	}
	if final.Execution == nil || !final.Execution.None {
		t.Fatalf("expected no-execution outcome, got %+v", final.Execution)
	}
	alive, _ := roster.ListAlive(ctx)
	if len(alive) != 4 {
		t.Fatalf("nobody may die under the no-execution fallback, got %d alive", len(alive))
	}
}

func TestUnknownExecutionRuleBehavesLikeRunoff(t *testing.T) {
	roster := testRoster()
	policy := entities.VotingPolicy{ExecutionRule: entities.Rule("curia")}
	facade, _ := newFacade(roster, memory.NewPhases(1, "day"), policy, nil)
	ctx := context.Background()

	if err := facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	for _, vote := range []struct{ voter, target entities.PlayerID }{
		{1, 3}, {2, 3}, {3, 4}, {4, 1},
	} {
		if _, err := facade.RegisterVote(ctx, vote.voter, vote.target); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	outcome, err := facade.FinishVoting(ctx)
	if err != nil {
		t.Fatalf("finish voting failed: %v", err)
	}
	if !outcome.NeedsRunoff {
		t.Fatalf("unrecognized rule must fall back to runoff on ties, got %+v", outcome)
	}
}

func TestChangeVoteThroughFacade(t *testing.T) {
	facade, store := newFacade(testRoster(), memory.NewPhases(1, "day"), entities.VotingPolicy{ExecutionRule: entities.RuleRandom}, &stubRand{})
	ctx := context.Background()

	if err := facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	if _, err := facade.RegisterVote(ctx, 1, 2); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	same, err := facade.ChangeVote(ctx, 1, 2)
	if err != nil {
		t.Fatalf("same-target change failed: %v", err)
	}
	if !same.Unchanged {
		t.Fatalf("same-target change must be a no-op")
	}

	changed, err := facade.ChangeVote(ctx, 1, 3)
	if err != nil {
		t.Fatalf("change failed: %v", err)
	}
	if changed.OldTargetID != 2 || changed.NewTargetID != 3 {
		t.Fatalf("unexpected change: %+v", changed)
	}

	counts := eventTypeCounts(t, store)
	if counts["vote.change.before"] != 1 || counts["vote.change.after"] != 1 {
		t.Fatalf("no-op change must not emit events, got %v", counts)
	}

	records, err := store.ListByVoter(ctx, 1)
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected register + change records, got %d", len(records))
	}
	if records[0].Changed || !records[1].Changed {
		t.Fatalf("change flags wrong: %+v", records)
	}
	if records[1].Seq <= records[0].Seq {
		t.Fatalf("audit sequence must increase")
	}
}

func TestRejectedVoteLeavesNoAuditRecord(t *testing.T) {
	facade, store := newFacade(testRoster(), memory.NewPhases(1, "day"), entities.VotingPolicy{}, nil)
	ctx := context.Background()

	if err := facade.StartVoting(ctx); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	if _, err := facade.RegisterVote(ctx, 1, 1); !errors.Is(err, domainerrors.ErrSelfVoteForbidden) {
		t.Fatalf("expected ErrSelfVoteForbidden, got %v", err)
	}
	records, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("rejected ballot must not reach the audit log, got %d", len(records))
	}
}

func TestExecuteTargetDirect(t *testing.T) {
	roster := testRoster()
	facade, _ := newFacade(roster, memory.NewPhases(4, "day"), entities.VotingPolicy{RevealRoleOnDeath: true}, nil)
	ctx := context.Background()

	outcome, err := facade.ExecuteTarget(ctx, 2)
	if err != nil {
		t.Fatalf("execute target failed: %v", err)
	}
	if len(outcome.Executed) != 1 || outcome.Executed[0].ID != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if _, err := facade.ExecuteTarget(ctx, 2); !errors.Is(err, domainerrors.ErrAlreadyDead) {
		t.Fatalf("expected ErrAlreadyDead on repeat, got %v", err)
	}
}
