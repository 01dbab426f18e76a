package commands

import (
	"context"
	"time"

	"gallows/contexts/game-moderation/vote-engine/adapters/memory"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type seqIDGen struct {
	next int
	ids  []string
}

func (g *seqIDGen) NewID(_ context.Context) (string, error) {
	g.next++
	id := "event-" + string(rune('a'+g.next-1))
	g.ids = append(g.ids, id)
	return id, nil
}

type stubRand struct {
	values []int
	calls  int
}

func (r *stubRand) Intn(n int) int {
	if len(r.values) == 0 {
		return 0
	}
	value := r.values[r.calls%len(r.values)] % n
	r.calls++
	return value
}

type denyConstraint struct {
	reason string
}

func (c denyConstraint) CheckVoteConstraint(_ context.Context, _ ports.Player, _ entities.PlayerID) (ports.ConstraintResult, error) {
	return ports.ConstraintResult{Valid: false, Reason: c.reason}, nil
}

func testRoster(extra ...ports.Player) *memory.Roster {
	players := []ports.Player{
		{ID: 1, Name: "ada", Role: "villager", Alive: true},
		{ID: 2, Name: "brin", Role: "seer", Alive: true},
		{ID: 3, Name: "cole", Role: "werewolf", Alive: true},
		{ID: 4, Name: "dina", Role: "elder", Alive: true, DoubleVote: true},
	}
	players = append(players, extra...)
	return memory.NewRoster(players)
}

func openRound(box *BallotBox, policy entities.VotingPolicy, voters ...entities.PlayerID) error {
	return box.StartRound(context.Background(), StartRoundInput{
		Type:    entities.VoteTypeExecution,
		Turn:    1,
		Policy:  policy,
		Voters:  voters,
		Targets: voters,
	})
}
