package commands

import (
	"context"
	"log/slog"

	application "gallows/contexts/game-moderation/vote-engine/application"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

// RunoffState tracks one escalation chain:
// Idle -> RunoffOpen -> RunoffTallied -> Resolved.
type RunoffState string

const (
	RunoffIdle    RunoffState = "idle"
	RunoffOpen    RunoffState = "runoff_open"
	RunoffTallied RunoffState = "runoff_tallied"
	RunoffDone    RunoffState = "resolved"
)

// RunoffOpening reports the scope of a freshly opened runoff round.
type RunoffOpening struct {
	Turn       int
	Voters     []entities.PlayerID
	Candidates []entities.PlayerID
}

// RunoffCoordinator orchestrates follow-up rounds restricted to tied
// candidates. The attempt counter bounds chained runoffs so repeated ties
// always terminate.
type RunoffCoordinator struct {
	Roster ports.Roster
	Rand   ports.RandSource
	Logger *slog.Logger

	state       RunoffState
	attempts    int
	maxAttempts int
}

// StartRunoff opens a new round on the ballot box restricted to the still-
// alive tied candidates, with every currently-alive player voting. Each call
// consumes one attempt.
func (c *RunoffCoordinator) StartRunoff(
	ctx context.Context,
	candidates []entities.PlayerID,
	box *BallotBox,
	turn int,
	policy entities.VotingPolicy,
) (RunoffOpening, error) {
	logger := application.ResolveLogger(c.Logger)

	aliveCandidates := make([]entities.PlayerID, 0, len(candidates))
	for _, id := range candidates {
		player, found, err := c.Roster.GetPlayer(ctx, id)
		if err != nil {
			return RunoffOpening{}, err
		}
		if found && player.Alive {
			aliveCandidates = append(aliveCandidates, id)
		}
	}
	if len(aliveCandidates) == 0 {
		return RunoffOpening{}, domainerrors.ErrNoCandidates
	}

	alive, err := c.Roster.ListAlive(ctx)
	if err != nil {
		return RunoffOpening{}, err
	}
	voters := ports.PlayerIDs(alive)
	if len(voters) == 0 {
		return RunoffOpening{}, domainerrors.ErrNoVoters
	}

	c.attempts++
	c.state = RunoffOpen

	if err := box.StartRound(ctx, StartRoundInput{
		Type:    entities.VoteTypeRunoff,
		Turn:    turn,
		Policy:  policy,
		Voters:  voters,
		Targets: aliveCandidates,
	}); err != nil {
		return RunoffOpening{}, err
	}

	logger.Info("runoff round opened",
		"event", "vote_runoff_opened",
		"module", "game-moderation/vote-engine",
		"layer", "application",
		"turn", turn,
		"attempt", c.attempts,
		"voters", len(voters),
		"candidates", len(aliveCandidates),
	)
	return RunoffOpening{
		Turn:       turn,
		Voters:     voters,
		Candidates: aliveCandidates,
	}, nil
}

// ResolveTie is the pure tie-break dispatch. Any unrecognized rule defaults
// to random: that default is the single fallback for misconfigured
// regulation values and must be preserved.
func (c *RunoffCoordinator) ResolveTie(tied []entities.PlayerID, rule entities.Rule) entities.ExecutionDecision {
	if len(tied) == 0 {
		return entities.NoExecutionDecision()
	}
	switch rule {
	case entities.RuleNoExecution:
		return entities.NoExecutionDecision()
	case entities.RuleAllExecution:
		return entities.ExecuteAllDecision(tied)
	case entities.RuleRandom:
		return entities.ExecuteDecision(tied[c.pick(len(tied))])
	default:
		return entities.ExecuteDecision(tied[c.pick(len(tied))])
	}
}

// NeedsRunoff reports whether a tied tally should escalate to another round.
// Only the runoff rule loops; every other rule resolves the tie immediately.
// Once the attempt bound is reached the answer is forced false.
func (c *RunoffCoordinator) NeedsRunoff(isTie bool, rule entities.Rule) bool {
	if !isTie {
		return false
	}
	if c.attempts >= c.effectiveMaxAttempts() {
		return false
	}
	return rule == entities.RuleRunoff
}

// MarkTallied records that the current runoff round has been counted.
func (c *RunoffCoordinator) MarkTallied() {
	if c.state == RunoffOpen {
		c.state = RunoffTallied
	}
}

// MarkResolved closes the escalation chain.
func (c *RunoffCoordinator) MarkResolved() {
	c.state = RunoffDone
}

// State returns the coordinator's position in the escalation chain.
func (c *RunoffCoordinator) State() RunoffState {
	if c.state == "" {
		return RunoffIdle
	}
	return c.state
}

// Attempts returns how many runoff rounds the current chain has opened.
func (c *RunoffCoordinator) Attempts() int {
	return c.attempts
}

// ResetAttempts rewinds the chain for a new turn.
func (c *RunoffCoordinator) ResetAttempts() {
	c.attempts = 0
	c.state = RunoffIdle
}

// SetMaxAttempts overrides the runoff bound; non-positive values are ignored.
func (c *RunoffCoordinator) SetMaxAttempts(n int) {
	if n <= 0 {
		return
	}
	c.maxAttempts = n
}

func (c *RunoffCoordinator) effectiveMaxAttempts() int {
	if c.maxAttempts <= 0 {
		return entities.VotingPolicy{}.EffectiveMaxRunoffAttempts()
	}
	return c.maxAttempts
}

func (c *RunoffCoordinator) pick(n int) int {
	if n <= 1 {
		return 0
	}
	if c.Rand == nil {
		return 0
	}
	return c.Rand.Intn(n)
}
