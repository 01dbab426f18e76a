package voteengine

import (
	"log/slog"

	"gallows/contexts/game-moderation/vote-engine/adapters/memory"
	"gallows/contexts/game-moderation/vote-engine/application/commands"
	"gallows/contexts/game-moderation/vote-engine/application/queries"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

// Module bundles the wired facade and read side for a host process.
type Module struct {
	Facade *commands.VoteFacade
	Audit  *queries.AuditLog
	Store  *memory.Store
}

// Dependencies lists the ports a host must provide. Clock, IDGen, and Rand
// may be nil; components fall back to wall clock, UUID v4, and first-pick.
type Dependencies struct {
	Roster     ports.Roster
	Phases     ports.PhaseSource
	Constraint ports.ConstraintChecker
	Audit      ports.AuditRepository
	Outbox     ports.OutboxWriter
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Rand       ports.RandSource
	Policy     entities.VotingPolicy
	Logger     *slog.Logger
}

func NewModule(deps Dependencies) Module {
	box := &commands.BallotBox{
		Roster:     deps.Roster,
		Constraint: deps.Constraint,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
	}
	runoff := &commands.RunoffCoordinator{
		Roster: deps.Roster,
		Rand:   deps.Rand,
		Logger: deps.Logger,
	}
	resolver := &commands.ExecutionResolver{
		Roster: deps.Roster,
		Outbox: deps.Outbox,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Logger: deps.Logger,
	}
	facade := &commands.VoteFacade{
		Box:      box,
		Runoff:   runoff,
		Resolver: resolver,
		Audit:    deps.Audit,
		Roster:   deps.Roster,
		Phases:   deps.Phases,
		Outbox:   deps.Outbox,
		Clock:    deps.Clock,
		IDGen:    deps.IDGen,
		Rand:     deps.Rand,
		Policy:   deps.Policy,
		Logger:   deps.Logger,
	}
	return Module{
		Facade: facade,
		Audit: &queries.AuditLog{
			Records: deps.Audit,
			Logger:  deps.Logger,
		},
	}
}

// NewInMemoryModule wires the module over in-memory adapters, for tests and
// single-process hosts. The roster and phase source are seeded by the caller.
func NewInMemoryModule(
	roster ports.Roster,
	phases ports.PhaseSource,
	policy entities.VotingPolicy,
	logger *slog.Logger,
) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Roster: roster,
		Phases: phases,
		Audit:  store,
		Outbox: store,
		Policy: policy,
		Logger: logger,
	})
	module.Store = store
	return module
}
