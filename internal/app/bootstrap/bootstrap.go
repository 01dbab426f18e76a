package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	voteengine "gallows/contexts/game-moderation/vote-engine"
	"gallows/contexts/game-moderation/vote-engine/adapters/memory"
	postgresadapter "gallows/contexts/game-moderation/vote-engine/adapters/postgres"
	sqliteadapter "gallows/contexts/game-moderation/vote-engine/adapters/sqlite"
	"gallows/contexts/game-moderation/vote-engine/application/workers"
	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	"gallows/contexts/game-moderation/vote-engine/ports"
	"gallows/internal/platform/config"
	"gallows/internal/platform/db"
	"gallows/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type WorkerApp struct {
	postgres     *db.Postgres
	sqlite       *sqliteadapter.Store
	module       voteengine.Module
	outboxRelay  workers.OutboxRelay
	phases       workers.PhaseConsumer
	pollInterval time.Duration
	logger       *slog.Logger
}

// Module exposes the wired engine for embedding hosts.
func (w *WorkerApp) Module() voteengine.Module {
	return w.module
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")

	var (
		pg      *db.Postgres
		sqlite  *sqliteadapter.Store
		audit   ports.AuditRepository
		outbox  ports.OutboxWriter
		pending ports.OutboxRepository
		dedup   ports.EventDedupStore
	)
	switch cfg.Storage {
	case "postgres":
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("POSTGRES_DSN is required for postgres storage")
		}
		pg, err = db.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgresadapter.Migrate(pg.DB); err != nil {
			_ = pg.Close()
			return nil, err
		}
		repo := postgresadapter.NewRepository(pg.DB, logger)
		audit, outbox, pending, dedup = repo, repo, repo, repo
	case "sqlite":
		sqlite, err = sqliteadapter.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		audit, outbox, pending, dedup = sqlite, sqlite, sqlite, sqlite
	case "memory":
		store := memory.NewStore()
		audit, outbox, pending, dedup = store, store, store, store
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	bus, err := messaging.NewBus(cfg.BusBrokers, logger)
	if err != nil {
		return nil, err
	}

	roster, err := seedRoster(cfg.RosterSeed)
	if err != nil {
		return nil, err
	}
	phaseSource := memory.NewPhases(1, "")

	policy := entities.VotingPolicy{
		ExecutionRule:     entities.Rule(cfg.ExecutionRule),
		RunoffTieRule:     entities.Rule(cfg.RunoffTieRule),
		AllowSelfVote:     cfg.AllowSelfVote,
		RevealRoleOnDeath: cfg.RevealRoleOnDeath,
		MaxRunoffAttempts: cfg.MaxRunoffAttempts,
	}
	clock := postgresadapter.SystemClock{}
	module := voteengine.NewModule(voteengine.Dependencies{
		Roster: roster,
		Phases: phaseSource,
		Audit:  audit,
		Outbox: outbox,
		Clock:  clock,
		IDGen:  postgresadapter.UUIDGenerator{},
		Rand:   memory.NewRand(time.Now().UnixNano()),
		Policy: policy,
		Logger: logger,
	})

	return &WorkerApp{
		postgres: pg,
		sqlite:   sqlite,
		module:   module,
		outboxRelay: workers.OutboxRelay{
			Outbox:    pending,
			Publisher: bus,
			Clock:     clock,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		phases: workers.PhaseConsumer{
			Subscriber:    bus,
			Dedup:         dedup,
			Facade:        module.Facade,
			Clock:         clock,
			ConsumerGroup: cfg.PhaseConsumerGroup,
			Disabled:      !cfg.EnablePhaseConsumer,
			Logger:        logger,
			SyncPhases:    phaseSource.Set,
		},
		pollInterval: cfg.OutboxRelayInterval,
		logger:       logger,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.phases.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.outboxRelay.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	if w.sqlite != nil {
		return w.sqlite.Close()
	}
	return nil
}

// seedRoster parses ROSTER_SEED entries of the form id:name:role[:double],
// separated by commas. An empty seed yields an empty roster; the phase
// consumer then skips rounds until the host registers players.
func seedRoster(raw string) (*memory.Roster, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return memory.NewRoster(nil), nil
	}
	players := make([]ports.Player, 0)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("invalid roster seed entry %q", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid roster seed id %q: %w", parts[0], err)
		}
		player := ports.Player{
			ID:    entities.PlayerID(id),
			Name:  strings.TrimSpace(parts[1]),
			Role:  strings.TrimSpace(parts[2]),
			Alive: true,
		}
		if len(parts) > 3 && strings.EqualFold(strings.TrimSpace(parts[3]), "double") {
			player.DoubleVote = true
		}
		players = append(players, player)
	}
	return memory.NewRoster(players), nil
}
