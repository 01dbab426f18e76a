package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "gallows/contexts/game-moderation/vote-engine/application"
	"gallows/contexts/game-moderation/vote-engine/application/commands"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"
)

const (
	phaseStartedTopic = "phase.started"
	phaseEndedTopic   = "phase.ended"
	defaultPhaseCG    = "vote-engine-phase-cg"
)

// PhaseConsumer drives the vote round lifecycle from the scheduler's phase
// events: a day phase start opens the round, a day phase end counts it, and
// subsequent runoff phase ends count the runoff chain until it resolves.
type PhaseConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Facade        *commands.VoteFacade
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger

	// SyncPhases, when set, mirrors the scheduler's turn and phase into the
	// host's phase source before the facade reads it.
	SyncPhases func(turn int, phase string)
}

// Start subscribes the consumer to the scheduler's phase topics. The consumer
// group can be overridden for environment-specific deployment.
func (c PhaseConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("phase consumer disabled by feature flag",
			"event", "vote_phase_consumer_disabled",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultPhaseCG
	}
	if err := c.Subscriber.Subscribe(ctx, phaseStartedTopic, group, c.handlePhaseStarted); err != nil {
		logger.Error("phase consumer subscribe failed",
			"event", "vote_phase_consumer_subscribe_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"topic", phaseStartedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	if err := c.Subscriber.Subscribe(ctx, phaseEndedTopic, group, c.handlePhaseEnded); err != nil {
		logger.Error("phase consumer subscribe failed",
			"event", "vote_phase_consumer_subscribe_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"topic", phaseEndedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("phase consumer subscriptions active",
		"event", "vote_phase_consumer_started",
		"module", "game-moderation/vote-engine",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c PhaseConsumer) handlePhaseStarted(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		logger.Debug("phase.started replay skipped",
			"event", "vote_phase_started_replayed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}
	var payload struct {
		Phase string `json:"phase"`
		Turn  int    `json:"turn"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("phase.started payload decode failed",
			"event", "vote_phase_started_decode_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	if c.SyncPhases != nil {
		c.SyncPhases(payload.Turn, payload.Phase)
	}
	if payload.Phase != commands.PhaseDay {
		return nil
	}
	if err := c.Facade.StartVoting(ctx); err != nil {
		// A turn with nobody alive is a terminal game state, not a
		// delivery failure; acknowledge instead of retrying forever.
		if errors.Is(err, domainerrors.ErrNoVoters) || errors.Is(err, domainerrors.ErrNoTargets) {
			logger.Warn("phase.started skipped, no eligible players",
				"event", "vote_phase_started_skipped",
				"module", "game-moderation/vote-engine",
				"layer", "worker",
				"event_id", event.EventID,
				"turn", payload.Turn,
			)
			return nil
		}
		logger.Error("phase.started round open failed",
			"event", "vote_phase_started_open_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"turn", payload.Turn,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("phase.started consumed",
		"event", "vote_phase_started_consumed",
		"module", "game-moderation/vote-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"turn", payload.Turn,
	)
	return nil
}

func (c PhaseConsumer) handlePhaseEnded(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		logger.Debug("phase.ended replay skipped",
			"event", "vote_phase_ended_replayed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}
	var payload struct {
		Phase string `json:"phase"`
		Turn  int    `json:"turn"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("phase.ended payload decode failed",
			"event", "vote_phase_ended_decode_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	var outcome commands.RoundOutcome
	var err error
	switch c.Facade.Stage() {
	case commands.StageCollecting:
		outcome, err = c.Facade.FinishVoting(ctx)
	case commands.StageRunoff:
		outcome, err = c.Facade.FinishRunoff(ctx)
	default:
		return nil
	}
	if err != nil {
		logger.Error("phase.ended round close failed",
			"event", "vote_phase_ended_close_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"turn", payload.Turn,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("phase.ended consumed",
		"event", "vote_phase_ended_consumed",
		"module", "game-moderation/vote-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"turn", outcome.Turn,
		"vote_type", string(outcome.Type),
		"needs_runoff", outcome.NeedsRunoff,
	)
	return nil
}

func (c PhaseConsumer) reserveEvent(ctx context.Context, event ports.EventEnvelope) (bool, error) {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		logger.Error("phase event dedupe failed",
			"event", "vote_phase_event_dedupe_failed",
			"module", "game-moderation/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return false, err
	}
	return alreadyProcessed, nil
}

func (c PhaseConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c PhaseConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
