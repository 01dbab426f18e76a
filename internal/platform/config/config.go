package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	Storage     string
	PostgresDSN string
	SQLitePath  string
	BusBrokers  []string
	RosterSeed  string

	ExecutionRule     string
	RunoffTieRule     string
	AllowSelfVote     bool
	RevealRoleOnDeath bool
	MaxRunoffAttempts int

	EnablePhaseConsumer bool
	PhaseConsumerGroup  string
	OutboxBatchSize     int
	OutboxRelayInterval time.Duration
}

func Load() (Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "gallows"
	}

	storage := strings.TrimSpace(strings.ToLower(os.Getenv("VOTE_STORAGE")))
	if storage == "" {
		storage = "memory"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "gallows.db"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("BUS_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	rule := strings.TrimSpace(strings.ToLower(os.Getenv("VOTE_EXECUTION_RULE")))
	if rule == "" {
		rule = "runoff"
	}
	tieRule := strings.TrimSpace(strings.ToLower(os.Getenv("VOTE_RUNOFF_TIE_RULE")))
	if tieRule == "" {
		tieRule = "random"
	}

	return Config{
		ServiceName: service,
		Storage:     storage,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		SQLitePath:  sqlitePath,
		BusBrokers:  brokers,
		RosterSeed:  os.Getenv("ROSTER_SEED"),

		ExecutionRule:     rule,
		RunoffTieRule:     tieRule,
		AllowSelfVote:     envBool("VOTE_ALLOW_SELF_VOTE", false),
		RevealRoleOnDeath: envBool("VOTE_REVEAL_ROLE_ON_DEATH", true),
		MaxRunoffAttempts: envInt("VOTE_MAX_RUNOFF_ATTEMPTS", 0),

		EnablePhaseConsumer: envBool("ENABLE_PHASE_CONSUMER", true),
		PhaseConsumerGroup:  os.Getenv("PHASE_CONSUMER_GROUP"),
		OutboxBatchSize:     envInt("OUTBOX_BATCH_SIZE", 100),
		OutboxRelayInterval: envDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
