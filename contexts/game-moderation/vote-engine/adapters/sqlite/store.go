package sqliteadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Store is a single-file sqlite adapter for the audit log, the outbox, and
// event dedup, for hosts that run without a postgres instance.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the sqlite store and creates the schema. Safe to call on an
// existing file; the schema uses IF NOT EXISTS throughout.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the sqlite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AppendBallot(ctx context.Context, record entities.BallotRecord) (entities.BallotRecord, error) {
	castAt := record.CastAt.UTC()
	if castAt.IsZero() {
		castAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_audit_log (voter_id, target_id, vote_type, weight, turn, cast_at, changed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int(record.VoterID), int(record.TargetID), string(record.Type),
		record.Weight, record.Turn, castAt.Format(time.RFC3339Nano), record.Changed,
	)
	if err != nil {
		return entities.BallotRecord{}, s.logError("vote_sqlite_append_ballot_failed", err,
			"voter_id", int(record.VoterID),
			"turn", record.Turn,
		)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return entities.BallotRecord{}, s.logError("vote_sqlite_append_ballot_seq_failed", err)
	}
	record.Seq = uint64(seq)
	record.CastAt = castAt
	return record, nil
}

func (s *Store) ListByTurn(ctx context.Context, turn int, voteType entities.VoteType) ([]entities.BallotRecord, error) {
	query := `SELECT seq, voter_id, target_id, vote_type, weight, turn, cast_at, changed
		FROM vote_audit_log WHERE turn = ?`
	args := []any{turn}
	if voteType != "" {
		query += ` AND vote_type = ?`
		args = append(args, string(voteType))
	}
	query += ` ORDER BY seq ASC`
	return s.listRecords(ctx, "vote_sqlite_list_by_turn_failed", query, args...)
}

func (s *Store) ListByVoter(ctx context.Context, voterID entities.PlayerID) ([]entities.BallotRecord, error) {
	return s.listRecords(ctx, "vote_sqlite_list_by_voter_failed",
		`SELECT seq, voter_id, target_id, vote_type, weight, turn, cast_at, changed
		 FROM vote_audit_log WHERE voter_id = ? ORDER BY seq ASC`, int(voterID))
}

func (s *Store) ListByTarget(ctx context.Context, targetID entities.PlayerID) ([]entities.BallotRecord, error) {
	return s.listRecords(ctx, "vote_sqlite_list_by_target_failed",
		`SELECT seq, voter_id, target_id, vote_type, weight, turn, cast_at, changed
		 FROM vote_audit_log WHERE target_id = ? ORDER BY seq ASC`, int(targetID))
}

func (s *Store) ListAll(ctx context.Context) ([]entities.BallotRecord, error) {
	return s.listRecords(ctx, "vote_sqlite_list_all_failed",
		`SELECT seq, voter_id, target_id, vote_type, weight, turn, cast_at, changed
		 FROM vote_audit_log ORDER BY seq ASC`)
}

func (s *Store) listRecords(ctx context.Context, event string, query string, args ...any) ([]entities.BallotRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.logError(event, err)
	}
	defer rows.Close()

	items := make([]entities.BallotRecord, 0)
	for rows.Next() {
		var (
			record   entities.BallotRecord
			voterID  int
			targetID int
			voteType string
			castAt   string
		)
		if err := rows.Scan(&record.Seq, &voterID, &targetID, &voteType,
			&record.Weight, &record.Turn, &castAt, &record.Changed); err != nil {
			return nil, s.logError(event, err)
		}
		record.VoterID = entities.PlayerID(voterID)
		record.TargetID = entities.PlayerID(targetID)
		record.Type = entities.VoteType(voteType)
		parsed, err := time.Parse(time.RFC3339Nano, castAt)
		if err != nil {
			return nil, s.logError(event, err)
		}
		record.CastAt = parsed.UTC()
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, s.logError(event, err)
	}
	return items, nil
}

func (s *Store) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return s.logError("vote_sqlite_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
		)
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_outbox (outbox_id, event_type, partition_key, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (outbox_id) DO NOTHING`,
		outboxID, strings.TrimSpace(envelope.EventType), strings.TrimSpace(envelope.PartitionKey),
		payload, outboxStatusPending, createdAt.Format(time.RFC3339Nano),
	); err != nil {
		return s.logError("vote_sqlite_append_outbox_failed", err, "outbox_id", outboxID)
	}
	return nil
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outbox_id, event_type, partition_key, payload, created_at
		 FROM vote_outbox WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		outboxStatusPending, limit,
	)
	if err != nil {
		return nil, s.logError("vote_sqlite_list_pending_outbox_failed", err, "limit", limit)
	}
	defer rows.Close()

	items := make([]ports.OutboxMessage, 0)
	for rows.Next() {
		var (
			message   ports.OutboxMessage
			createdAt string
		)
		if err := rows.Scan(&message.OutboxID, &message.EventType, &message.PartitionKey,
			&message.Payload, &createdAt); err != nil {
			return nil, s.logError("vote_sqlite_list_pending_outbox_failed", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, s.logError("vote_sqlite_list_pending_outbox_failed", err)
		}
		message.CreatedAt = parsed.UTC()
		items = append(items, message)
	}
	if err := rows.Err(); err != nil {
		return nil, s.logError("vote_sqlite_list_pending_outbox_failed", err)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE vote_outbox SET status = ?, published_at = ? WHERE outbox_id = ?`,
		outboxStatusPublished, publishedAt.UTC().Format(time.RFC3339Nano), strings.TrimSpace(outboxID),
	)
	if err != nil {
		return s.logError("vote_sqlite_mark_outbox_published_failed", err,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return s.logError("vote_sqlite_mark_outbox_published_failed", err)
	}
	if affected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (s *Store) ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_event_dedup (event_id, payload_hash, expires_at, processed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		strings.TrimSpace(eventID), strings.TrimSpace(payloadHash),
		expiresAt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, s.logError("vote_sqlite_reserve_event_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, s.logError("vote_sqlite_reserve_event_failed", err)
	}
	if affected > 0 {
		return false, nil
	}

	var existingHash string
	if err := s.db.QueryRowContext(ctx,
		`SELECT payload_hash FROM vote_event_dedup WHERE event_id = ?`,
		strings.TrimSpace(eventID),
	).Scan(&existingHash); err != nil {
		return false, s.logError("vote_sqlite_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existingHash != strings.TrimSpace(payloadHash) {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "game-moderation/vote-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("vote sqlite operation failed", fields...)
	return err
}

const schema = `
-- Append-only ballot history. seq orders records independent of cast_at.
CREATE TABLE IF NOT EXISTS vote_audit_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    voter_id INTEGER NOT NULL,
    target_id INTEGER NOT NULL,
    vote_type TEXT NOT NULL,
    weight INTEGER NOT NULL,
    turn INTEGER NOT NULL,
    cast_at TEXT NOT NULL,
    changed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_vote_audit_log_turn ON vote_audit_log(turn);
CREATE INDEX IF NOT EXISTS idx_vote_audit_log_voter ON vote_audit_log(voter_id);
CREATE INDEX IF NOT EXISTS idx_vote_audit_log_target ON vote_audit_log(target_id);

-- Outbox rows awaiting relay to the event bus.
CREATE TABLE IF NOT EXISTS vote_outbox (
    outbox_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    partition_key TEXT,
    payload BLOB NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'published')),
    created_at TEXT NOT NULL,
    published_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_vote_outbox_status ON vote_outbox(status, created_at);

-- Consumer-side event dedup reservations.
CREATE TABLE IF NOT EXISTS vote_event_dedup (
    event_id TEXT PRIMARY KEY,
    payload_hash TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    processed_at TEXT NOT NULL
);
`

var (
	_ ports.AuditRepository  = (*Store)(nil)
	_ ports.OutboxWriter     = (*Store)(nil)
	_ ports.OutboxRepository = (*Store)(nil)
	_ ports.EventDedupStore  = (*Store)(nil)
)
