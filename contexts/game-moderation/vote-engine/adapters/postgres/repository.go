package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gallows/contexts/game-moderation/vote-engine/domain/entities"
	domainerrors "gallows/contexts/game-moderation/vote-engine/domain/errors"
	"gallows/contexts/game-moderation/vote-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Repository is the postgres adapter for the ballot audit log, the outbox,
// and event dedup. The live round never touches it; only history does.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// AppendBallot inserts the record and returns it with the database-assigned
// sequence number.
func (r *Repository) AppendBallot(ctx context.Context, record entities.BallotRecord) (entities.BallotRecord, error) {
	row := ballotRecordModelFromEntity(record)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return entities.BallotRecord{}, domainerrors.ErrConflict
		}
		return entities.BallotRecord{}, r.logError("vote_repo_append_ballot_failed", err,
			"voter_id", int(record.VoterID),
			"turn", record.Turn,
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListByTurn(ctx context.Context, turn int, voteType entities.VoteType) ([]entities.BallotRecord, error) {
	tx := r.db.WithContext(ctx).Model(&ballotRecordModel{}).Where("turn = ?", turn)
	if voteType != "" {
		tx = tx.Where("vote_type = ?", string(voteType))
	}
	var rows []ballotRecordModel
	if err := tx.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("vote_repo_list_by_turn_failed", err,
			"turn", turn,
			"vote_type", string(voteType),
		)
	}
	return toBallotRecordEntities(rows), nil
}

func (r *Repository) ListByVoter(ctx context.Context, voterID entities.PlayerID) ([]entities.BallotRecord, error) {
	var rows []ballotRecordModel
	if err := r.db.WithContext(ctx).
		Where("voter_id = ?", int(voterID)).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("vote_repo_list_by_voter_failed", err, "voter_id", int(voterID))
	}
	return toBallotRecordEntities(rows), nil
}

func (r *Repository) ListByTarget(ctx context.Context, targetID entities.PlayerID) ([]entities.BallotRecord, error) {
	var rows []ballotRecordModel
	if err := r.db.WithContext(ctx).
		Where("target_id = ?", int(targetID)).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("vote_repo_list_by_target_failed", err, "target_id", int(targetID))
	}
	return toBallotRecordEntities(rows), nil
}

func (r *Repository) ListAll(ctx context.Context) ([]entities.BallotRecord, error) {
	var rows []ballotRecordModel
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("vote_repo_list_all_failed", err)
	}
	return toBallotRecordEntities(rows), nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("vote_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("vote_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("vote_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("vote_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("vote_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("vote_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("vote_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "game-moderation/vote-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("vote repository operation failed", fields...)
	return err
}

type ballotRecordModel struct {
	Seq      uint64    `gorm:"column:seq;primaryKey;autoIncrement"`
	VoterID  int       `gorm:"column:voter_id"`
	TargetID int       `gorm:"column:target_id"`
	VoteType string    `gorm:"column:vote_type"`
	Weight   int       `gorm:"column:weight"`
	Turn     int       `gorm:"column:turn"`
	CastAt   time.Time `gorm:"column:cast_at"`
	Changed  bool      `gorm:"column:changed"`
}

func (ballotRecordModel) TableName() string {
	return "vote_audit_log"
}

func ballotRecordModelFromEntity(record entities.BallotRecord) ballotRecordModel {
	row := ballotRecordModel{
		VoterID:  int(record.VoterID),
		TargetID: int(record.TargetID),
		VoteType: string(record.Type),
		Weight:   record.Weight,
		Turn:     record.Turn,
		CastAt:   record.CastAt.UTC(),
		Changed:  record.Changed,
	}
	if row.CastAt.IsZero() {
		row.CastAt = time.Now().UTC()
	}
	return row
}

func (m ballotRecordModel) toEntity() entities.BallotRecord {
	return entities.BallotRecord{
		Seq:      m.Seq,
		VoterID:  entities.PlayerID(m.VoterID),
		TargetID: entities.PlayerID(m.TargetID),
		Type:     entities.VoteType(m.VoteType),
		Weight:   m.Weight,
		Turn:     m.Turn,
		CastAt:   m.CastAt.UTC(),
		Changed:  m.Changed,
	}
}

func toBallotRecordEntities(rows []ballotRecordModel) []entities.BallotRecord {
	items := make([]entities.BallotRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "vote_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "vote_event_dedup"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.AuditRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
