package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"roomledger/pkg/domain"
)

// GormStore implements Store using GORM + Postgres. Compressed content
// lives in a list-partitioned table keyed by the YYYY-MM partition token;
// queue claims use FOR UPDATE SKIP LOCKED so concurrent workers never
// block on each other's in-flight claims.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&MessageModel{},
		&RawContentModel{},
		&MembershipModel{},
		&AuditEntryModel{},
		&QueueItemModel{},
		&RetentionScheduleModel{},
		&LegalHoldModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := createCompressedParent(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// createCompressedParent creates the partitioned parent table for
// compressed content. AutoMigrate cannot emit PARTITION BY, so the parent
// is raw SQL; per-month children come from CreatePartitionIfNeeded.
func createCompressedParent(db *gorm.DB) error {
	err := db.Exec(`
		CREATE TABLE IF NOT EXISTS compressed_contents (
			id text NOT NULL,
			partition_key text NOT NULL,
			room_id text NOT NULL,
			codec text NOT NULL,
			compressed bytea,
			original_length bigint NOT NULL,
			checksum text NOT NULL,
			cold_storage_uri text,
			lifecycle text NOT NULL,
			created_at timestamptz NOT NULL,
			PRIMARY KEY (id, partition_key)
		) PARTITION BY LIST (partition_key)
	`).Error
	if err != nil {
		return fmt.Errorf("create compressed parent table: %w", err)
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_compressed_lifecycle ON compressed_contents (lifecycle, created_at)`).Error; err != nil {
		return fmt.Errorf("create compressed lifecycle index: %w", err)
	}
	return nil
}

var partitionKeyPattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}$`)

// CreatePartitionIfNeeded creates the child table for a partition key.
// Idempotent and safe to call concurrently: the duplicate-table race two
// callers can hit is swallowed.
func (s *GormStore) CreatePartitionIfNeeded(ctx context.Context, partitionKey string) error {
	if !partitionKeyPattern.MatchString(partitionKey) {
		return fmt.Errorf("invalid partition key %q", partitionKey)
	}
	child := "compressed_contents_p" + strings.ReplaceAll(partitionKey, "-", "_")
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF compressed_contents FOR VALUES IN ('%s')`,
		child, partitionKey,
	)
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create partition %s: %w", partitionKey, err)
	}
	return nil
}

// InsertMessage records a message. ContentHash and AuditHashChain are
// write-once; no update path for them exists on this store.
func (s *GormStore) InsertMessage(ctx context.Context, msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetMessage returns one message by id.
func (s *GormStore) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// FlagMessage stores moderation flags on a message.
func (s *GormStore) FlagMessage(ctx context.Context, id string, flags domain.Value) error {
	res := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"flags":      valueToJSON(flags),
			"is_flagged": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("flag message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// InsertRawContent stores intake bytes.
func (s *GormStore) InsertRawContent(ctx context.Context, raw domain.RawContent) error {
	model := rawToModel(raw)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetRawContent returns one raw content row.
func (s *GormStore) GetRawContent(ctx context.Context, id string) (domain.RawContent, bool, error) {
	var model RawContentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RawContent{}, false, nil
		}
		return domain.RawContent{}, false, err
	}
	return rawFromModel(model), true, nil
}

// EncodeRawToCompressed writes the compressed row and marks the raw row
// processed in one transaction. A raw row already marked processed yields
// domain.ErrAlreadyProcessed and no new compressed row.
func (s *GormStore) EncodeRawToCompressed(ctx context.Context, cc domain.CompressedContent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var raw RawContentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&raw, "id = ?", cc.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("raw content %s: %w", cc.ID, domain.ErrNotFound)
			}
			return err
		}
		if raw.Processed {
			return fmt.Errorf("raw content %s: %w", cc.ID, domain.ErrAlreadyProcessed)
		}
		model := compressedToModel(cc)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&RawContentModel{}).Where("id = ?", cc.ID).
			Update("processed", true).Error
	})
}

// GetCompressed returns one compressed content row.
func (s *GormStore) GetCompressed(ctx context.Context, id string) (domain.CompressedContent, bool, error) {
	var model CompressedContentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CompressedContent{}, false, nil
		}
		return domain.CompressedContent{}, false, err
	}
	return compressedFromModel(model), true, nil
}

// MarkColdStorage flips a hot row to cold and records the object URI.
// Reports false (without error) when the row is not hot, making repeated
// delivery of the same transition a no-op.
func (s *GormStore) MarkColdStorage(ctx context.Context, id, uri string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&CompressedContentModel{}).
		Where("id = ? AND lifecycle = ?", id, string(domain.LifecycleHot)).
		Updates(map[string]any{
			"cold_storage_uri": uri,
			"lifecycle":        string(domain.LifecycleCold),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DisposeCompressed transitions a row to deleted. With purge the payload
// bytes are physically zeroed and the cold pointer cleared; without it the
// bytes stay for legal/audit reasons. Refused while an active hold exists.
func (s *GormStore) DisposeCompressed(ctx context.Context, id string, purge bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holds int64
		if err := tx.Model(&LegalHoldModel{}).
			Where("resource_type = ? AND resource_id = ? AND hold_until > ?",
				domain.ResourceCompressedContent, id, time.Now().UTC()).
			Count(&holds).Error; err != nil {
			return err
		}
		if holds > 0 {
			return fmt.Errorf("dispose %s: %w", id, domain.ErrHoldActive)
		}
		var model CompressedContentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("compressed content %s: %w", id, domain.ErrNotFound)
			}
			return err
		}
		updates := map[string]any{"lifecycle": string(domain.LifecycleDeleted)}
		if purge {
			updates["compressed"] = make([]byte, len(model.Compressed))
			updates["cold_storage_uri"] = ""
		}
		return tx.Model(&CompressedContentModel{}).
			Where("id = ? AND partition_key = ?", model.ID, model.PartitionKey).
			Updates(updates).Error
	})
}

// ListCompressedByLifecycle returns rows in a lifecycle state created
// before the cutoff, oldest first.
func (s *GormStore) ListCompressedByLifecycle(ctx context.Context, state domain.LifecycleState, createdBefore time.Time) ([]domain.CompressedContent, error) {
	var models []CompressedContentModel
	if err := s.db.WithContext(ctx).
		Where("lifecycle = ? AND created_at < ?", string(state), createdBefore).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CompressedContent, 0, len(models))
	for _, m := range models {
		out = append(out, compressedFromModel(m))
	}
	return out, nil
}

// GetMembership looks up a room membership.
func (s *GormStore) GetMembership(ctx context.Context, roomID, userID string) (domain.RoomMembership, bool, error) {
	var model MembershipModel
	err := s.db.WithContext(ctx).
		First(&model, "room_id = ? AND user_id = ?", roomID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RoomMembership{}, false, nil
		}
		return domain.RoomMembership{}, false, err
	}
	return membershipFromModel(model), true, nil
}

// UpsertMembership creates or replaces a membership row.
func (s *GormStore) UpsertMembership(ctx context.Context, m domain.RoomMembership) error {
	model := membershipToModel(m)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"role", "strike_count", "probation_until", "last_warning_at", "ban_reason", "updated_at",
		}),
	}).Create(&model).Error
}

// AppendAuditEntry inserts one ledger row and returns its monotonic id.
func (s *GormStore) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	model := auditToModel(entry)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, err
	}
	return model.ID, nil
}

// LatestChainHash returns the newest chain hash for a node.
func (s *GormStore) LatestChainHash(ctx context.Context, nodeID string) (string, bool, error) {
	var model AuditEntryModel
	err := s.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.ChainHash, true, nil
}

// ListAuditByNode returns all entries for a node in id order.
func (s *GormStore) ListAuditByNode(ctx context.Context, nodeID string) ([]domain.AuditEntry, error) {
	var models []AuditEntryModel
	if err := s.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(models))
	for _, m := range models {
		out = append(out, auditFromModel(m))
	}
	return out, nil
}

// ListAuditByRoom returns the most recent entries for a room, newest first.
func (s *GormStore) ListAuditByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []AuditEntryModel
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(models))
	for _, m := range models {
		out = append(out, auditFromModel(m))
	}
	return out, nil
}

// EnqueueItem inserts a pending queue row.
func (s *GormStore) EnqueueItem(ctx context.Context, queue, subjectID string, maxAttempts int) (domain.QueueItem, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	item := domain.QueueItem{
		ID:          newQueueItemID(),
		Queue:       queue,
		SubjectID:   subjectID,
		Status:      domain.QueuePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	model := queueItemToModel(item)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.QueueItem{}, err
	}
	return item, nil
}

// ClaimQueueBatch claims up to limit eligible items in one transaction.
// SKIP LOCKED keeps concurrent claimers from blocking on or double-claiming
// each other's rows.
func (s *GormStore) ClaimQueueBatch(ctx context.Context, queue string, limit int, reclaimAfter time.Duration) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []domain.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var models []QueueItemModel
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND attempts < max_attempts", queue)
		if reclaimAfter > 0 {
			q = q.Where("status = ? OR (status = ? AND last_attempt_at < ?)",
				string(domain.QueuePending), string(domain.QueueProcessing), now.Add(-reclaimAfter))
		} else {
			q = q.Where("status = ?", string(domain.QueuePending))
		}
		if err := q.Order("created_at ASC").Limit(limit).Find(&models).Error; err != nil {
			return err
		}
		for i := range models {
			models[i].Status = string(domain.QueueProcessing)
			models[i].Attempts++
			models[i].LastAttemptAt = now
			if err := tx.Model(&QueueItemModel{}).
				Where("id = ?", models[i].ID).
				Updates(map[string]any{
					"status":          models[i].Status,
					"attempts":        models[i].Attempts,
					"last_attempt_at": now,
				}).Error; err != nil {
				return err
			}
			claimed = append(claimed, queueItemFromModel(models[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkQueueDone finishes a claimed item.
func (s *GormStore) MarkQueueDone(ctx context.Context, itemID string) error {
	return s.db.WithContext(ctx).Model(&QueueItemModel{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"status": string(domain.QueueDone), "error_message": ""}).Error
}

// MarkQueueFailed records the failure and either requeues the item or,
// with attempts exhausted, parks it in the terminal failed state.
func (s *GormStore) MarkQueueFailed(ctx context.Context, itemID, errMsg string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model QueueItemModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("queue item %s: %w", itemID, domain.ErrNotFound)
			}
			return err
		}
		status := string(domain.QueuePending)
		if model.Attempts >= model.MaxAttempts {
			status = string(domain.QueueFailed)
		}
		return tx.Model(&QueueItemModel{}).
			Where("id = ?", itemID).
			Updates(map[string]any{"status": status, "error_message": errMsg}).Error
	})
}

// GetQueueItem returns one queue row.
func (s *GormStore) GetQueueItem(ctx context.Context, itemID string) (domain.QueueItem, bool, error) {
	var model QueueItemModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.QueueItem{}, false, nil
		}
		return domain.QueueItem{}, false, err
	}
	return queueItemFromModel(model), true, nil
}

// ScheduleRetention inserts a schedule entry unless an equivalent
// non-terminal one exists. An active hold on the resource downgrades the
// new entry to on_hold immediately.
func (s *GormStore) ScheduleRetention(ctx context.Context, entry domain.RetentionScheduleEntry) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RetentionScheduleModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "resource_type = ? AND resource_id = ? AND action = ?",
				entry.ResourceType, entry.ResourceID, string(entry.Action)).Error
		switch {
		case err == nil:
			if existing.Status != string(domain.RetentionDone) {
				return nil // duplicate scheduling is a no-op
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var holds int64
		if err := tx.Model(&LegalHoldModel{}).
			Where("resource_type = ? AND resource_id = ? AND hold_until > ?",
				entry.ResourceType, entry.ResourceID, time.Now().UTC()).
			Count(&holds).Error; err != nil {
			return err
		}
		entry.Status = domain.RetentionPending
		entry.OnHold = false
		if holds > 0 {
			entry.Status = domain.RetentionOnHold
			entry.OnHold = true
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		model := retentionToModel(entry)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}, {Name: "action"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"scheduled_for", "status", "on_hold", "hold_reason", "created_at",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// DueRetention returns pending entries due at or before now.
func (s *GormStore) DueRetention(ctx context.Context, now time.Time, limit int) ([]domain.RetentionScheduleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []RetentionScheduleModel
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", string(domain.RetentionPending), now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return retentionEntriesFromModels(models), nil
}

// ListRetention returns schedule entries for operator tooling, newest first.
func (s *GormStore) ListRetention(ctx context.Context, limit int) ([]domain.RetentionScheduleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []RetentionScheduleModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return retentionEntriesFromModels(models), nil
}

// CompleteRetention marks a schedule entry done after its transition ran.
func (s *GormStore) CompleteRetention(ctx context.Context, resourceType, resourceID string, action domain.RetentionAction) error {
	return s.db.WithContext(ctx).Model(&RetentionScheduleModel{}).
		Where("resource_type = ? AND resource_id = ? AND action = ?",
			resourceType, resourceID, string(action)).
		Updates(map[string]any{
			"status":      string(domain.RetentionDone),
			"on_hold":     false,
			"hold_reason": "",
		}).Error
}

// ApplyHold upserts the hold and parks matching pending schedule entries.
func (s *GormStore) ApplyHold(ctx context.Context, hold domain.LegalHold) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if hold.CreatedAt.IsZero() {
			hold.CreatedAt = time.Now().UTC()
		}
		model := holdToModel(hold)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"hold_until", "reason", "actor", "created_at",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&RetentionScheduleModel{}).
			Where("resource_type = ? AND resource_id = ? AND status = ?",
				hold.ResourceType, hold.ResourceID, string(domain.RetentionPending)).
			Updates(map[string]any{
				"status":      string(domain.RetentionOnHold),
				"on_hold":     true,
				"hold_reason": hold.Reason,
			}).Error
	})
}

// ReleaseHold removes the hold and returns parked entries to pending.
func (s *GormStore) ReleaseHold(ctx context.Context, resourceType, resourceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&LegalHoldModel{},
			"resource_type = ? AND resource_id = ?", resourceType, resourceID).Error; err != nil {
			return err
		}
		return tx.Model(&RetentionScheduleModel{}).
			Where("resource_type = ? AND resource_id = ? AND status = ?",
				resourceType, resourceID, string(domain.RetentionOnHold)).
			Updates(map[string]any{
				"status":      string(domain.RetentionPending),
				"on_hold":     false,
				"hold_reason": "",
			}).Error
	})
}

// ActiveHold reports whether an unexpired hold exists for a resource.
func (s *GormStore) ActiveHold(ctx context.Context, resourceType, resourceID string, now time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&LegalHoldModel{}).
		Where("resource_type = ? AND resource_id = ? AND hold_until > ?",
			resourceType, resourceID, now).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func valueToJSON(v domain.Value) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func valueFromJSON(b datatypes.JSON) domain.Value {
	var v domain.Value
	if len(b) > 0 {
		_ = json.Unmarshal(b, &v)
	}
	return v
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		CreatedAt:      msg.CreatedAt,
		ContentID:      msg.ContentID,
		Preview:        msg.Preview,
		ContentHash:    msg.ContentHash,
		AuditHashChain: msg.AuditHashChain,
		Flags:          valueToJSON(msg.Flags),
		IsFlagged:      msg.IsFlagged,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		RoomID:         m.RoomID,
		SenderID:       m.SenderID,
		CreatedAt:      m.CreatedAt,
		ContentID:      m.ContentID,
		Preview:        m.Preview,
		ContentHash:    m.ContentHash,
		AuditHashChain: m.AuditHashChain,
		Flags:          valueFromJSON(m.Flags),
		IsFlagged:      m.IsFlagged,
	}
}

func rawToModel(r domain.RawContent) RawContentModel {
	return RawContentModel{
		ID:        r.ID,
		RoomID:    r.RoomID,
		CreatedAt: r.CreatedAt,
		Payload:   r.Payload,
		MimeType:  r.MimeType,
		Length:    r.Length,
		Checksum:  r.Checksum,
		Processed: r.Processed,
	}
}

func rawFromModel(m RawContentModel) domain.RawContent {
	return domain.RawContent{
		ID:        m.ID,
		RoomID:    m.RoomID,
		CreatedAt: m.CreatedAt,
		Payload:   m.Payload,
		MimeType:  m.MimeType,
		Length:    m.Length,
		Checksum:  m.Checksum,
		Processed: m.Processed,
	}
}

func compressedToModel(c domain.CompressedContent) CompressedContentModel {
	return CompressedContentModel{
		ID:             c.ID,
		PartitionKey:   c.PartitionKey,
		RoomID:         c.RoomID,
		Codec:          c.Codec,
		Compressed:     c.Compressed,
		OriginalLength: c.OriginalLength,
		Checksum:       c.Checksum,
		ColdStorageURI: c.ColdStorageURI,
		Lifecycle:      string(c.Lifecycle),
		CreatedAt:      c.CreatedAt,
	}
}

func compressedFromModel(m CompressedContentModel) domain.CompressedContent {
	return domain.CompressedContent{
		ID:             m.ID,
		PartitionKey:   m.PartitionKey,
		RoomID:         m.RoomID,
		Codec:          m.Codec,
		Compressed:     m.Compressed,
		OriginalLength: m.OriginalLength,
		Checksum:       m.Checksum,
		ColdStorageURI: m.ColdStorageURI,
		Lifecycle:      domain.LifecycleState(m.Lifecycle),
		CreatedAt:      m.CreatedAt,
	}
}

func membershipToModel(m domain.RoomMembership) MembershipModel {
	return MembershipModel{
		RoomID:         m.RoomID,
		UserID:         m.UserID,
		Role:           string(m.Role),
		StrikeCount:    m.StrikeCount,
		ProbationUntil: m.ProbationUntil,
		LastWarningAt:  m.LastWarningAt,
		BanReason:      m.BanReason,
		UpdatedAt:      m.UpdatedAt,
	}
}

func membershipFromModel(m MembershipModel) domain.RoomMembership {
	return domain.RoomMembership{
		RoomID:         m.RoomID,
		UserID:         m.UserID,
		Role:           domain.Role(m.Role),
		StrikeCount:    m.StrikeCount,
		ProbationUntil: m.ProbationUntil,
		LastWarningAt:  m.LastWarningAt,
		BanReason:      m.BanReason,
		UpdatedAt:      m.UpdatedAt,
	}
}

func auditToModel(e domain.AuditEntry) AuditEntryModel {
	return AuditEntryModel{
		EventTime: e.EventTime,
		EventType: e.EventType,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		MessageID: e.MessageID,
		Payload:   valueToJSON(e.Payload),
		Actor:     e.Actor,
		Hash:      e.Hash,
		PrevHash:  e.PrevHash,
		ChainHash: e.ChainHash,
		NodeID:    e.NodeID,
	}
}

func auditFromModel(m AuditEntryModel) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        m.ID,
		EventTime: m.EventTime,
		EventType: m.EventType,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		MessageID: m.MessageID,
		Payload:   valueFromJSON(m.Payload),
		Actor:     m.Actor,
		Hash:      m.Hash,
		PrevHash:  m.PrevHash,
		ChainHash: m.ChainHash,
		NodeID:    m.NodeID,
	}
}

func queueItemToModel(i domain.QueueItem) QueueItemModel {
	return QueueItemModel{
		ID:            i.ID,
		Queue:         i.Queue,
		SubjectID:     i.SubjectID,
		Status:        string(i.Status),
		Attempts:      i.Attempts,
		MaxAttempts:   i.MaxAttempts,
		LastAttemptAt: i.LastAttemptAt,
		ErrorMessage:  i.ErrorMessage,
		CreatedAt:     i.CreatedAt,
	}
}

func queueItemFromModel(m QueueItemModel) domain.QueueItem {
	return domain.QueueItem{
		ID:            m.ID,
		Queue:         m.Queue,
		SubjectID:     m.SubjectID,
		Status:        domain.QueueStatus(m.Status),
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		LastAttemptAt: m.LastAttemptAt,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
	}
}

func retentionToModel(e domain.RetentionScheduleEntry) RetentionScheduleModel {
	return RetentionScheduleModel{
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Action:       string(e.Action),
		ScheduledFor: e.ScheduledFor,
		Status:       string(e.Status),
		OnHold:       e.OnHold,
		HoldReason:   e.HoldReason,
		CreatedAt:    e.CreatedAt,
	}
}

func retentionFromModel(m RetentionScheduleModel) domain.RetentionScheduleEntry {
	return domain.RetentionScheduleEntry{
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Action:       domain.RetentionAction(m.Action),
		ScheduledFor: m.ScheduledFor,
		Status:       domain.RetentionStatus(m.Status),
		OnHold:       m.OnHold,
		HoldReason:   m.HoldReason,
		CreatedAt:    m.CreatedAt,
	}
}

func retentionEntriesFromModels(models []RetentionScheduleModel) []domain.RetentionScheduleEntry {
	out := make([]domain.RetentionScheduleEntry, 0, len(models))
	for _, m := range models {
		out = append(out, retentionFromModel(m))
	}
	return out
}

func holdToModel(h domain.LegalHold) LegalHoldModel {
	return LegalHoldModel{
		ResourceType: h.ResourceType,
		ResourceID:   h.ResourceID,
		HoldUntil:    h.HoldUntil,
		Reason:       h.Reason,
		Actor:        h.Actor,
		CreatedAt:    h.CreatedAt,
	}
}
