package store

import (
	"time"

	"gorm.io/datatypes"

	"roomledger/internal/util"
)

// newQueueItemID mints an opaque id for queue rows.
func newQueueItemID() string { return util.NewID() }

// GORM models used for persistence. CompressedContentModel maps onto a
// list-partitioned table created by raw SQL in NewGormStore, not by
// AutoMigrate; see createCompressedParent.
type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	RoomID         string    `gorm:"not null;index"`
	SenderID       string    `gorm:"not null;index"`
	CreatedAt      time.Time `gorm:"not null;index"`
	ContentID      string    `gorm:"index"`
	Preview        string
	ContentHash    string         `gorm:"not null"`
	AuditHashChain string         `gorm:"not null"`
	Flags          datatypes.JSON `gorm:"type:jsonb"`
	IsFlagged      bool           `gorm:"not null;index"`
}

type RawContentModel struct {
	ID        string    `gorm:"primaryKey"`
	RoomID    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	Payload   []byte
	MimeType  string
	Length    int64  `gorm:"not null"`
	Checksum  string `gorm:"not null"`
	Processed bool   `gorm:"not null;index"`
}

type CompressedContentModel struct {
	ID             string    `gorm:"primaryKey"`
	PartitionKey   string    `gorm:"primaryKey"`
	RoomID         string    `gorm:"not null;index"`
	Codec          string    `gorm:"not null"`
	Compressed     []byte
	OriginalLength int64     `gorm:"not null"`
	Checksum       string    `gorm:"not null"`
	ColdStorageURI string
	Lifecycle      string    `gorm:"not null;index"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (CompressedContentModel) TableName() string { return "compressed_contents" }

type MembershipModel struct {
	RoomID         string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey"`
	Role           string `gorm:"not null"`
	StrikeCount    int    `gorm:"not null"`
	ProbationUntil time.Time
	LastWarningAt  time.Time
	BanReason      string
	UpdatedAt      time.Time `gorm:"not null"`
}

type AuditEntryModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EventTime time.Time `gorm:"not null"`
	EventType string    `gorm:"not null;index"`
	RoomID    string    `gorm:"index"`
	UserID    string
	MessageID string
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Actor     string         `gorm:"not null"`
	Hash      string         `gorm:"not null"`
	PrevHash  string         `gorm:"not null"`
	ChainHash string         `gorm:"not null"`
	NodeID    string         `gorm:"not null;index"`
}

type QueueItemModel struct {
	ID            string    `gorm:"primaryKey"`
	Queue         string    `gorm:"not null;index:idx_queue_claim"`
	SubjectID     string    `gorm:"not null"`
	Status        string    `gorm:"not null;index:idx_queue_claim"`
	Attempts      int       `gorm:"not null"`
	MaxAttempts   int       `gorm:"not null"`
	LastAttemptAt time.Time
	ErrorMessage  string
	CreatedAt     time.Time `gorm:"not null"`
}

type RetentionScheduleModel struct {
	ResourceType string    `gorm:"primaryKey"`
	ResourceID   string    `gorm:"primaryKey"`
	Action       string    `gorm:"primaryKey"`
	ScheduledFor time.Time `gorm:"not null;index"`
	Status       string    `gorm:"not null;index"`
	OnHold       bool      `gorm:"not null"`
	HoldReason   string
	CreatedAt    time.Time `gorm:"not null"`
}

type LegalHoldModel struct {
	ResourceType string    `gorm:"primaryKey"`
	ResourceID   string    `gorm:"primaryKey"`
	HoldUntil    time.Time `gorm:"not null"`
	Reason       string
	Actor        string
	CreatedAt    time.Time `gorm:"not null"`
}
