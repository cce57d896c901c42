package domain

import "time"

// LifecycleState tracks where compressed content sits in the archive pipeline.
type LifecycleState string

const (
	LifecycleHot     LifecycleState = "hot"
	LifecycleCold    LifecycleState = "cold"
	LifecycleDeleted LifecycleState = "deleted"
)

// QueueStatus is the lifecycle of a work-queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
	QueueFailed     QueueStatus = "failed"
)

// Role is a member's standing inside a room. Transitions are
// escalate-only: a banned member is never auto-demoted.
type Role string

const (
	RoleMember Role = "member"
	RoleMod    Role = "mod"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
	RoleBanned Role = "banned"
)

// RetentionAction names a lifecycle transition proposed by the scheduler.
type RetentionAction string

const (
	ActionMoveToCold RetentionAction = "move_to_cold"
	ActionDelete     RetentionAction = "delete"
)

// RetentionStatus is the state of a pending schedule entry.
type RetentionStatus string

const (
	RetentionPending RetentionStatus = "pending"
	RetentionOnHold  RetentionStatus = "on_hold"
	RetentionDone    RetentionStatus = "done"
)

// ResourceCompressedContent is the resource type used for schedule entries
// and legal holds that target archived content.
const ResourceCompressedContent = "compressed_content"

// AuditEntry is one row of the append-only, hash-chained audit log.
// Entries are immutable once written; ids are monotonic per store.
type AuditEntry struct {
	ID        int64     `json:"id"`
	EventTime time.Time `json:"eventTime"`
	EventType string    `json:"eventType"`
	RoomID    string    `json:"roomId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Payload   Value     `json:"payload"`
	Actor     string    `json:"actor"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prevHash"`
	ChainHash string    `json:"chainHash"`
	NodeID    string    `json:"nodeId"`
}

// RawContent holds intake bytes until the compression pipeline consumes them.
type RawContent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	Payload   []byte    `json:"-"`
	MimeType  string    `json:"mimeType"`
	Length    int64     `json:"length"`
	Checksum  string    `json:"checksum"`
	Processed bool      `json:"processed"`
}

// CompressedContent is the archived form of a raw content item. Checksum is
// computed over the original payload so a decompressed copy can be verified
// end to end. Compressed bytes are zeroed, not merely flagged, on secure purge.
type CompressedContent struct {
	ID             string         `json:"id"`
	RoomID         string         `json:"roomId"`
	PartitionKey   string         `json:"partitionKey"`
	Codec          string         `json:"codec"`
	Compressed     []byte         `json:"-"`
	OriginalLength int64          `json:"originalLength"`
	Checksum       string         `json:"checksum"`
	ColdStorageURI string         `json:"coldStorageUri,omitempty"`
	Lifecycle      LifecycleState `json:"lifecycle"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// QueueItem is a generic work-queue row shared by the encode and moderation
// queues. At most one worker holds a claim on an item at any instant.
type QueueItem struct {
	ID            string      `json:"id"`
	Queue         string      `json:"queue"`
	SubjectID     string      `json:"subjectId"`
	Status        QueueStatus `json:"status"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"maxAttempts"`
	LastAttemptAt time.Time   `json:"lastAttemptAt"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// RoomMembership is mutated exclusively by the moderation strike engine.
// StrikeCount never decreases outside an explicit administrative reset.
type RoomMembership struct {
	RoomID         string    `json:"roomId"`
	UserID         string    `json:"userId"`
	Role           Role      `json:"role"`
	StrikeCount    int       `json:"strikeCount"`
	ProbationUntil time.Time `json:"probationUntil,omitzero"`
	LastWarningAt  time.Time `json:"lastWarningAt,omitzero"`
	BanReason      string    `json:"banReason,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// OnProbation reports whether the membership carries an active probation.
func (m RoomMembership) OnProbation(now time.Time) bool {
	return m.ProbationUntil.After(now)
}

// Message is the canonical message record. ContentHash and AuditHashChain
// are write-once: no store operation updates them after insert.
type Message struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	SenderID       string    `json:"senderId"`
	CreatedAt      time.Time `json:"createdAt"`
	ContentID      string    `json:"contentId"`
	Preview        string    `json:"preview,omitempty"`
	ContentHash    string    `json:"contentHash"`
	AuditHashChain string    `json:"auditHashChain"`
	Flags          Value     `json:"flags,omitzero"`
	IsFlagged      bool      `json:"isFlagged"`
}

// RetentionScheduleEntry is one pending lifecycle transition. At most one
// non-terminal entry exists per (resource_type, resource_id, action).
type RetentionScheduleEntry struct {
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	Action       RetentionAction `json:"action"`
	Status       RetentionStatus `json:"status"`
	OnHold       bool            `json:"onHold"`
	HoldReason   string          `json:"holdReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// LegalHold blocks disposal of a resource until HoldUntil, regardless of age.
type LegalHold struct {
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	HoldUntil    time.Time `json:"holdUntil"`
	Reason       string    `json:"reason"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Active reports whether the hold still applies at the given time.
func (h LegalHold) Active(now time.Time) bool {
	return h.HoldUntil.After(now)
}

// PartitionKeyFor derives the stable YYYY-MM partition token for a creation time.
func PartitionKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}
