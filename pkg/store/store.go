package store

import (
	"context"
	"time"

	"roomledger/pkg/domain"
)

// Store defines persistence for messages, content, memberships, the audit
// ledger, work queues, and retention state. Two implementations exist:
// GormStore (Postgres) for deployments and MemoryStore for tests and dev
// mode. Every mutation is atomic per call; partial application is never
// observable through this interface.
type Store interface {
	// messages. ContentHash and AuditHashChain are write-once; FlagMessage
	// is the only post-insert mutation and touches flag fields alone.
	InsertMessage(ctx context.Context, msg domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, bool, error)
	FlagMessage(ctx context.Context, id string, flags domain.Value) error

	// raw content
	InsertRawContent(ctx context.Context, raw domain.RawContent) error
	GetRawContent(ctx context.Context, id string) (domain.RawContent, bool, error)

	// compressed content. EncodeRawToCompressed is one atomic step: it
	// fails with domain.ErrAlreadyProcessed when the raw row was already
	// consumed, which makes queue re-delivery safe.
	CreatePartitionIfNeeded(ctx context.Context, partitionKey string) error
	EncodeRawToCompressed(ctx context.Context, cc domain.CompressedContent) error
	GetCompressed(ctx context.Context, id string) (domain.CompressedContent, bool, error)
	MarkColdStorage(ctx context.Context, id, uri string) (bool, error)
	DisposeCompressed(ctx context.Context, id string, purge bool) error
	ListCompressedByLifecycle(ctx context.Context, state domain.LifecycleState, createdBefore time.Time) ([]domain.CompressedContent, error)

	// room memberships
	GetMembership(ctx context.Context, roomID, userID string) (domain.RoomMembership, bool, error)
	UpsertMembership(ctx context.Context, m domain.RoomMembership) error

	// audit ledger rows. Append-only: no update or delete exists.
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) (int64, error)
	LatestChainHash(ctx context.Context, nodeID string) (string, bool, error)
	ListAuditByNode(ctx context.Context, nodeID string) ([]domain.AuditEntry, error)
	ListAuditByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error)

	// work queues. ClaimQueueBatch atomically selects up to limit eligible
	// items, stamps them processing, and increments attempts. Rows already
	// claimed by an in-flight caller are skipped, never waited on.
	// Items stuck in processing longer than reclaimAfter become eligible
	// again (zero disables reclaim).
	EnqueueItem(ctx context.Context, queue, subjectID string, maxAttempts int) (domain.QueueItem, error)
	ClaimQueueBatch(ctx context.Context, queue string, limit int, reclaimAfter time.Duration) ([]domain.QueueItem, error)
	MarkQueueDone(ctx context.Context, itemID string) error
	MarkQueueFailed(ctx context.Context, itemID, errMsg string) error
	GetQueueItem(ctx context.Context, itemID string) (domain.QueueItem, bool, error)

	// retention schedule and legal holds. ScheduleRetention reports false
	// when an equivalent non-terminal entry already exists (idempotent
	// insert); an active hold downgrades the new entry to on_hold.
	ScheduleRetention(ctx context.Context, entry domain.RetentionScheduleEntry) (bool, error)
	DueRetention(ctx context.Context, now time.Time, limit int) ([]domain.RetentionScheduleEntry, error)
	ListRetention(ctx context.Context, limit int) ([]domain.RetentionScheduleEntry, error)
	CompleteRetention(ctx context.Context, resourceType, resourceID string, action domain.RetentionAction) error
	ApplyHold(ctx context.Context, hold domain.LegalHold) error
	ReleaseHold(ctx context.Context, resourceType, resourceID string) error
	ActiveHold(ctx context.Context, resourceType, resourceID string, now time.Time) (bool, error)
}
