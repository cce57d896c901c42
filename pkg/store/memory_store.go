package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomledger/pkg/domain"
)

// MemoryStore is the in-memory Store used by tests and dev mode. A single
// mutex guards all state, which gives every call the same all-or-nothing
// visibility the Postgres transactions do.
type MemoryStore struct {
	mu sync.Mutex

	messages    map[string]domain.Message
	raw         map[string]domain.RawContent
	compressed  map[string]domain.CompressedContent
	partitions  map[string]bool
	memberships map[string]domain.RoomMembership

	audit       []domain.AuditEntry
	nextAuditID int64
	chainTips   map[string]string

	queues     map[string]domain.QueueItem
	queueOrder []string

	retention      map[string]domain.RetentionScheduleEntry
	retentionOrder []string
	holds          map[string]domain.LegalHold
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string]domain.Message),
		raw:         make(map[string]domain.RawContent),
		compressed:  make(map[string]domain.CompressedContent),
		partitions:  make(map[string]bool),
		memberships: make(map[string]domain.RoomMembership),
		chainTips:   make(map[string]string),
		queues:      make(map[string]domain.QueueItem),
		retention:   make(map[string]domain.RetentionScheduleEntry),
		holds:       make(map[string]domain.LegalHold),
	}
}

func membershipKey(roomID, userID string) string { return roomID + "|" + userID }
func resourceKey(resourceType, id string) string { return resourceType + "|" + id }
func retentionKey(rt, id, action string) string  { return rt + "|" + id + "|" + action }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	return msg, ok, nil
}

func (s *MemoryStore) FlagMessage(ctx context.Context, id string, flags domain.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("flag message %s: %w", id, domain.ErrNotFound)
	}
	msg.Flags = flags
	msg.IsFlagged = true
	s.messages[id] = msg
	return nil
}

func (s *MemoryStore) InsertRawContent(ctx context.Context, raw domain.RawContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.raw[raw.ID]; ok {
		return fmt.Errorf("raw content %s already exists", raw.ID)
	}
	raw.Payload = cloneBytes(raw.Payload)
	s.raw[raw.ID] = raw
	return nil
}

func (s *MemoryStore) GetRawContent(ctx context.Context, id string) (domain.RawContent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raw[id]
	if !ok {
		return domain.RawContent{}, false, nil
	}
	raw.Payload = cloneBytes(raw.Payload)
	return raw, true, nil
}

func (s *MemoryStore) CreatePartitionIfNeeded(ctx context.Context, partitionKey string) error {
	if !partitionKeyPattern.MatchString(partitionKey) {
		return fmt.Errorf("invalid partition key %q", partitionKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[partitionKey] = true
	return nil
}

func (s *MemoryStore) EncodeRawToCompressed(ctx context.Context, cc domain.CompressedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raw[cc.ID]
	if !ok {
		return fmt.Errorf("raw content %s: %w", cc.ID, domain.ErrNotFound)
	}
	if raw.Processed {
		return fmt.Errorf("raw content %s: %w", cc.ID, domain.ErrAlreadyProcessed)
	}
	if !s.partitions[cc.PartitionKey] {
		return fmt.Errorf("partition %s does not exist", cc.PartitionKey)
	}
	cc.Compressed = cloneBytes(cc.Compressed)
	s.compressed[cc.ID] = cc
	raw.Processed = true
	s.raw[cc.ID] = raw
	return nil
}

func (s *MemoryStore) GetCompressed(ctx context.Context, id string) (domain.CompressedContent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.compressed[id]
	if !ok {
		return domain.CompressedContent{}, false, nil
	}
	cc.Compressed = cloneBytes(cc.Compressed)
	return cc, true, nil
}

func (s *MemoryStore) MarkColdStorage(ctx context.Context, id, uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.compressed[id]
	if !ok || cc.Lifecycle != domain.LifecycleHot {
		return false, nil
	}
	cc.ColdStorageURI = uri
	cc.Lifecycle = domain.LifecycleCold
	s.compressed[id] = cc
	return true, nil
}

func (s *MemoryStore) DisposeCompressed(ctx context.Context, id string, purge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hold, ok := s.holds[resourceKey(domain.ResourceCompressedContent, id)]; ok && hold.Active(time.Now().UTC()) {
		return fmt.Errorf("dispose %s: %w", id, domain.ErrHoldActive)
	}
	cc, ok := s.compressed[id]
	if !ok {
		return fmt.Errorf("compressed content %s: %w", id, domain.ErrNotFound)
	}
	cc.Lifecycle = domain.LifecycleDeleted
	if purge {
		cc.Compressed = make([]byte, len(cc.Compressed))
		cc.ColdStorageURI = ""
	}
	s.compressed[id] = cc
	return nil
}

func (s *MemoryStore) ListCompressedByLifecycle(ctx context.Context, state domain.LifecycleState, createdBefore time.Time) ([]domain.CompressedContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CompressedContent
	for _, cc := range s.compressed {
		if cc.Lifecycle == state && cc.CreatedAt.Before(createdBefore) {
			cc.Compressed = cloneBytes(cc.Compressed)
			out = append(out, cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetMembership(ctx context.Context, roomID, userID string) (domain.RoomMembership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(roomID, userID)]
	return m, ok, nil
}

func (s *MemoryStore) UpsertMembership(ctx context.Context, m domain.RoomMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[membershipKey(m.RoomID, m.UserID)] = m
	return nil
}

func (s *MemoryStore) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	entry.ID = s.nextAuditID
	s.audit = append(s.audit, entry)
	s.chainTips[entry.NodeID] = entry.ChainHash
	return entry.ID, nil
}

func (s *MemoryStore) LatestChainHash(ctx context.Context, nodeID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tip, ok := s.chainTips[nodeID]
	return tip, ok, nil
}

func (s *MemoryStore) ListAuditByNode(ctx context.Context, nodeID string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAuditByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audit[i].RoomID == roomID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) EnqueueItem(ctx context.Context, queue, subjectID string, maxAttempts int) (domain.QueueItem, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item := domain.QueueItem{
		ID:          newQueueItemID(),
		Queue:       queue,
		SubjectID:   subjectID,
		Status:      domain.QueuePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	s.queues[item.ID] = item
	s.queueOrder = append(s.queueOrder, item.ID)
	return item, nil
}

func (s *MemoryStore) ClaimQueueBatch(ctx context.Context, queue string, limit int, reclaimAfter time.Duration) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var claimed []domain.QueueItem
	for _, id := range s.queueOrder {
		if len(claimed) >= limit {
			break
		}
		item := s.queues[id]
		if item.Queue != queue || item.Attempts >= item.MaxAttempts {
			continue
		}
		eligible := item.Status == domain.QueuePending ||
			(reclaimAfter > 0 && item.Status == domain.QueueProcessing &&
				item.LastAttemptAt.Before(now.Add(-reclaimAfter)))
		if !eligible {
			continue
		}
		item.Status = domain.QueueProcessing
		item.Attempts++
		item.LastAttemptAt = now
		s.queues[id] = item
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkQueueDone(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queues[itemID]
	if !ok {
		return fmt.Errorf("queue item %s: %w", itemID, domain.ErrNotFound)
	}
	item.Status = domain.QueueDone
	item.ErrorMessage = ""
	s.queues[itemID] = item
	return nil
}

func (s *MemoryStore) MarkQueueFailed(ctx context.Context, itemID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queues[itemID]
	if !ok {
		return fmt.Errorf("queue item %s: %w", itemID, domain.ErrNotFound)
	}
	if item.Attempts >= item.MaxAttempts {
		item.Status = domain.QueueFailed
	} else {
		item.Status = domain.QueuePending
	}
	item.ErrorMessage = errMsg
	s.queues[itemID] = item
	return nil
}

func (s *MemoryStore) GetQueueItem(ctx context.Context, itemID string) (domain.QueueItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queues[itemID]
	return item, ok, nil
}

func (s *MemoryStore) ScheduleRetention(ctx context.Context, entry domain.RetentionScheduleEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := retentionKey(entry.ResourceType, entry.ResourceID, string(entry.Action))
	if existing, ok := s.retention[key]; ok && existing.Status != domain.RetentionDone {
		return false, nil
	}
	entry.Status = domain.RetentionPending
	entry.OnHold = false
	if hold, ok := s.holds[resourceKey(entry.ResourceType, entry.ResourceID)]; ok && hold.Active(time.Now().UTC()) {
		entry.Status = domain.RetentionOnHold
		entry.OnHold = true
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.retention[key]; !ok {
		s.retentionOrder = append(s.retentionOrder, key)
	}
	s.retention[key] = entry
	return true, nil
}

func (s *MemoryStore) DueRetention(ctx context.Context, now time.Time, limit int) ([]domain.RetentionScheduleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RetentionScheduleEntry
	for _, key := range s.retentionOrder {
		entry := s.retention[key]
		if entry.Status == domain.RetentionPending && !entry.ScheduledFor.After(now) {
			out = append(out, entry)
			if len(out) >= limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (s *MemoryStore) ListRetention(ctx context.Context, limit int) ([]domain.RetentionScheduleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RetentionScheduleEntry
	for i := len(s.retentionOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.retention[s.retentionOrder[i]])
	}
	return out, nil
}

func (s *MemoryStore) CompleteRetention(ctx context.Context, resourceType, resourceID string, action domain.RetentionAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := retentionKey(resourceType, resourceID, string(action))
	entry, ok := s.retention[key]
	if !ok {
		return nil
	}
	entry.Status = domain.RetentionDone
	entry.OnHold = false
	entry.HoldReason = ""
	s.retention[key] = entry
	return nil
}

func (s *MemoryStore) ApplyHold(ctx context.Context, hold domain.LegalHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hold.CreatedAt.IsZero() {
		hold.CreatedAt = time.Now().UTC()
	}
	s.holds[resourceKey(hold.ResourceType, hold.ResourceID)] = hold
	for key, entry := range s.retention {
		if entry.ResourceType == hold.ResourceType && entry.ResourceID == hold.ResourceID &&
			entry.Status == domain.RetentionPending {
			entry.Status = domain.RetentionOnHold
			entry.OnHold = true
			entry.HoldReason = hold.Reason
			s.retention[key] = entry
		}
	}
	return nil
}

func (s *MemoryStore) ReleaseHold(ctx context.Context, resourceType, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, resourceKey(resourceType, resourceID))
	for key, entry := range s.retention {
		if entry.ResourceType == resourceType && entry.ResourceID == resourceID &&
			entry.Status == domain.RetentionOnHold {
			entry.Status = domain.RetentionPending
			entry.OnHold = false
			entry.HoldReason = ""
			s.retention[key] = entry
		}
	}
	return nil
}

func (s *MemoryStore) ActiveHold(ctx context.Context, resourceType, resourceID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold, ok := s.holds[resourceKey(resourceType, resourceID)]
	return ok && hold.Active(now), nil
}
