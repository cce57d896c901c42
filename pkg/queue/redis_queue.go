package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"roomledger/pkg/domain"
)

// RedisQueue implements Queue on a Redis stream with a consumer group.
// Claimed-but-unacked messages idle longer than claimIdle are stolen back
// with XAUTOCLAIM before new messages are read, which covers crashed
// workers. Attempt counts live in a per-item status hash.
type RedisQueue struct {
	client      *redis.Client
	stream      string
	group       string
	consumer    string
	name        string
	maxAttempts int
	claimIdle   time.Duration
	itemTTL     time.Duration
	maxLen      int64
	once        sync.Once
}

type RedisQueueConfig struct {
	Addr        string
	Password    string
	Name        string
	MaxAttempts int
	ClaimIdle   time.Duration
	ItemTTL     time.Duration
	MaxLen      int64
}

// NewRedisQueue connects and fills config defaults.
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("queue name required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 5 * time.Minute
	}
	itemTTL := cfg.ItemTTL
	if itemTTL <= 0 {
		itemTTL = 24 * time.Hour
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisQueue{
		client:      redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:      "queue:" + name,
		group:       name + "-workers",
		consumer:    uuid.NewString(),
		name:        name,
		maxAttempts: maxAttempts,
		claimIdle:   claimIdle,
		itemTTL:     itemTTL,
		maxLen:      maxLen,
	}, nil
}

// NewRedisQueueWithClient is the test seam; it reuses an existing client.
func NewRedisQueueWithClient(client *redis.Client, name string, maxAttempts int, claimIdle time.Duration) *RedisQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if claimIdle <= 0 {
		claimIdle = 5 * time.Minute
	}
	return &RedisQueue{
		client:      client,
		stream:      "queue:" + name,
		group:       name + "-workers",
		consumer:    uuid.NewString(),
		name:        name,
		maxAttempts: maxAttempts,
		claimIdle:   claimIdle,
		itemTTL:     24 * time.Hour,
		maxLen:      10000,
	}
}

func (q *RedisQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// surfaces on the first claim if the group truly failed
		}
	})
}

func (q *RedisQueue) Enqueue(ctx context.Context, subjectID string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", errors.New("subject id required")
	}
	q.ensureGroup(ctx)
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"subject_id": subjectID},
	}).Result()
	if err != nil {
		return "", err
	}
	item := domain.QueueItem{
		ID:          id,
		Queue:       q.name,
		SubjectID:   subjectID,
		Status:      domain.QueuePending,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.writeStatus(ctx, item); err != nil {
		return "", err
	}
	return id, nil
}

// ClaimBatch steals idle pending messages first, then reads fresh ones.
// Each returned item carries its incremented attempt count.
func (q *RedisQueue) ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	q.ensureGroup(ctx)

	var msgs []redis.XMessage
	reclaimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    int64(limit),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	msgs = append(msgs, reclaimed...)

	if len(msgs) < limit {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    int64(limit - len(msgs)),
			Block:    time.Millisecond,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		for _, s := range streams {
			msgs = append(msgs, s.Messages...)
		}
	}

	var items []domain.QueueItem
	for _, msg := range msgs {
		subjectID, _ := msg.Values["subject_id"].(string)
		if subjectID == "" {
			q.ack(ctx, msg.ID)
			continue
		}
		item, err := q.markProcessing(ctx, msg.ID, subjectID)
		if err != nil {
			return items, err
		}
		if item.Attempts > item.MaxAttempts {
			// poison message: park it and drop from the stream
			item.Status = domain.QueueFailed
			_ = q.writeStatus(ctx, item)
			q.ack(ctx, msg.ID)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *RedisQueue) MarkDone(ctx context.Context, itemID string) error {
	item, ok, err := q.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.QueueDone
	item.ErrorMessage = ""
	if err := q.writeStatus(ctx, item); err != nil {
		return err
	}
	q.ack(ctx, itemID)
	return nil
}

// MarkFailed requeues the subject as a new message while attempts remain,
// otherwise parks the item in the terminal failed state. Either way the
// original message is acked so it stops being redelivered.
func (q *RedisQueue) MarkFailed(ctx context.Context, itemID string, cause error) error {
	item, ok, err := q.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	if cause != nil {
		item.ErrorMessage = cause.Error()
	}
	if item.Attempts >= item.MaxAttempts {
		item.Status = domain.QueueFailed
		if err := q.writeStatus(ctx, item); err != nil {
			return err
		}
		q.ack(ctx, itemID)
		return nil
	}

	pipe := q.client.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"subject_id": item.SubjectID},
	})
	pipe.XAck(ctx, q.stream, q.group, itemID)
	pipe.XDel(ctx, q.stream, itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	item.ID = add.Val()
	item.Status = domain.QueuePending
	if err := q.writeStatus(ctx, item); err != nil {
		return err
	}
	return q.client.Del(ctx, q.itemKey(itemID)).Err()
}

// GetItem reads an item's status hash.
func (q *RedisQueue) GetItem(ctx context.Context, itemID string) (domain.QueueItem, bool, error) {
	data, err := q.client.HGetAll(ctx, q.itemKey(itemID)).Result()
	if err != nil {
		return domain.QueueItem{}, false, err
	}
	if len(data) == 0 {
		return domain.QueueItem{}, false, nil
	}
	return decodeItem(itemID, q.name, data), true, nil
}

func (q *RedisQueue) markProcessing(ctx context.Context, itemID, subjectID string) (domain.QueueItem, error) {
	item, ok, err := q.GetItem(ctx, itemID)
	if err != nil {
		return domain.QueueItem{}, err
	}
	if !ok {
		item = domain.QueueItem{
			ID:          itemID,
			Queue:       q.name,
			MaxAttempts: q.maxAttempts,
			CreatedAt:   time.Now().UTC(),
		}
	}
	item.SubjectID = subjectID
	item.Status = domain.QueueProcessing
	item.Attempts++
	item.LastAttemptAt = time.Now().UTC()
	if err := q.writeStatus(ctx, item); err != nil {
		return domain.QueueItem{}, err
	}
	return item, nil
}

func (q *RedisQueue) ack(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisQueue) writeStatus(ctx context.Context, item domain.QueueItem) error {
	payload := map[string]any{
		"subject_id":      item.SubjectID,
		"status":          string(item.Status),
		"attempts":        strconv.Itoa(item.Attempts),
		"max_attempts":    strconv.Itoa(item.MaxAttempts),
		"last_attempt_at": item.LastAttemptAt.Format(time.RFC3339Nano),
		"error":           item.ErrorMessage,
		"created_at":      item.CreatedAt.Format(time.RFC3339Nano),
	}
	key := q.itemKey(item.ID)
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	return q.client.Expire(ctx, key, q.itemTTL).Err()
}

func (q *RedisQueue) itemKey(itemID string) string {
	return "queueitem:" + q.name + ":" + itemID
}

func decodeItem(itemID, queue string, data map[string]string) domain.QueueItem {
	item := domain.QueueItem{ID: itemID, Queue: queue}
	item.SubjectID = data["subject_id"]
	item.Status = domain.QueueStatus(data["status"])
	item.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			item.Attempts = n
		}
	}
	if v := data["max_attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			item.MaxAttempts = n
		}
	}
	if v := data["last_attempt_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.LastAttemptAt = t
		}
	}
	if v := data["created_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.CreatedAt = t
		}
	}
	return item
}
