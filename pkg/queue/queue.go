package queue

import (
	"context"
	"errors"
	"time"

	"roomledger/pkg/domain"
	"roomledger/pkg/store"
)

// Queue hands subjects to background workers at-least-once. Two backends
// exist: StoreQueue rides the relational store's claim semantics, and
// RedisQueue rides a Redis stream with consumer groups.
type Queue interface {
	Enqueue(ctx context.Context, subjectID string) (string, error)
	ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error)
	MarkDone(ctx context.Context, itemID string) error
	MarkFailed(ctx context.Context, itemID string, cause error) error
}

// StoreQueue is a named queue backed by the Store's queue tables.
type StoreQueue struct {
	store        store.Store
	name         string
	maxAttempts  int
	reclaimAfter time.Duration
}

// NewStoreQueue builds a queue over the store. Items stuck in processing
// longer than reclaimAfter become claimable again.
func NewStoreQueue(s store.Store, name string, maxAttempts int, reclaimAfter time.Duration) (*StoreQueue, error) {
	if name == "" {
		return nil, errors.New("queue name required")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if reclaimAfter <= 0 {
		reclaimAfter = 5 * time.Minute
	}
	return &StoreQueue{store: s, name: name, maxAttempts: maxAttempts, reclaimAfter: reclaimAfter}, nil
}

func (q *StoreQueue) Enqueue(ctx context.Context, subjectID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id required")
	}
	item, err := q.store.EnqueueItem(ctx, q.name, subjectID, q.maxAttempts)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func (q *StoreQueue) ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	return q.store.ClaimQueueBatch(ctx, q.name, limit, q.reclaimAfter)
}

func (q *StoreQueue) MarkDone(ctx context.Context, itemID string) error {
	return q.store.MarkQueueDone(ctx, itemID)
}

func (q *StoreQueue) MarkFailed(ctx context.Context, itemID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.store.MarkQueueFailed(ctx, itemID, msg)
}
