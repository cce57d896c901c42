package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"roomledger/pkg/domain"
)

func newTestRedisQueue(t *testing.T, maxAttempts int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueueWithClient(client, "encode", maxAttempts, 5*time.Minute), mr
}

func TestRedisQueueEnqueueClaimDone(t *testing.T) {
	q, _ := newTestRedisQueue(t, 3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "content-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("claimed %d items, want 1", len(items))
	}
	if items[0].ID != id || items[0].SubjectID != "content-1" {
		t.Fatalf("unexpected item: %+v", items[0])
	}
	if items[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", items[0].Attempts)
	}

	if err := q.MarkDone(ctx, id); err != nil {
		t.Fatalf("done: %v", err)
	}
	got, ok, err := q.GetItem(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if got.Status != domain.QueueDone {
		t.Fatalf("status = %s, want done", got.Status)
	}

	// stream drained
	more, err := q.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(more) != 0 {
		t.Fatalf("claimed %d items from a drained stream", len(more))
	}
}

func TestRedisQueueMarkFailedRequeues(t *testing.T) {
	q, _ := newTestRedisQueue(t, 3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "content-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.ClaimBatch(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("claim: %v items=%d", err, len(items))
	}
	if err := q.MarkFailed(ctx, id, errors.New("transient")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	retried, err := q.ClaimBatch(ctx, 1)
	if err != nil || len(retried) != 1 {
		t.Fatalf("reclaim: %v items=%d", err, len(retried))
	}
	if retried[0].SubjectID != "content-1" {
		t.Fatalf("subject = %q", retried[0].SubjectID)
	}
	if retried[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", retried[0].Attempts)
	}
	if retried[0].ID == id {
		t.Fatal("requeued item kept the old stream id")
	}
}

func TestRedisQueueMarkFailedTerminal(t *testing.T) {
	q, _ := newTestRedisQueue(t, 1)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "content-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.ClaimBatch(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("claim: %v items=%d", err, len(items))
	}
	if err := q.MarkFailed(ctx, id, errors.New("fatal")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, ok, err := q.GetItem(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if got.Status != domain.QueueFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if more, _ := q.ClaimBatch(ctx, 1); len(more) != 0 {
		t.Fatalf("terminally failed item was redelivered")
	}
}

func TestRedisQueueReclaimsIdleMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	crashed := NewRedisQueueWithClient(client, "encode", 3, 50*time.Millisecond)
	ctx := context.Background()
	if _, err := crashed.Enqueue(ctx, "content-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := crashed.ClaimBatch(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("claim: %v items=%d", err, len(items))
	}
	// the crashed worker never acks; advance past the idle threshold
	mr.FastForward(time.Second)

	survivor := NewRedisQueueWithClient(client, "encode", 3, 50*time.Millisecond)
	reclaimed, err := survivor.ClaimBatch(ctx, 1)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("reclaimed %d items, want 1", len(reclaimed))
	}
	if reclaimed[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", reclaimed[0].Attempts)
	}
}
