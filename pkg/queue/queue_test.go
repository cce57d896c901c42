package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomledger/pkg/domain"
	"roomledger/pkg/store"
)

func TestStoreQueueRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	q, err := NewStoreQueue(s, "encode", 3, time.Minute)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "content-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(items) != 1 || items[0].ID != id || items[0].SubjectID != "content-1" {
		t.Fatalf("unexpected claim result: %+v", items)
	}
	if err := q.MarkDone(ctx, id); err != nil {
		t.Fatalf("done: %v", err)
	}
	got, ok, err := s.GetQueueItem(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if got.Status != domain.QueueDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
}

func TestStoreQueueRetriesThenFails(t *testing.T) {
	s := store.NewMemoryStore()
	q, err := NewStoreQueue(s, "encode", 2, time.Minute)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	id, err := q.Enqueue(ctx, "content-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	boom := errors.New("codec exploded")
	for i := 0; i < 2; i++ {
		items, err := q.ClaimBatch(ctx, 1)
		if err != nil || len(items) != 1 {
			t.Fatalf("claim %d: %v items=%d", i, err, len(items))
		}
		if err := q.MarkFailed(ctx, id, boom); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}
	got, _, _ := s.GetQueueItem(ctx, id)
	if got.Status != domain.QueueFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage != "codec exploded" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestStoreQueueRejectsEmptySubject(t *testing.T) {
	q, err := NewStoreQueue(store.NewMemoryStore(), "encode", 3, time.Minute)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
