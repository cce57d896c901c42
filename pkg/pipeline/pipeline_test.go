package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"roomledger/pkg/config"
	"roomledger/pkg/domain"
	"roomledger/pkg/ledger"
	"roomledger/pkg/queue"
	"roomledger/pkg/storage"
	"roomledger/pkg/store"
)

type fixture struct {
	store    *store.MemoryStore
	ledger   *ledger.Ledger
	cold     *storage.MemoryColdStore
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	l := ledger.New(s, 0)
	cold := storage.NewMemoryColdStore("test")
	q, err := queue.NewStoreQueue(s, "encode", 3, time.Minute)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	p, err := New(Options{
		Store:       s,
		Ledger:      l,
		Cold:        cold,
		Rules:       config.NewProvider(nil),
		EncodeQueue: q,
		NodeID:      "node-test",
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return &fixture{store: s, ledger: l, cold: cold, pipeline: p}
}

func textPayload() []byte {
	return bytes.Repeat([]byte("compressible message body text\n"), 32)
}

func (f *fixture) intakeAndEncode(t *testing.T, payload []byte, mime string) domain.RawContent {
	t.Helper()
	ctx := context.Background()
	raw, _, err := f.pipeline.Intake(ctx, "room-1", payload, mime)
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if _, err := f.pipeline.EnqueueEncode(ctx, raw.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.pipeline.ProcessBatch(ctx, 10); err != nil {
		t.Fatalf("process: %v", err)
	}
	return raw
}

func TestIntakeEncodeFetchRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := textPayload()
	raw := f.intakeAndEncode(t, payload, "text/plain")

	cc, ok, err := f.store.GetCompressed(ctx, raw.ID)
	if err != nil || !ok {
		t.Fatalf("compressed row missing: %v ok=%v", err, ok)
	}
	if cc.Codec != "zstd" {
		t.Fatalf("codec = %q, want zstd", cc.Codec)
	}
	if cc.Lifecycle != domain.LifecycleHot {
		t.Fatalf("lifecycle = %s", cc.Lifecycle)
	}
	if len(cc.Compressed) >= len(payload) {
		t.Fatalf("no size reduction: %d >= %d", len(cc.Compressed), len(payload))
	}

	got, err := f.pipeline.Fetch(ctx, raw.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("fetch returned different bytes")
	}
	if err := f.ledger.VerifyChain(ctx, "node-test"); err != nil {
		t.Fatalf("chain: %v", err)
	}
}

func TestEncodeUsesCodecTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := f.intakeAndEncode(t, textPayload(), "image/png")

	cc, ok, _ := f.store.GetCompressed(ctx, raw.ID)
	if !ok {
		t.Fatal("compressed row missing")
	}
	if cc.Codec != "none" {
		t.Fatalf("codec for image/* = %q, want none", cc.Codec)
	}
}

func TestEncodeRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := f.intakeAndEncode(t, textPayload(), "text/plain")

	// deliver the same subject again through a fresh queue item
	if _, err := f.pipeline.EnqueueEncode(ctx, raw.ID); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if _, err := f.pipeline.ProcessBatch(ctx, 10); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	cc, ok, _ := f.store.GetCompressed(ctx, raw.ID)
	if !ok || cc.ID != raw.ID {
		t.Fatal("compressed row disturbed by redelivery")
	}
}

func TestMoveToColdAndFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := textPayload()
	raw := f.intakeAndEncode(t, payload, "text/plain")

	if err := f.pipeline.MoveToCold(ctx, raw.ID); err != nil {
		t.Fatalf("move: %v", err)
	}
	cc, _, _ := f.store.GetCompressed(ctx, raw.ID)
	if cc.Lifecycle != domain.LifecycleCold {
		t.Fatalf("lifecycle = %s, want cold", cc.Lifecycle)
	}
	if cc.ColdStorageURI == "" {
		t.Fatal("no cold uri recorded")
	}
	if f.cold.Len() != 1 {
		t.Fatalf("cold store holds %d objects, want 1", f.cold.Len())
	}

	// second move is a no-op
	if err := f.pipeline.MoveToCold(ctx, raw.ID); err != nil {
		t.Fatalf("second move: %v", err)
	}
	if f.cold.Len() != 1 {
		t.Fatalf("cold store holds %d objects after repeat move", f.cold.Len())
	}

	got, err := f.pipeline.Fetch(ctx, raw.ID)
	if err != nil {
		t.Fatalf("fetch from cold: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("cold fetch returned different bytes")
	}
}

func TestDisposePurgeRemovesColdObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := f.intakeAndEncode(t, textPayload(), "text/plain")
	if err := f.pipeline.MoveToCold(ctx, raw.ID); err != nil {
		t.Fatalf("move: %v", err)
	}

	if err := f.pipeline.Dispose(ctx, raw.ID, true); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if f.cold.Len() != 0 {
		t.Fatalf("cold object not deleted")
	}
	if _, err := f.pipeline.Fetch(ctx, raw.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("fetch after dispose: %v, want ErrNotFound", err)
	}
}

func TestDisposeBlockedByHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := f.intakeAndEncode(t, textPayload(), "text/plain")
	if err := f.store.ApplyHold(ctx, domain.LegalHold{
		ResourceType: domain.ResourceCompressedContent,
		ResourceID:   raw.ID,
		HoldUntil:    time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := f.pipeline.Dispose(ctx, raw.ID, false); !errors.Is(err, domain.ErrHoldActive) {
		t.Fatalf("dispose under hold: %v, want ErrHoldActive", err)
	}
}

func TestProcessDueTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	raw := f.intakeAndEncode(t, textPayload(), "text/plain")

	if _, err := f.store.ScheduleRetention(ctx, domain.RetentionScheduleEntry{
		ResourceType: domain.ResourceCompressedContent,
		ResourceID:   raw.ID,
		Action:       domain.ActionMoveToCold,
		ScheduledFor: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	executed, err := f.pipeline.ProcessDueTransitions(ctx, now, 10)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}
	cc, _, _ := f.store.GetCompressed(ctx, raw.ID)
	if cc.Lifecycle != domain.LifecycleCold {
		t.Fatalf("lifecycle = %s, want cold", cc.Lifecycle)
	}
	// the schedule row is cleared, not re-executed
	if executed, err = f.pipeline.ProcessDueTransitions(ctx, now, 10); err != nil || executed != 0 {
		t.Fatalf("second run executed %d (%v), want 0", executed, err)
	}
}

func TestProcessDueTransitionsSkipsHeldResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	raw := f.intakeAndEncode(t, textPayload(), "text/plain")

	if _, err := f.store.ScheduleRetention(ctx, domain.RetentionScheduleEntry{
		ResourceType: domain.ResourceCompressedContent,
		ResourceID:   raw.ID,
		Action:       domain.ActionDelete,
		ScheduledFor: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := f.store.ApplyHold(ctx, domain.LegalHold{
		ResourceType: domain.ResourceCompressedContent,
		ResourceID:   raw.ID,
		HoldUntil:    now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	executed, err := f.pipeline.ProcessDueTransitions(ctx, now, 10)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if executed != 0 {
		t.Fatalf("executed = %d under hold, want 0", executed)
	}
	cc, _, _ := f.store.GetCompressed(ctx, raw.ID)
	if cc.Lifecycle != domain.LifecycleHot {
		t.Fatalf("lifecycle = %s, want hot", cc.Lifecycle)
	}
}

func TestIncompressiblePayloadFallsBackToNone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// high-entropy payload defeats zstd
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i*7 + i*i*13 + 5)
	}
	raw := f.intakeAndEncode(t, payload, "text/plain")
	cc, ok, _ := f.store.GetCompressed(ctx, raw.ID)
	if !ok {
		t.Fatal("compressed row missing")
	}
	if cc.Codec == "zstd" && len(cc.Compressed) >= len(payload) {
		t.Fatalf("stored larger-than-original zstd payload")
	}
	got, err := f.pipeline.Fetch(ctx, raw.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip mismatch")
	}
}
