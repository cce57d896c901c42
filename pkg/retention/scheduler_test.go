package retention

import (
	"context"
	"testing"
	"time"

	"roomledger/pkg/config"
	"roomledger/pkg/domain"
	"roomledger/pkg/ledger"
	"roomledger/pkg/store"
)

type fixture struct {
	store     *store.MemoryStore
	scheduler *Scheduler
	rules     *config.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	rules := config.NewProvider(nil)
	sched, err := New(Options{
		Store:  s,
		Ledger: ledger.New(s, 0),
		Rules:  rules,
		NodeID: "node-test",
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	return &fixture{store: s, scheduler: sched, rules: rules}
}

func (f *fixture) seedContent(t *testing.T, id, roomID string, age time.Duration, state domain.LifecycleState) {
	t.Helper()
	ctx := context.Background()
	created := time.Now().UTC().Add(-age)
	if err := f.store.InsertRawContent(ctx, domain.RawContent{
		ID: id, RoomID: roomID, CreatedAt: created,
		Payload: []byte("x"), Length: 1, Checksum: "c",
	}); err != nil {
		t.Fatalf("seed raw: %v", err)
	}
	key := domain.PartitionKeyFor(created)
	if err := f.store.CreatePartitionIfNeeded(ctx, key); err != nil {
		t.Fatalf("partition: %v", err)
	}
	if err := f.store.EncodeRawToCompressed(ctx, domain.CompressedContent{
		ID: id, RoomID: roomID, PartitionKey: key, Codec: "none",
		Compressed: []byte("x"), OriginalLength: 1, Checksum: "c",
		Lifecycle: domain.LifecycleHot, CreatedAt: created,
	}); err != nil {
		t.Fatalf("seed compressed: %v", err)
	}
	if state == domain.LifecycleCold {
		if _, err := f.store.MarkColdStorage(ctx, id, "s3://test/"+id); err != nil {
			t.Fatalf("seed cold: %v", err)
		}
	}
}

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestRoomOverrideSchedulesOldItemOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := config.Default()
	rules.Retention.HotDays = 30
	rules.Retention.RoomHotDays = map[string]int{"room-r": 7}
	f.rules.Swap(rules)

	f.seedContent(t, "old", "room-r", day(10), domain.LifecycleHot)
	f.seedContent(t, "fresh", "room-r", day(3), domain.LifecycleHot)

	scheduled, err := f.scheduler.Run(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if scheduled != 1 {
		t.Fatalf("scheduled = %d, want 1", scheduled)
	}
	due, err := f.store.DueRetention(ctx, time.Now().UTC(), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("due: %v len=%d", err, len(due))
	}
	if due[0].ResourceID != "old" || due[0].Action != domain.ActionMoveToCold {
		t.Fatalf("unexpected entry: %+v", due[0])
	}
}

func TestDefaultWindowAppliesWithoutOverride(t *testing.T) {
	f := newFixture(t)
	rules := config.Default()
	rules.Retention.HotDays = 30
	f.rules.Swap(rules)

	f.seedContent(t, "c1", "room-x", day(10), domain.LifecycleHot)
	scheduled, err := f.scheduler.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if scheduled != 0 {
		t.Fatalf("scheduled = %d inside the default window", scheduled)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rules := config.Default()
	rules.Retention.HotDays = 7
	f.rules.Swap(rules)
	f.seedContent(t, "c1", "room-x", day(10), domain.LifecycleHot)

	now := time.Now().UTC()
	if scheduled, err := f.scheduler.Run(context.Background(), now); err != nil || scheduled != 1 {
		t.Fatalf("first run: %v scheduled=%d", err, scheduled)
	}
	if scheduled, err := f.scheduler.Run(context.Background(), now); err != nil || scheduled != 0 {
		t.Fatalf("second run: %v scheduled=%d", err, scheduled)
	}
}

func TestColdContentGetsDeleteEntry(t *testing.T) {
	f := newFixture(t)
	rules := config.Default()
	rules.Retention.HotDays = 7
	rules.Retention.ColdDays = 30
	f.rules.Swap(rules)
	f.seedContent(t, "c1", "room-x", day(40), domain.LifecycleCold)

	scheduled, err := f.scheduler.Run(context.Background(), time.Now().UTC())
	if err != nil || scheduled != 1 {
		t.Fatalf("run: %v scheduled=%d", err, scheduled)
	}
	due, _ := f.store.DueRetention(context.Background(), time.Now().UTC(), 10)
	if len(due) != 1 || due[0].Action != domain.ActionDelete {
		t.Fatalf("due = %+v", due)
	}
}

func TestHeldResourceIsNotScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := config.Default()
	rules.Retention.HotDays = 7
	f.rules.Swap(rules)
	f.seedContent(t, "c1", "room-x", day(10), domain.LifecycleHot)

	if err := f.scheduler.ApplyHold(ctx, domain.LegalHold{
		ResourceType: domain.ResourceCompressedContent,
		ResourceID:   "c1",
		HoldUntil:    time.Now().UTC().Add(time.Hour),
		Reason:       "litigation",
		Actor:        "legal",
	}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	scheduled, err := f.scheduler.Run(ctx, time.Now().UTC())
	if err != nil || scheduled != 0 {
		t.Fatalf("run: %v scheduled=%d", err, scheduled)
	}
}

func TestHoldParksAndReleaseRestores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rules := config.Default()
	rules.Retention.HotDays = 7
	f.rules.Swap(rules)
	f.seedContent(t, "c1", "room-x", day(10), domain.LifecycleHot)

	now := time.Now().UTC()
	if _, err := f.scheduler.Run(ctx, now); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.scheduler.ApplyHold(ctx, domain.LegalHold{
		ResourceType: domain.ResourceCompressedContent,
		ResourceID:   "c1",
		HoldUntil:    now.Add(time.Hour),
		Actor:        "legal",
	}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if due, _ := f.store.DueRetention(ctx, now, 10); len(due) != 0 {
		t.Fatalf("held entry still due: %+v", due)
	}
	entries, _ := f.scheduler.Status(ctx, 10)
	if len(entries) != 1 || entries[0].Status != domain.RetentionOnHold {
		t.Fatalf("status = %+v", entries)
	}

	if err := f.scheduler.ReleaseHold(ctx, domain.ResourceCompressedContent, "c1", "legal"); err != nil {
		t.Fatalf("release: %v", err)
	}
	due, _ := f.store.DueRetention(ctx, now, 10)
	if len(due) != 1 || due[0].Status != domain.RetentionPending {
		t.Fatalf("due after release = %+v", due)
	}
}
