package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomledger/pkg/config"
	"roomledger/pkg/domain"
	"roomledger/pkg/ledger"
	"roomledger/pkg/store"
)

// Scheduler proposes lifecycle transitions by inserting schedule entries.
// It never executes them; the pipeline does. A scheduler crash therefore
// never leaves a half-applied transition.
type Scheduler struct {
	store  store.Store
	ledger *ledger.Ledger
	rules  *config.Provider
	nodeID string
	logger *slog.Logger
}

// Options configures a Scheduler.
type Options struct {
	Store  store.Store
	Ledger *ledger.Ledger
	Rules  *config.Provider
	NodeID string
	Logger *slog.Logger
}

// New builds a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Ledger == nil {
		return nil, errors.New("retention: store and ledger are required")
	}
	if opts.Rules == nil {
		opts.Rules = config.NewProvider(nil)
	}
	if opts.NodeID == "" {
		opts.NodeID = "archive"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		store:  opts.Store,
		ledger: opts.Ledger,
		rules:  opts.Rules,
		nodeID: opts.NodeID,
		logger: opts.Logger,
	}, nil
}

// Run makes one scheduling pass: hot content past its hot-retention
// window gets a move_to_cold entry, cold content past its cold window a
// delete entry. Room overrides replace the system default. Held resources
// are skipped and duplicate entries are no-ops.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (int, error) {
	retention := s.rules.Snapshot().Retention
	scheduled := 0

	n, err := s.scan(ctx, now, domain.LifecycleHot, domain.ActionMoveToCold, retention.HotDaysFor, retention.HotDays)
	if err != nil {
		return scheduled, err
	}
	scheduled += n

	n, err = s.scan(ctx, now, domain.LifecycleCold, domain.ActionDelete, retention.ColdDaysFor, retention.ColdDays)
	if err != nil {
		return scheduled, err
	}
	scheduled += n
	return scheduled, nil
}

func (s *Scheduler) scan(ctx context.Context, now time.Time, state domain.LifecycleState, action domain.RetentionAction, daysFor func(string) int, maxDays int) (int, error) {
	if maxDays <= 0 {
		return 0, nil
	}
	// room overrides can shorten the window arbitrarily, so the scan
	// covers everything in the state; the per-room cutoff applies below
	candidates, err := s.store.ListCompressedByLifecycle(ctx, state, now)
	if err != nil {
		return 0, fmt.Errorf("list %s content: %w", state, err)
	}

	scheduled := 0
	for _, cc := range candidates {
		days := daysFor(cc.RoomID)
		if days <= 0 {
			days = maxDays
		}
		if cc.CreatedAt.After(now.AddDate(0, 0, -days)) {
			continue
		}
		held, err := s.store.ActiveHold(ctx, domain.ResourceCompressedContent, cc.ID, now)
		if err != nil {
			return scheduled, err
		}
		if held {
			continue
		}
		inserted, err := s.store.ScheduleRetention(ctx, domain.RetentionScheduleEntry{
			ResourceType: domain.ResourceCompressedContent,
			ResourceID:   cc.ID,
			Action:       action,
			ScheduledFor: now,
			Status:       domain.RetentionPending,
			CreatedAt:    now,
		})
		if err != nil {
			return scheduled, err
		}
		if !inserted {
			continue
		}
		scheduled++
		if _, err := s.ledger.Append(ctx, ledger.AppendRequest{
			EventType: "retention.scheduled",
			RoomID:    cc.RoomID,
			MessageID: cc.ID,
			Actor:     "scheduler",
			NodeID:    s.nodeID,
			Payload: domain.Map(
				domain.Field{Key: "action", Value: domain.String(string(action))},
				domain.Field{Key: "retention_days", Value: domain.Int(int64(days))},
			),
		}); err != nil {
			s.logger.Error("audit append after schedule", "id", cc.ID, "error", err)
		}
	}
	return scheduled, nil
}

// ApplyHold places a legal hold and parks pending schedule entries.
func (s *Scheduler) ApplyHold(ctx context.Context, hold domain.LegalHold) error {
	if hold.ResourceType == "" || hold.ResourceID == "" {
		return errors.New("hold resource type and id required")
	}
	if hold.HoldUntil.IsZero() {
		return errors.New("hold expiry required")
	}
	if err := s.store.ApplyHold(ctx, hold); err != nil {
		return fmt.Errorf("apply hold: %w", err)
	}
	if _, err := s.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "retention.hold_applied",
		MessageID: hold.ResourceID,
		Actor:     hold.Actor,
		NodeID:    s.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "resource_type", Value: domain.String(hold.ResourceType)},
			domain.Field{Key: "hold_until", Value: domain.String(hold.HoldUntil.UTC().Format(time.RFC3339))},
			domain.Field{Key: "reason", Value: domain.String(hold.Reason)},
		),
	}); err != nil {
		s.logger.Error("audit append after hold", "id", hold.ResourceID, "error", err)
	}
	return nil
}

// ReleaseHold removes a hold and returns parked entries to pending.
func (s *Scheduler) ReleaseHold(ctx context.Context, resourceType, resourceID, actor string) error {
	if err := s.store.ReleaseHold(ctx, resourceType, resourceID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if _, err := s.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "retention.hold_released",
		MessageID: resourceID,
		Actor:     actor,
		NodeID:    s.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "resource_type", Value: domain.String(resourceType)},
		),
	}); err != nil {
		s.logger.Error("audit append after hold release", "id", resourceID, "error", err)
	}
	return nil
}

// Status lists schedule entries for operator tooling.
func (s *Scheduler) Status(ctx context.Context, limit int) ([]domain.RetentionScheduleEntry, error) {
	return s.store.ListRetention(ctx, limit)
}
