package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"roomledger/internal/util"
	"roomledger/pkg/config"
	"roomledger/pkg/domain"
	"roomledger/pkg/ledger"
	"roomledger/pkg/store"
)

// strikeLabels are the severe labels that contribute strike weight when
// a message is flagged.
var strikeLabels = []string{"illegal", "threat", "pii", "hate"}

// PermanentBanUntil is the probation sentinel on a permanent ban.
var PermanentBanUntil = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// Scores is the output of an external content scorer.
type Scores struct {
	Labels   map[string]float64
	Features domain.Value
}

// Outcome reports what one evaluation did.
type Outcome struct {
	Flagged         bool
	MaxScore        float64
	StrikeIncrement int
	StrikeCount     int
	Role            domain.Role
	ProbationUntil  time.Time
	Action          string
}

// Engine applies moderation consequences. One evaluation runs under
// locks on the message and the sender's membership row so concurrent
// passes never lose updates.
type Engine struct {
	store     store.Store
	ledger    *ledger.Ledger
	rules     *config.Provider
	telemetry Telemetry
	locks     *util.KeyedMutex
	lockWait  time.Duration
	nodeID    string
	logger    *slog.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Store     store.Store
	Ledger    *ledger.Ledger
	Rules     *config.Provider
	Telemetry Telemetry
	LockWait  time.Duration
	NodeID    string
	Logger    *slog.Logger
}

// NewEngine builds an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil || opts.Ledger == nil {
		return nil, errors.New("moderation: store and ledger are required")
	}
	if opts.Rules == nil {
		return nil, errors.New("moderation: rules provider is required")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = NewLogTelemetry(opts.Logger)
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.NodeID == "" {
		opts.NodeID = "archive"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     opts.Store,
		ledger:    opts.Ledger,
		rules:     opts.Rules,
		telemetry: opts.Telemetry,
		locks:     util.NewKeyedMutex(),
		lockWait:  opts.LockWait,
		nodeID:    opts.NodeID,
		logger:    opts.Logger,
	}, nil
}

// EvaluateAndApply runs one moderation pass over a message. Thresholds
// come from the current rules snapshot; missing threshold config aborts
// before any state is touched.
func (e *Engine) EvaluateAndApply(ctx context.Context, messageID string, scores Scores) (Outcome, error) {
	rules := e.rules.Snapshot().Moderation
	if rules.DefaultThreshold <= 0 {
		return Outcome{}, fmt.Errorf("moderation thresholds: %w", domain.ErrConfigMissing)
	}

	if !e.locks.Lock("msg:"+messageID, e.lockWait) {
		return Outcome{}, fmt.Errorf("lock message %s: %w", messageID, domain.ErrLockContention)
	}
	defer e.locks.Unlock("msg:" + messageID)

	msg, ok, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return Outcome{}, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	memberKey := "member:" + msg.RoomID + "|" + msg.SenderID
	if !e.locks.Lock(memberKey, e.lockWait) {
		return Outcome{}, fmt.Errorf("lock membership %s/%s: %w", msg.RoomID, msg.SenderID, domain.ErrLockContention)
	}
	defer e.locks.Unlock(memberKey)

	now := time.Now().UTC()
	membership, found, err := e.store.GetMembership(ctx, msg.RoomID, msg.SenderID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load membership: %w", err)
	}
	if !found {
		membership = domain.RoomMembership{
			RoomID: msg.RoomID,
			UserID: msg.SenderID,
			Role:   domain.RoleMember,
		}
	}
	pre := membership

	effectiveDefault := rules.DefaultThreshold
	if membership.OnProbation(now) {
		// probation tightens every threshold
		effectiveDefault *= rules.ProbationMultiplier
	}

	maxScore := 0.0
	for _, score := range scores.Labels {
		if score > maxScore {
			maxScore = score
		}
	}

	out := Outcome{
		MaxScore:       maxScore,
		StrikeCount:    membership.StrikeCount,
		Role:           membership.Role,
		ProbationUntil: membership.ProbationUntil,
		Action:         "none",
	}

	if maxScore >= effectiveDefault {
		out.Flagged = true
		if err := e.store.FlagMessage(ctx, messageID, flagPayload(scores)); err != nil {
			return Outcome{}, fmt.Errorf("flag message: %w", err)
		}
		for _, label := range strikeLabels {
			if _, present := scores.Labels[label]; present {
				out.StrikeIncrement += rules.WeightFor(label)
			}
		}
	}

	if out.StrikeIncrement > 0 {
		membership.StrikeCount += out.StrikeIncrement
		switch {
		case membership.StrikeCount >= 4:
			membership.Role = domain.RoleBanned
			membership.ProbationUntil = PermanentBanUntil
			membership.BanReason = fmt.Sprintf("strike count %d on message %s", membership.StrikeCount, messageID)
			out.Action = "ban"
		case membership.StrikeCount >= 3:
			membership.ProbationUntil = now.AddDate(0, 3, 0)
			out.Action = "probation_3m"
		case membership.StrikeCount >= 2:
			membership.ProbationUntil = now.AddDate(0, 1, 0)
			out.Action = "probation_1m"
		default:
			out.Action = "strike"
		}
	} else if out.Flagged {
		out.Action = "flag"
	}

	cooldown := time.Duration(rules.WarningCooldownHours) * time.Hour
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	if out.Flagged && now.Sub(membership.LastWarningAt) > cooldown {
		membership.LastWarningAt = now
	}

	if out.Flagged {
		membership.UpdatedAt = now
		if err := e.store.UpsertMembership(ctx, membership); err != nil {
			return Outcome{}, fmt.Errorf("update membership: %w", err)
		}
	}
	out.StrikeCount = membership.StrikeCount
	out.Role = membership.Role
	out.ProbationUntil = membership.ProbationUntil

	if _, err := e.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "moderation.evaluated",
		RoomID:    msg.RoomID,
		UserID:    msg.SenderID,
		MessageID: messageID,
		Actor:     "moderation",
		NodeID:    e.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "max_score", Value: domain.Number(maxScore)},
			domain.Field{Key: "flagged", Value: domain.Bool(out.Flagged)},
			domain.Field{Key: "action", Value: domain.String(out.Action)},
			domain.Field{Key: "scores", Value: labelsValue(scores.Labels)},
			domain.Field{Key: "features", Value: scores.Features},
			domain.Field{Key: "pre", Value: membershipValue(pre)},
			domain.Field{Key: "post", Value: membershipValue(membership)},
		),
	}); err != nil {
		return Outcome{}, err
	}

	if err := e.telemetry.Publish(ctx, Sample{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		UserID:    msg.SenderID,
		MaxScore:  maxScore,
		Flagged:   out.Flagged,
		Action:    out.Action,
	}); err != nil {
		e.logger.Error("telemetry publish", "message", messageID, "error", err)
	}
	return out, nil
}

func flagPayload(scores Scores) domain.Value {
	return domain.Map(
		domain.Field{Key: "labels", Value: labelsValue(scores.Labels)},
		domain.Field{Key: "features", Value: scores.Features},
	)
}

func labelsValue(labels map[string]float64) domain.Value {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]domain.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, domain.Field{Key: k, Value: domain.Number(labels[k])})
	}
	return domain.Map(fields...)
}

func membershipValue(m domain.RoomMembership) domain.Value {
	fields := []domain.Field{
		{Key: "role", Value: domain.String(string(m.Role))},
		{Key: "strike_count", Value: domain.Int(int64(m.StrikeCount))},
	}
	if !m.ProbationUntil.IsZero() {
		fields = append(fields, domain.Field{Key: "probation_until", Value: domain.String(m.ProbationUntil.Format(time.RFC3339))})
	}
	if m.BanReason != "" {
		fields = append(fields, domain.Field{Key: "ban_reason", Value: domain.String(m.BanReason)})
	}
	return domain.Map(fields...)
}
