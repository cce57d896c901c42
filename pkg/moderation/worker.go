package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"roomledger/pkg/domain"
	"roomledger/pkg/queue"
	"roomledger/pkg/store"
)

// Scorer turns message content into risk scores. Implementations may be
// slow; the worker never holds a lock while calling one.
type Scorer func(ctx context.Context, content []byte) (Scores, error)

// Worker drains the moderation queue: load the message content, score it,
// and apply consequences through the Engine.
type Worker struct {
	engine *Engine
	store  store.Store
	queue  queue.Queue
	scorer Scorer
	logger *slog.Logger
}

// NewWorker builds a Worker.
func NewWorker(engine *Engine, s store.Store, q queue.Queue, scorer Scorer, logger *slog.Logger) (*Worker, error) {
	if engine == nil || s == nil || q == nil || scorer == nil {
		return nil, errors.New("moderation worker: engine, store, queue and scorer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{engine: engine, store: s, queue: q, scorer: scorer, logger: logger}, nil
}

// ProcessBatch claims up to limit moderation items and works through
// them. Returns how many items were claimed.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (int, error) {
	items, err := w.queue.ClaimBatch(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("claim moderation batch: %w", err)
	}
	for _, item := range items {
		if err := w.processOne(ctx, item.SubjectID); err != nil {
			w.logger.Error("moderation failed", "item", item.ID, "message", item.SubjectID, "error", err)
			if ferr := w.queue.MarkFailed(ctx, item.ID, err); ferr != nil {
				w.logger.Error("mark failed", "item", item.ID, "error", ferr)
			}
			continue
		}
		if err := w.queue.MarkDone(ctx, item.ID); err != nil {
			w.logger.Error("mark done", "item", item.ID, "error", err)
		}
	}
	return len(items), nil
}

func (w *Worker) processOne(ctx context.Context, messageID string) error {
	msg, ok, err := w.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	content := []byte(msg.Preview)
	if msg.ContentID != "" {
		raw, ok, err := w.store.GetRawContent(ctx, msg.ContentID)
		if err != nil {
			return fmt.Errorf("load content: %w", err)
		}
		if ok {
			content = raw.Payload
		}
	}

	scores, err := w.scorer(ctx, content)
	if err != nil {
		// fail safe: a broken scorer must not flag or suppress anything
		return fmt.Errorf("score message %s: %w", messageID, err)
	}
	_, err = w.engine.EvaluateAndApply(ctx, messageID, scores)
	return err
}

// Run runs n workers until ctx is cancelled, sleeping pollInterval
// between empty claims.
func (w *Worker) Run(ctx context.Context, n, batchSize int, pollInterval time.Duration) error {
	if n <= 0 {
		n = 1
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				claimed, err := w.ProcessBatch(ctx, batchSize)
				if err != nil {
					w.logger.Error("moderation batch", "error", err)
				}
				if claimed == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(pollInterval):
					}
				}
			}
		})
	}
	return g.Wait()
}
