package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"roomledger/internal/util"
	"roomledger/pkg/config"
	"roomledger/pkg/domain"
	"roomledger/pkg/ledger"
	"roomledger/pkg/moderation"
	"roomledger/pkg/pipeline"
	"roomledger/pkg/queue"
	"roomledger/pkg/retention"
	"roomledger/pkg/storage"
	"roomledger/pkg/store"
	svcconfig "roomledger/services/archive/internal/config"
)

const previewLength = 120

// Config holds runtime configuration for the core application. The Store,
// ColdStore, Telemetry and Scorer fields are test seams; when nil they
// are built from the file config.
type Config struct {
	File      svcconfig.FileConfig
	Store     store.Store
	Cold      storage.ColdStore
	Telemetry moderation.Telemetry
	Scorer    moderation.Scorer
	Logger    *slog.Logger
}

// App wires the archive engine: store, ledger, queues, pipeline,
// moderation, and the retention trigger.
type App struct {
	store      store.Store
	ledger     *ledger.Ledger
	pipeline   *pipeline.Pipeline
	engine     *moderation.Engine
	modWorker  *moderation.Worker
	scheduler  *retention.Scheduler
	rules      *config.Provider
	modQueue   queue.Queue
	nodeID     string
	retBatch   int
	cron       *cron.Cron
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	fileConfig svcconfig.FileConfig
	logger     *slog.Logger
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	file := cfg.File

	dataStore := cfg.Store
	if dataStore == nil {
		if file.DatabaseURL == "" {
			logger.Warn("no databaseURL configured, using in-memory store")
			dataStore = store.NewMemoryStore()
		} else {
			var err error
			dataStore, err = store.NewGormStore(file.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
		}
	}

	cold := cfg.Cold
	if cold == nil {
		if file.MinioEndpoint == "" {
			logger.Warn("no minioEndpoint configured, using in-memory cold store")
			cold = storage.NewMemoryColdStore(file.MinioBucket)
		} else {
			var err error
			cold, err = storage.NewMinioStore(file.MinioEndpoint, file.MinioAccessKey,
				file.MinioSecretKey, file.MinioBucket, file.MinioUseSSL)
			if err != nil {
				return nil, fmt.Errorf("init cold store: %w", err)
			}
		}
	}

	telemetry := cfg.Telemetry
	if telemetry == nil {
		if file.AMQPURL == "" {
			telemetry = moderation.NewLogTelemetry(logger)
		} else {
			var err error
			telemetry, err = moderation.NewAMQPTelemetry(file.AMQPURL, file.TelemetryExchange)
			if err != nil {
				return nil, fmt.Errorf("init telemetry: %w", err)
			}
		}
	}

	rules := config.NewProvider(nil)
	if file.RulesPath != "" {
		rt, err := config.LoadFile(file.RulesPath)
		if err != nil {
			return nil, err
		}
		rules.Swap(rt)
	}

	reclaim := time.Duration(file.QueueReclaimMinutes) * time.Minute
	encodeQueue, err := buildQueue(dataStore, file, "encode", reclaim)
	if err != nil {
		return nil, err
	}
	modQueue, err := buildQueue(dataStore, file, "moderation", reclaim)
	if err != nil {
		return nil, err
	}

	led := ledger.New(dataStore, 0)
	pipe, err := pipeline.New(pipeline.Options{
		Store:         dataStore,
		Ledger:        led,
		Cold:          cold,
		Rules:         rules,
		EncodeQueue:   encodeQueue,
		NodeID:        file.NodeID,
		PurgeOnDelete: file.PurgeOnRetentionDelete,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	engine, err := moderation.NewEngine(moderation.EngineOptions{
		Store:     dataStore,
		Ledger:    led,
		Rules:     rules,
		Telemetry: telemetry,
		NodeID:    file.NodeID,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	scorer := cfg.Scorer
	if scorer == nil {
		// no scorer wired: moderation queue items pass through unflagged
		scorer = func(ctx context.Context, content []byte) (moderation.Scores, error) {
			return moderation.Scores{}, nil
		}
	}
	modWorker, err := moderation.NewWorker(engine, dataStore, modQueue, scorer, logger)
	if err != nil {
		return nil, err
	}
	scheduler, err := retention.New(retention.Options{
		Store:  dataStore,
		Ledger: led,
		Rules:  rules,
		NodeID: file.NodeID,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		store:      dataStore,
		ledger:     led,
		pipeline:   pipe,
		engine:     engine,
		modWorker:  modWorker,
		scheduler:  scheduler,
		rules:      rules,
		modQueue:   modQueue,
		nodeID:     file.NodeID,
		retBatch:   file.RetentionBatchSize,
		fileConfig: file,
		logger:     logger,
	}, nil
}

func buildQueue(s store.Store, file svcconfig.FileConfig, name string, reclaim time.Duration) (queue.Queue, error) {
	if file.RedisAddr == "" {
		return queue.NewStoreQueue(s, name, file.QueueMaxAttempts, reclaim)
	}
	return queue.NewRedisQueue(queue.RedisQueueConfig{
		Addr:        file.RedisAddr,
		Password:    file.RedisPassword,
		Name:        name,
		MaxAttempts: file.QueueMaxAttempts,
		ClaimIdle:   reclaim,
	})
}

// Start launches the worker pools, the retention cron trigger, and the
// rules file watcher.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	file := a.fileConfig
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.pipeline.RunWorkers(ctx, file.EncodeWorkers, file.QueueBatchSize, time.Second); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("encode workers stopped", "error", err)
		}
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.modWorker.Run(ctx, file.ModerationWorkers, file.QueueBatchSize, time.Second); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("moderation workers stopped", "error", err)
		}
	}()

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(file.RetentionCron, func() {
		now := time.Now().UTC()
		scheduled, err := a.scheduler.Run(ctx, now)
		if err != nil {
			a.logger.Error("retention run", "error", err)
			return
		}
		executed, err := a.pipeline.ProcessDueTransitions(ctx, now, a.retBatch)
		if err != nil {
			a.logger.Error("retention transitions", "error", err)
			return
		}
		a.logger.Info("retention pass", "scheduled", scheduled, "executed", executed)
	}); err != nil {
		return fmt.Errorf("retention cron %q: %w", file.RetentionCron, err)
	}
	a.cron.Start()

	if file.RulesPath != "" {
		watcher := config.NewWatcher(file.RulesPath, a.rules, a.logger)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("rules watcher: %w", err)
		}
	}
	a.logger.Info("archive app started", "node", a.nodeID)
	return nil
}

// Stop shuts down the cron trigger and waits for workers to drain.
func (a *App) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("archive app stopped")
}

// IngestRequest is one inbound message event.
type IngestRequest struct {
	RoomID   string
	SenderID string
	Payload  []byte
	MimeType string
}

// IngestResult reports what Ingest stored.
type IngestResult struct {
	MessageID   string
	ContentID   string
	ContentHash string
	ChainHash   string
}

// Ingest is the write path: store raw content, record the message with
// its hash-chain anchor, and queue compression and moderation work.
func (a *App) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if req.RoomID == "" || req.SenderID == "" {
		return IngestResult{}, errors.New("roomId and senderId are required")
	}
	raw, entry, err := a.pipeline.Intake(ctx, req.RoomID, req.Payload, req.MimeType)
	if err != nil {
		return IngestResult{}, err
	}
	msg := domain.Message{
		ID:             util.NewID(),
		RoomID:         req.RoomID,
		SenderID:       req.SenderID,
		CreatedAt:      raw.CreatedAt,
		ContentID:      raw.ID,
		Preview:        preview(req.Payload),
		ContentHash:    raw.Checksum,
		AuditHashChain: entry.ChainHash,
	}
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return IngestResult{}, fmt.Errorf("store message: %w", err)
	}
	if _, err := a.pipeline.EnqueueEncode(ctx, raw.ID); err != nil {
		return IngestResult{}, fmt.Errorf("enqueue encode: %w", err)
	}
	if _, err := a.modQueue.Enqueue(ctx, msg.ID); err != nil {
		return IngestResult{}, fmt.Errorf("enqueue moderation: %w", err)
	}
	return IngestResult{
		MessageID:   msg.ID,
		ContentID:   raw.ID,
		ContentHash: raw.Checksum,
		ChainHash:   entry.ChainHash,
	}, nil
}

func preview(payload []byte) string {
	if len(payload) <= previewLength {
		return string(payload)
	}
	return string(payload[:previewLength])
}

// Evaluate applies externally computed moderation scores to a message.
func (a *App) Evaluate(ctx context.Context, messageID string, scores moderation.Scores) (moderation.Outcome, error) {
	return a.engine.EvaluateAndApply(ctx, messageID, scores)
}

// VerifyChain checks a node's audit chain.
func (a *App) VerifyChain(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		nodeID = a.nodeID
	}
	return a.ledger.VerifyChain(ctx, nodeID)
}

// EventsByRoom lists recent audit entries for a room.
func (a *App) EventsByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	return a.ledger.ListByRoom(ctx, roomID, limit)
}

// FetchContent returns the original payload of a content item.
func (a *App) FetchContent(ctx context.Context, id string) ([]byte, error) {
	return a.pipeline.Fetch(ctx, id)
}

// RunRetention triggers one scheduling-plus-execution pass outside the
// cron cadence.
func (a *App) RunRetention(ctx context.Context, now time.Time) (scheduled, executed int, err error) {
	scheduled, err = a.scheduler.Run(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	executed, err = a.pipeline.ProcessDueTransitions(ctx, now, a.retBatch)
	return scheduled, executed, err
}

// RetentionStatus lists schedule entries.
func (a *App) RetentionStatus(ctx context.Context, limit int) ([]domain.RetentionScheduleEntry, error) {
	return a.scheduler.Status(ctx, limit)
}

// ApplyHold places a legal hold.
func (a *App) ApplyHold(ctx context.Context, hold domain.LegalHold) error {
	return a.scheduler.ApplyHold(ctx, hold)
}

// ReleaseHold removes a legal hold.
func (a *App) ReleaseHold(ctx context.Context, resourceType, resourceID, actor string) error {
	return a.scheduler.ReleaseHold(ctx, resourceType, resourceID, actor)
}
