package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomledger/internal/util"
	"roomledger/pkg/compress"
	"roomledger/pkg/config"
	"roomledger/pkg/domain"
	"roomledger/pkg/ledger"
	"roomledger/pkg/queue"
	"roomledger/pkg/storage"
	"roomledger/pkg/store"
)

// Pipeline moves content through intake, compression, cold storage, and
// disposal. Compression runs outside any lock; only the store bookkeeping
// is transactional.
type Pipeline struct {
	store         store.Store
	ledger        *ledger.Ledger
	cold          storage.ColdStore
	rules         *config.Provider
	encodeQueue   queue.Queue
	nodeID        string
	purgeOnDelete bool
	logger        *slog.Logger
}

// Options configures a Pipeline.
type Options struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	Cold        storage.ColdStore
	Rules       *config.Provider
	EncodeQueue queue.Queue
	NodeID      string
	// PurgeOnDelete makes retention-driven deletes zero the stored bytes
	// instead of only flipping the lifecycle state.
	PurgeOnDelete bool
	Logger        *slog.Logger
}

// New builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Ledger == nil || opts.Cold == nil || opts.EncodeQueue == nil {
		return nil, errors.New("pipeline: store, ledger, cold store and encode queue are required")
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
	return &Pipeline{
		store:         opts.Store,
		ledger:        opts.Ledger,
		cold:          opts.Cold,
		rules:         opts.Rules,
		encodeQueue:   opts.EncodeQueue,
		nodeID:        opts.NodeID,
		purgeOnDelete: opts.PurgeOnDelete,
		logger:        opts.Logger,
	}, nil
}

// Intake checksums and stores raw bytes and records the event. It never
// compresses synchronously; that happens on the worker pool.
func (p *Pipeline) Intake(ctx context.Context, roomID string, payload []byte, mimeType string) (domain.RawContent, domain.AuditEntry, error) {
	if len(payload) == 0 {
		return domain.RawContent{}, domain.AuditEntry{}, errors.New("empty payload")
	}
	raw := domain.RawContent{
		ID:        util.NewID(),
		RoomID:    roomID,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
		MimeType:  mimeType,
		Length:    int64(len(payload)),
		Checksum:  util.Checksum(payload),
	}
	if err := p.store.InsertRawContent(ctx, raw); err != nil {
		return domain.RawContent{}, domain.AuditEntry{}, fmt.Errorf("store raw content: %w", err)
	}
	entry, err := p.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "content.intake",
		RoomID:    roomID,
		MessageID: raw.ID,
		Actor:     "ingest",
		NodeID:    p.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "checksum", Value: domain.String(raw.Checksum)},
			domain.Field{Key: "length", Value: domain.Int(raw.Length)},
			domain.Field{Key: "mime_type", Value: domain.String(mimeType)},
		),
	})
	if err != nil {
		return domain.RawContent{}, domain.AuditEntry{}, err
	}
	return raw, entry, nil
}

// EnqueueEncode hands a raw item to the compression workers.
func (p *Pipeline) EnqueueEncode(ctx context.Context, rawID string) (string, error) {
	return p.encodeQueue.Enqueue(ctx, rawID)
}

// ProcessBatch claims up to limit encode items and works through them.
// Returns how many items were claimed.
func (p *Pipeline) ProcessBatch(ctx context.Context, limit int) (int, error) {
	items, err := p.encodeQueue.ClaimBatch(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("claim encode batch: %w", err)
	}
	for _, item := range items {
		if err := p.encodeOne(ctx, item.SubjectID); err != nil {
			p.logger.Error("encode failed", "item", item.ID, "raw", item.SubjectID, "error", err)
			if ferr := p.encodeQueue.MarkFailed(ctx, item.ID, err); ferr != nil {
				p.logger.Error("mark failed", "item", item.ID, "error", ferr)
			}
			continue
		}
		if err := p.encodeQueue.MarkDone(ctx, item.ID); err != nil {
			p.logger.Error("mark done", "item", item.ID, "error", err)
		}
	}
	return len(items), nil
}

// encodeOne compresses one raw item and writes the compressed row.
// Re-delivery of an already-processed item is success, not an error.
func (p *Pipeline) encodeOne(ctx context.Context, rawID string) error {
	raw, ok, err := p.store.GetRawContent(ctx, rawID)
	if err != nil {
		return fmt.Errorf("load raw content: %w", err)
	}
	if !ok {
		return fmt.Errorf("raw content %s: %w", rawID, domain.ErrNotFound)
	}
	if raw.Processed {
		return nil
	}

	codecName := p.rules.Snapshot().Codecs.Resolve(raw.MimeType)
	codec, ok := compress.ByName(codecName)
	if !ok {
		return fmt.Errorf("unknown codec %q for mime %q", codecName, raw.MimeType)
	}
	compressed, err := codec.Compress(raw.Payload)
	if compress.IsIncompressible(err) {
		codec = compress.None{}
		compressed = raw.Payload
	} else if err != nil {
		return fmt.Errorf("compress raw content: %w", err)
	}

	partitionKey := domain.PartitionKeyFor(raw.CreatedAt)
	if err := p.store.CreatePartitionIfNeeded(ctx, partitionKey); err != nil {
		return err
	}
	cc := domain.CompressedContent{
		ID:             raw.ID,
		RoomID:         raw.RoomID,
		PartitionKey:   partitionKey,
		Codec:          codec.Name(),
		Compressed:     compressed,
		OriginalLength: raw.Length,
		Checksum:       raw.Checksum,
		Lifecycle:      domain.LifecycleHot,
		CreatedAt:      raw.CreatedAt,
	}
	if err := p.store.EncodeRawToCompressed(ctx, cc); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return nil
		}
		return err
	}

	if _, err := p.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "content.encoded",
		RoomID:    raw.RoomID,
		MessageID: raw.ID,
		Actor:     "pipeline",
		NodeID:    p.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "codec", Value: domain.String(codec.Name())},
			domain.Field{Key: "original_length", Value: domain.Int(raw.Length)},
			domain.Field{Key: "compressed_length", Value: domain.Int(int64(len(compressed)))},
		),
	}); err != nil {
		p.logger.Error("audit append after encode", "raw", raw.ID, "error", err)
	}
	return nil
}

// Fetch returns the original payload of a content item, pulling from the
// cold store when the hot bytes have moved, and verifies the stored
// checksum against the decompressed bytes.
func (p *Pipeline) Fetch(ctx context.Context, id string) ([]byte, error) {
	cc, ok, err := p.store.GetCompressed(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	if cc.Lifecycle == domain.LifecycleDeleted {
		return nil, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	data := cc.Compressed
	if cc.Lifecycle == domain.LifecycleCold && cc.ColdStorageURI != "" {
		data, err = p.cold.Get(ctx, cc.ColdStorageURI)
		if err != nil {
			return nil, fmt.Errorf("fetch cold object: %w", err)
		}
	}
	codec, ok := compress.ByName(cc.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q on content %s", cc.Codec, id)
	}
	payload, err := codec.Decompress(data, int(cc.OriginalLength))
	if err != nil {
		return nil, err
	}
	if util.Checksum(payload) != cc.Checksum {
		return nil, fmt.Errorf("content %s: checksum mismatch after decompress", id)
	}
	return payload, nil
}

// MoveToCold uploads a hot item's bytes to the cold store and flips its
// lifecycle state. Items no longer hot are a no-op.
func (p *Pipeline) MoveToCold(ctx context.Context, id string) error {
	cc, ok, err := p.store.GetCompressed(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("compressed content %s: %w", id, domain.ErrNotFound)
	}
	if cc.Lifecycle != domain.LifecycleHot {
		return nil
	}

	key := "content/" + cc.PartitionKey + "/" + cc.ID
	uri, err := p.cold.Put(ctx, key, cc.Compressed, "application/octet-stream")
	if err != nil {
		return fmt.Errorf("upload cold object: %w", err)
	}
	moved, err := p.store.MarkColdStorage(ctx, id, uri)
	if err != nil {
		return err
	}
	if !moved {
		// lost the race to another worker; drop our orphan upload
		_ = p.cold.Delete(ctx, uri)
		return nil
	}
	if err := p.store.CompleteRetention(ctx, domain.ResourceCompressedContent, id, domain.ActionMoveToCold); err != nil {
		p.logger.Error("complete retention after cold move", "id", id, "error", err)
	}
	if _, err := p.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "content.cold",
		RoomID:    cc.RoomID,
		MessageID: id,
		Actor:     "pipeline",
		NodeID:    p.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "uri", Value: domain.String(uri)},
		),
	}); err != nil {
		p.logger.Error("audit append after cold move", "id", id, "error", err)
	}
	return nil
}

// Dispose transitions an item to deleted. Refused while an active hold
// exists. With purge the cold object is removed and the stored bytes are
// zeroed.
func (p *Pipeline) Dispose(ctx context.Context, id string, purge bool) error {
	held, err := p.store.ActiveHold(ctx, domain.ResourceCompressedContent, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if held {
		return fmt.Errorf("dispose %s: %w", id, domain.ErrHoldActive)
	}
	cc, ok, err := p.store.GetCompressed(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("compressed content %s: %w", id, domain.ErrNotFound)
	}
	if cc.Lifecycle == domain.LifecycleDeleted {
		return nil
	}
	if purge && cc.ColdStorageURI != "" {
		if err := p.cold.Delete(ctx, cc.ColdStorageURI); err != nil {
			return fmt.Errorf("delete cold object: %w", err)
		}
	}
	if err := p.store.DisposeCompressed(ctx, id, purge); err != nil {
		return err
	}
	if err := p.store.CompleteRetention(ctx, domain.ResourceCompressedContent, id, domain.ActionDelete); err != nil {
		p.logger.Error("complete retention after dispose", "id", id, "error", err)
	}
	if _, err := p.ledger.Append(ctx, ledger.AppendRequest{
		EventType: "content.disposed",
		RoomID:    cc.RoomID,
		MessageID: id,
		Actor:     "pipeline",
		NodeID:    p.nodeID,
		Payload: domain.Map(
			domain.Field{Key: "purged", Value: domain.Bool(purge)},
		),
	}); err != nil {
		p.logger.Error("audit append after dispose", "id", id, "error", err)
	}
	return nil
}

// ProcessDueTransitions executes due schedule entries. The scheduler only
// proposes; this is where transitions actually happen. Entries whose
// resource gained a hold since scheduling are skipped, not failed.
func (p *Pipeline) ProcessDueTransitions(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := p.store.DueRetention(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due retention: %w", err)
	}
	executed := 0
	for _, entry := range due {
		if entry.ResourceType != domain.ResourceCompressedContent {
			continue
		}
		held, err := p.store.ActiveHold(ctx, entry.ResourceType, entry.ResourceID, now)
		if err != nil {
			return executed, err
		}
		if held {
			continue
		}
		switch entry.Action {
		case domain.ActionMoveToCold:
			err = p.MoveToCold(ctx, entry.ResourceID)
		case domain.ActionDelete:
			err = p.Dispose(ctx, entry.ResourceID, p.purgeOnDelete)
		default:
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrHoldActive) {
				continue
			}
			p.logger.Error("retention transition failed",
				"resource", entry.ResourceID, "action", entry.Action, "error", err)
			continue
		}
		executed++
	}
	return executed, nil
}
