package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"roomledger/internal/util"
	"roomledger/pkg/domain"
	"roomledger/pkg/store"
)

// GenesisHash is the chain predecessor of a node's first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// DefaultLockWait bounds how long Append waits on a node's chain lock
// before giving up with domain.ErrLockContention.
const DefaultLockWait = 5 * time.Second

// Ledger appends tamper-evident audit entries. Entries for one node form
// a hash chain: chain_hash = H(prev_chain_hash || entry_hash). A per-node
// mutex serializes appends so the chain never forks.
type Ledger struct {
	store    store.Store
	locks    *util.KeyedMutex
	lockWait time.Duration
}

// AppendRequest carries the event fields of a new entry. Hash fields are
// computed by Append.
type AppendRequest struct {
	EventType string
	RoomID    string
	UserID    string
	MessageID string
	Payload   domain.Value
	Actor     string
	NodeID    string
}

// New builds a Ledger over the given store.
func New(s store.Store, lockWait time.Duration) *Ledger {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Ledger{store: s, locks: util.NewKeyedMutex(), lockWait: lockWait}
}

// Append writes one entry to a node's chain. The event time is stamped
// here and truncated to microseconds so the hash input survives a round
// trip through timestamptz.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (domain.AuditEntry, error) {
	if req.EventType == "" {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: empty event type")
	}
	if req.NodeID == "" {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: empty node id")
	}
	if req.Actor == "" {
		req.Actor = "system"
	}

	if !l.locks.Lock(req.NodeID, l.lockWait) {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry for node %s: %w", req.NodeID, domain.ErrLockContention)
	}
	defer l.locks.Unlock(req.NodeID)

	prev, ok, err := l.store.LatestChainHash(ctx, req.NodeID)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("load chain tip: %w", err)
	}
	if !ok {
		prev = GenesisHash
	}

	entry := domain.AuditEntry{
		EventTime: time.Now().UTC().Truncate(time.Microsecond),
		EventType: req.EventType,
		RoomID:    req.RoomID,
		UserID:    req.UserID,
		MessageID: req.MessageID,
		Payload:   req.Payload,
		Actor:     req.Actor,
		NodeID:    req.NodeID,
	}
	entry.Hash = entryHash(entry)
	entry.PrevHash = prev
	entry.ChainHash = chainHash(prev, entry.Hash)

	id, err := l.store.AppendAuditEntry(ctx, entry)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// VerifyChain recomputes a node's chain from genesis and compares it with
// what is stored. The first divergence is reported as a
// *domain.ChainMismatchError naming the offending entry.
func (l *Ledger) VerifyChain(ctx context.Context, nodeID string) error {
	entries, err := l.store.ListAuditByNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("list audit entries: %w", err)
	}
	prev := GenesisHash
	for _, e := range entries {
		if e.PrevHash != prev {
			return &domain.ChainMismatchError{NodeID: nodeID, EntryID: e.ID}
		}
		if entryHash(e) != e.Hash {
			return &domain.ChainMismatchError{NodeID: nodeID, EntryID: e.ID}
		}
		if chainHash(prev, e.Hash) != e.ChainHash {
			return &domain.ChainMismatchError{NodeID: nodeID, EntryID: e.ID}
		}
		prev = e.ChainHash
	}
	return nil
}

// ListByRoom returns the most recent entries for a room.
func (l *Ledger) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	return l.store.ListAuditByRoom(ctx, roomID, limit)
}

// ListByNode returns a node's full chain in append order.
func (l *Ledger) ListByNode(ctx context.Context, nodeID string) ([]domain.AuditEntry, error) {
	return l.store.ListAuditByNode(ctx, nodeID)
}

// entryHash digests the event fields in a fixed order. Strings are length
// prefixed so adjacent fields cannot be confused for one another.
func entryHash(e domain.AuditEntry) string {
	var buf []byte
	buf = appendField(buf, e.EventTime.UTC().Format(time.RFC3339Nano))
	buf = appendField(buf, e.EventType)
	buf = appendField(buf, e.RoomID)
	buf = appendField(buf, e.UserID)
	buf = appendField(buf, e.MessageID)
	buf = appendField(buf, e.Actor)
	buf = appendField(buf, e.NodeID)
	buf = e.Payload.AppendCanonical(buf)
	return util.Checksum(buf)
}

func chainHash(prev, entry string) string {
	return util.Checksum([]byte(prev + entry))
}

func appendField(dst []byte, s string) []byte {
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, ':')
	dst = append(dst, s...)
	return dst
}
