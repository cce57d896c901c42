package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the ledger, pipeline, queues, and the
// moderation engine. Callers classify with errors.Is / errors.As.
var (
	// ErrLockContention is transient: a bounded wait on a row or node
	// critical section expired. Callers retry with backoff.
	ErrLockContention = errors.New("lock contention")

	// ErrAlreadyProcessed is the idempotency guard on encode delivery.
	// Treated as success by queue workers.
	ErrAlreadyProcessed = errors.New("content already processed")

	// ErrConfigMissing aborts an operation that cannot be evaluated
	// safely; no state is mutated when it is returned.
	ErrConfigMissing = errors.New("runtime configuration missing")

	// ErrAttemptsExhausted marks a queue item that reached its terminal
	// failed state and needs manual resubmission.
	ErrAttemptsExhausted = errors.New("attempts exhausted")

	// ErrHoldActive suppresses a lifecycle action on a resource under an
	// active legal hold. Expected control flow, not a failure.
	ErrHoldActive = errors.New("legal hold active")

	// ErrNotFound reports a missing row where the caller required one.
	ErrNotFound = errors.New("not found")
)

// ChainMismatchError is an integrity violation found by chain verification.
// It is fatal: surfaced to an operator, never auto-repaired.
type ChainMismatchError struct {
	NodeID  string
	EntryID int64
}

func (e *ChainMismatchError) Error() string {
	return fmt.Sprintf("audit chain mismatch on node %q at entry %d", e.NodeID, e.EntryID)
}
