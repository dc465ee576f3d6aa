// Package repository defines the store interfaces the application layer
// depends on. All coordination between processes happens through these
// stores; no shared in-process state is permitted.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/replyflow/replyflow/internal/domain/models"
)

// QueueRepository is the durable, ordered collection of deferred actions.
//
// Implementations must make Claim and Finalize conditional store operations:
// Claim only succeeds on a QUEUED item (preventing double execution by
// overlapping processor runs) and Finalize never overwrites a terminal state.
type QueueRepository interface {
	// Insert persists a new QUEUED item, assigning its position as
	// count(QUEUED in the item's window) + 1 inside the same transaction.
	Insert(ctx context.Context, item *models.QueueItem) error

	// FindByID loads a single item.
	FindByID(ctx context.Context, id string) (*models.QueueItem, error)

	// NextBatch returns up to limit QUEUED items whose windowLabel matches,
	// ordered by (priority asc, position asc).
	NextBatch(ctx context.Context, windowLabel string, limit int) ([]*models.QueueItem, error)

	// Claim transitions QUEUED -> PROCESSING. Returns false when the item
	// was not in QUEUED state (already claimed or finalized elsewhere).
	Claim(ctx context.Context, id string) (bool, error)

	// Finalize transitions a non-terminal item to COMPLETED or FAILED,
	// recording result or error and the processing timestamp. Attempts to
	// re-finalize a terminal item return ErrInvalidTransition.
	Finalize(ctx context.Context, id string, status models.QueueStatus, result json.RawMessage, errMsg string, processedAt time.Time) error

	// IncrementRetry bumps retryCount on a still-QUEUED item.
	IncrementRetry(ctx context.Context, id string) error

	// PromoteStale moves QUEUED items left over from past windows into the
	// current window, appending them after the window's existing positions
	// in (priority, position) order. Returns the number promoted.
	PromoteStale(ctx context.Context, currentLabel string) (int64, error)

	// Stats aggregates items by status, action type and window, optionally
	// filtered to one account.
	Stats(ctx context.Context, accountID string) (*models.QueueStats, error)

	// DeleteTerminalBefore removes COMPLETED/FAILED items created before the
	// cutoff. QUEUED and PROCESSING items are never deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimitLogRepository is the append-only audit store for admission
// decisions.
type RateLimitLogRepository interface {
	// Append records one admission decision. Best-effort from the caller's
	// perspective: admission never fails because auditing failed.
	Append(ctx context.Context, entry *models.RateLimitLogEntry) error

	// TopUsers aggregates total successful calls per account.
	TopUsers(ctx context.Context, limit int) ([]*models.AccountUsage, error)
}
