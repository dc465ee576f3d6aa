// Package service defines the domain service interfaces for admission
// control and deferred execution.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/replyflow/replyflow/internal/domain/models"
)

// CheckResult is the raw outcome of one atomic per-account admission check.
type CheckResult struct {
	Allowed      bool
	Calls        int64
	Remaining    int64
	WindowStart  time.Time
	BlockedUntil time.Time // zero when no block has been served this window
	RetryAfter   time.Duration
	Reason       models.DenialReason // set when denied
}

// RateLimitService is the per-account admission gate. The check-and-increment
// must be a single atomic store operation; implementations never perform
// read-modify-write in application code.
type RateLimitService interface {
	// Check runs the admission algorithm for one account: window reset
	// first, then active block, then hard limit, then soft-block threshold.
	Check(ctx context.Context, accountID string) (*CheckResult, error)

	// Refund undoes one admitted call when a later gate (the global quota)
	// rejected it. The refund is conditional on the window being unchanged.
	Refund(ctx context.Context, accountID string, windowStart time.Time) error

	// Status returns a read-only projection without consuming headroom.
	Status(ctx context.Context, accountID string) (*models.AccountStatus, error)

	// Reset deletes the account's record (administrative override).
	Reset(ctx context.Context, accountID string) error
}

// GlobalQuotaService is the optional application-wide hourly ceiling shared
// by all accounts.
type GlobalQuotaService interface {
	// Reserve atomically increments the current window's global counter if
	// it is below the app limit. Returns false with the current count when
	// the window is exhausted.
	Reserve(ctx context.Context, accountID string) (bool, int64, error)

	// Release returns one reservation to the current window.
	Release(ctx context.Context) error

	// Snapshot returns the window aggregate for the given instant.
	Snapshot(ctx context.Context, at time.Time) (*models.RateLimitWindow, error)
}

// Executor performs the actual third-party call. It is supplied by the
// caller and opaque to the core.
type Executor interface {
	Execute(ctx context.Context, actionType models.ActionType, payload json.RawMessage) (json.RawMessage, error)
}

// AuditEvent is one admission or queue lifecycle event published to the
// audit stream.
type AuditEvent struct {
	Kind      string      `json:"kind"`
	AccountID string      `json:"account_id"`
	OwnerID   string      `json:"owner_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    interface{} `json:"detail,omitempty"`
}

// AuditService publishes audit events. Implementations are best-effort;
// callers never fail an operation because publishing failed.
type AuditService interface {
	Publish(ctx context.Context, event AuditEvent) error
	Close() error
}
