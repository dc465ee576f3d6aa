// Package models defines the entities owned by the rate-limited queue
// subsystem. Callers reference these by ID and never mutate them directly.
package models

import "time"

// LogStatus is the outcome recorded for one admission decision.
type LogStatus string

const (
	// LogStatusSuccess records an allowed call.
	LogStatusSuccess LogStatus = "SUCCESS"

	// LogStatusRateLimited records a denied call.
	LogStatusRateLimited LogStatus = "RATE_LIMITED"

	// LogStatusQueued records a denied call that was handed to the queue.
	LogStatusQueued LogStatus = "QUEUED"
)

// DenialReason explains why an admission check denied a call.
type DenialReason string

const (
	// DenialReasonBlocked means the account is inside an active soft block.
	DenialReasonBlocked DenialReason = "blocked"

	// DenialReasonHardLimit means the account hit the external ceiling for
	// the current window. No block is placed; the window resets naturally.
	DenialReasonHardLimit DenialReason = "hard_limit"

	// DenialReasonAppQuota means the application-wide hourly quota is
	// exhausted even though the account itself has headroom.
	DenialReasonAppQuota DenialReason = "app_quota"
)

// AdmissionDecision is the result of a canMakeCall check. Denial is a normal
// return value, never an error.
type AdmissionDecision struct {
	Allowed        bool          `json:"allowed"`
	RemainingCalls int64         `json:"remaining_calls"`
	IsBlocked      bool          `json:"is_blocked"`
	BlockedUntil   *time.Time    `json:"blocked_until,omitempty"`
	Delay          time.Duration `json:"-"`
	DelayMs        int64         `json:"delay_ms,omitempty"`
	Reason         DenialReason  `json:"reason,omitempty"`
}

// AccountStatus is a read-only projection of an account's rate limit record.
type AccountStatus struct {
	AccountID      string     `json:"account_id"`
	Calls          int64      `json:"calls"`
	RemainingCalls int64      `json:"remaining_calls"`
	WindowStart    time.Time  `json:"window_start"`
	ResetInMs      int64      `json:"reset_in_ms"`
	IsBlocked      bool       `json:"is_blocked"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
}

// RateLimitLogEntry is one append-only audit record per admission decision.
type RateLimitLogEntry struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID      string    `json:"account_id" gorm:"index;size:64"`
	OwnerID        string    `json:"owner_id" gorm:"index;size:64"`
	Action         string    `json:"action" gorm:"size:64"`
	Timestamp      time.Time `json:"timestamp" gorm:"index"`
	RemainingCalls int64     `json:"remaining_calls"`
	Status         LogStatus `json:"status" gorm:"size:16;index"`
	DelayMs        int64     `json:"delay_ms"`
}

// TableName keeps the audit table name stable across gorm versions.
func (RateLimitLogEntry) TableName() string { return "rate_limit_log" }

// AccountUsage is one row of the top-users aggregate.
type AccountUsage struct {
	AccountID  string `json:"account_id"`
	TotalCalls int64  `json:"total_calls"`
}
