package models

import "time"

// WindowStatus is the lifecycle state of a global quota window.
type WindowStatus string

const (
	// WindowStatusActive means the window covers the current hour.
	WindowStatusActive WindowStatus = "active"

	// WindowStatusCompleted means the window is in the past and read-only.
	WindowStatusCompleted WindowStatus = "completed"
)

// RateLimitWindow is the application-wide hourly aggregate protecting the
// provider's app-level ceiling across all accounts.
type RateLimitWindow struct {
	WindowStart       time.Time    `json:"window_start"`
	WindowEnd         time.Time    `json:"window_end"`
	GlobalCalls       int64        `json:"global_calls"`
	AppLimit          int64        `json:"app_limit"`
	AccountsProcessed int64        `json:"accounts_processed"`
	Status            WindowStatus `json:"status"`
}
