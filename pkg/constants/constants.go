// Package constants defines system-wide defaults and keys for the reply
// queue service. The rate limit figures are product policy and are only
// defaults here; the effective values always come from configuration.
package constants

import "time"

// Rate limit policy defaults.
const (
	// DefaultHardLimit is the external per-account ceiling per window.
	DefaultHardLimit = 180

	// DefaultBlockThreshold is the soft-block threshold. It sits below the
	// hard limit to leave headroom for in-flight calls.
	DefaultBlockThreshold = 170

	// DefaultBlockDuration is how long a soft block lasts.
	DefaultBlockDuration = 5 * time.Minute

	// DefaultWindowDuration is the rolling per-account window.
	DefaultWindowDuration = time.Hour
)

// Queue policy defaults.
const (
	// DefaultBatchSize bounds one processor invocation.
	DefaultBatchSize = 100

	// DefaultRetentionDays is how long terminal items are kept.
	DefaultRetentionDays = 7

	// DefaultPriority is assigned when the caller does not specify one.
	// Lower numbers are more urgent.
	DefaultPriority = 3
)

// ContextKey is the type for request-scoped context values.
type ContextKey string

const (
	// ContextKeyRequestID carries the request ID through the call chain.
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyAccountID carries the acting account through the call chain.
	ContextKeyAccountID ContextKey = "account_id"
)

// Redis key prefixes.
const (
	// RateLimitKeyPrefix prefixes per-account rate limit records.
	RateLimitKeyPrefix = "ratelimit:acct"

	// AppQuotaKeyPrefix prefixes the global per-hour quota window.
	AppQuotaKeyPrefix = "quota:app"
)
