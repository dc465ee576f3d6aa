package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies the kind of deferred social-media action.
type ActionType string

const (
	// ActionTypeReply is a public reply to a comment.
	ActionTypeReply ActionType = "reply"

	// ActionTypeDirectMessage is a private direct message.
	ActionTypeDirectMessage ActionType = "dm"
)

// Valid reports whether the action type is one the subsystem knows.
func (a ActionType) Valid() bool {
	switch a {
	case ActionTypeReply, ActionTypeDirectMessage:
		return true
	}
	return false
}

// ReplyPayload is the typed shape behind an ActionTypeReply payload. The
// core never inspects it; it exists for callers and the executor.
type ReplyPayload struct {
	CommentID string `json:"comment_id"`
	Text      string `json:"text"`
}

// DirectMessagePayload is the typed shape behind an ActionTypeDirectMessage
// payload.
type DirectMessagePayload struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

// DecodePayload unmarshals a raw payload into its typed form by action type.
func DecodePayload(actionType ActionType, raw json.RawMessage) (interface{}, error) {
	switch actionType {
	case ActionTypeReply:
		var p ReplyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case ActionTypeDirectMessage:
		var p DirectMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	return nil, fmt.Errorf("unknown action type %q", actionType)
}

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	// QueueStatusQueued means the item is waiting for admission headroom.
	QueueStatusQueued QueueStatus = "QUEUED"

	// QueueStatusProcessing means a processor run has claimed the item.
	QueueStatusProcessing QueueStatus = "PROCESSING"

	// QueueStatusCompleted is terminal: the action executed successfully.
	QueueStatusCompleted QueueStatus = "COMPLETED"

	// QueueStatusFailed is terminal: execution failed or the retry cap hit.
	QueueStatusFailed QueueStatus = "FAILED"
)

// Terminal reports whether no further transitions are permitted.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// QueueItem is one durable deferred action. The payload is opaque to the
// core; only the executor interprets it.
type QueueItem struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	AccountID   string          `json:"account_id" gorm:"index;size:64"`
	OwnerID     string          `json:"owner_id" gorm:"index;size:64"`
	ActionType  ActionType      `json:"action_type" gorm:"size:16"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority" gorm:"index:idx_queue_drain,priority:2"`
	Status      QueueStatus     `json:"status" gorm:"size:16;index:idx_queue_drain,priority:1"`
	WindowLabel string          `json:"window_label" gorm:"size:8;index"`
	Position    int             `json:"position" gorm:"index:idx_queue_drain,priority:3"`

	RetryCount        int       `json:"retry_count"`
	OriginalTimestamp time.Time `json:"original_timestamp"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// TableName keeps the queue table name stable across gorm versions.
func (QueueItem) TableName() string { return "queue_items" }

// WindowLabelAt derives the hour-bucket label ("14-15") for an instant.
// Labels are computed in UTC so that every process derives the same bucket.
func WindowLabelAt(t time.Time) string {
	h := t.UTC().Hour()
	return fmt.Sprintf("%d-%d", h, (h+1)%24)
}

// EnqueueReceipt is returned to a caller whose denied action was queued.
type EnqueueReceipt struct {
	QueueID      string    `json:"queue_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// QueueStats is a read-only aggregate over queue items.
type QueueStats struct {
	Total            int64            `json:"total"`
	Pending          int64            `json:"pending"`
	Queued           int64            `json:"queued"`
	Processing       int64            `json:"processing"`
	Completed        int64            `json:"completed"`
	Failed           int64            `json:"failed"`
	ByType           map[string]int64 `json:"by_type"`
	ByWindow         map[string]int64 `json:"by_window"`
	AvgProcessingMs  float64          `json:"avg_processing_ms"`
}

// ProcessingSummary aggregates one processor invocation for observability.
type ProcessingSummary struct {
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	RetryLimited int           `json:"retry_limited"`
	Promoted     int64         `json:"promoted"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"duration_ms"`
}
