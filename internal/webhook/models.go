package webhook

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxAttempts is the retry ceiling. A failed event at the ceiling is terminal
// and stays visible for operators.
const MaxAttempts = 3

const SourcePlatform = "platform"

// Event is the durable record of one inbound notification.
type Event struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Source       string          `json:"source" db:"source"`
	EventType    string          `json:"event_type" db:"event_type"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Status       Status          `json:"status" db:"status"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	LastError    string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Exhausted reports a failed event that will not be retried again.
func (e Event) Exhausted() bool {
	return e.Status == StatusFailed && e.AttemptCount >= MaxAttempts
}

// StatusReport is the operator view of a tenant's queue.
type StatusReport struct {
	TenantID  string         `json:"tenant_id"`
	Counts    map[Status]int `json:"counts"`
	Exhausted []Event        `json:"exhausted"`
	// Retryable lists failed events the next sweep will pick up again.
	Retryable   []Event `json:"retryable"`
	MaxAttempts int     `json:"max_attempts"`
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	StaleFailed int `json:"stale_failed"`
	Claimed     int `json:"claimed"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Exhausted   int `json:"exhausted"`
}

var (
	ErrNotFound        = errors.New("webhook: event not found")
	ErrInvalidArgument = errors.New("webhook: invalid argument")
	ErrRetryExhausted  = errors.New("webhook: retry ceiling reached")
	ErrNotRetryable    = errors.New("webhook: event is not in a retryable state")
)
